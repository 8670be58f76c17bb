package sql

import (
	"database/sql"
	"encoding/json"
	"time"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/storage"
)

// ========== APIKey Repository ==========

const apiKeyColumns = `id, name, key_hash, key_digest, key_prefix, permissions, rate_limit, is_active, created_at, expires_at, last_used_at`

// SaveAPIKey 保存API密钥
func (s *Store) SaveAPIKey(key *domain.APIKey) error {
	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.Exec(query,
		key.ID,
		key.Name,
		key.KeyHash,
		key.KeyDigest,
		key.KeyPrefix,
		permissions,
		key.RateLimit,
		key.IsActive,
		key.CreatedAt,
		key.ExpiresAt,
		key.LastUsedAt,
	)
	return err
}

// GetAPIKey 根据ID获取API密钥
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	query := s.rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = ?`)
	return s.scanAPIKey(s.db.QueryRow(query, id))
}

// GetAPIKeyByDigest 根据HMAC摘要获取API密钥
//
// key_digest 列带唯一索引，单次索引查找即可定位密钥
func (s *Store) GetAPIKeyByDigest(digest string) (*domain.APIKey, error) {
	query := s.rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_digest = ?`)
	return s.scanAPIKey(s.db.QueryRow(query, digest))
}

// ListAPIKeys 列出所有API密钥
func (s *Store) ListAPIKeys() ([]*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at ASC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		key, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpdateAPIKey 更新API密钥
func (s *Store) UpdateAPIKey(key *domain.APIKey) error {
	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return err
	}

	query := s.rebind(`
		UPDATE api_keys
		SET name = ?, permissions = ?, rate_limit = ?, is_active = ?, expires_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(query,
		key.Name,
		permissions,
		key.RateLimit,
		key.IsActive,
		key.ExpiresAt,
		key.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrAPIKeyNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed 更新API密钥最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(id string) error {
	query := s.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`)
	result, err := s.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrAPIKeyNotFound
	}
	return nil
}

// scanner 统一 QueryRow 与 Query 的行扫描
type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanAPIKey(row scanner) (*domain.APIKey, error) {
	var key domain.APIKey
	var permissions []byte
	var expiresAt, lastUsedAt sql.NullTime

	err := row.Scan(
		&key.ID,
		&key.Name,
		&key.KeyHash,
		&key.KeyDigest,
		&key.KeyPrefix,
		&permissions,
		&key.RateLimit,
		&key.IsActive,
		&key.CreatedAt,
		&expiresAt,
		&lastUsedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrAPIKeyNotFound
		}
		return nil, err
	}

	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &key.Permissions); err != nil {
			return nil, err
		}
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}

	return &key, nil
}
