package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pulse/backend/internal/cache"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/storage"
)

var (
	ErrKeyMalformed = errors.New("API key is malformed")
	ErrKeyNotFound  = errors.New("API key not found")
	ErrKeyRevoked   = errors.New("API key has been revoked")
	ErrKeyExpired   = errors.New("API key has expired")
)

// keyPrefix 所有签发密钥的固定前缀，便于日志与配置中识别
const keyPrefix = "pk_"

// VerifiedKeyCache 已验证密钥的共享缓存（L2，跨实例）
type VerifiedKeyCache interface {
	CacheVerifiedKey(digest string, apiKey *domain.APIKey, ttl time.Duration) error
	GetVerifiedKey(digest string) (*domain.APIKey, error)
	InvalidateVerifiedKey(digest string) error
}

// Service API密钥签发与验证服务
//
// 验证路径：HMAC 摘要定位密钥记录（O(1) 索引查找），bcrypt
// 慢哈希仅在缓存未命中时比对一次，之后结果按摘要缓存。
// 明文密钥只在签发时返回，不落库、不写缓存、不记日志
type Service struct {
	store        storage.Store
	local        *cache.LocalCache // L1 进程内缓存
	shared       VerifiedKeyCache  // L2 跨实例缓存，可为 nil（单机部署）
	digestSecret []byte
	cacheTTL     time.Duration
	metrics      *monitoring.Metrics // 可选，经 SetMetrics 注入
	logger       *zap.Logger
}

// NewService 创建密钥服务
func NewService(
	store storage.Store,
	shared VerifiedKeyCache,
	digestSecret string,
	cacheTTL time.Duration,
	localCacheSize int,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:        store,
		local:        cache.NewLocalCache(localCacheSize, cacheTTL),
		shared:       shared,
		digestSecret: []byte(digestSecret),
		cacheTTL:     cacheTTL,
		logger:       logger,
	}
}

// SetMetrics 注入监控指标，验证缓存命中按 layer 维度计数
func (s *Service) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

func (s *Service) recordCacheHit(layer string) {
	if s.metrics != nil {
		s.metrics.RecordAuthCacheHit(layer)
	}
}

// CreateAPIKeyInput 创建API密钥的输入参数
type CreateAPIKeyInput struct {
	Name        string
	Permissions []domain.Permission
	RateLimit   int            // 每窗口请求数上限，0 表示使用全局默认
	ExpiresIn   *time.Duration // 过期时间（可选）
}

// CreateAPIKey 签发新的API密钥
//
// 返回值中的明文密钥仅此一次可见，调用方必须立即交付给用户
func (s *Service) CreateAPIKey(input CreateAPIKeyInput) (*domain.APIKey, string, error) {
	if input.Name == "" {
		return nil, "", errors.New("key name is required")
	}
	if len(input.Permissions) == 0 {
		input.Permissions = []domain.Permission{domain.PermissionRead}
	}

	rawKey, err := generateRawKey()
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	var expiresAt *time.Time
	if input.ExpiresIn != nil {
		t := time.Now().UTC().Add(*input.ExpiresIn)
		expiresAt = &t
	}

	apiKey := &domain.APIKey{
		ID:          uuid.New().String(),
		Name:        input.Name,
		KeyHash:     string(hash),
		KeyDigest:   s.digest(rawKey),
		KeyPrefix:   displayPrefix(rawKey),
		Permissions: input.Permissions,
		RateLimit:   input.RateLimit,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}

	if err := s.store.SaveAPIKey(apiKey); err != nil {
		return nil, "", err
	}

	s.logger.Info("API key issued",
		zap.String("keyID", apiKey.ID),
		zap.String("name", apiKey.Name),
		zap.String("keyPrefix", apiKey.KeyPrefix))

	return apiKey, rawKey, nil
}

// Authenticate 验证明文密钥并返回密钥记录
//
// 失败原因通过类型化错误区分（ErrKeyNotFound / ErrKeyRevoked /
// ErrKeyExpired），调用方据此决定响应码与日志级别
func (s *Service) Authenticate(rawKey string) (*domain.APIKey, error) {
	if !strings.HasPrefix(rawKey, keyPrefix) {
		return nil, ErrKeyMalformed
	}

	digest := s.digest(rawKey)

	// L1: 进程内缓存
	if cached, ok := s.local.Get(digest); ok {
		s.recordCacheHit("local")
		return s.checkStatus(cached.(*domain.APIKey))
	}

	// L2: 共享缓存
	if s.shared != nil {
		if apiKey, err := s.shared.GetVerifiedKey(digest); err == nil {
			s.recordCacheHit("shared")
			s.local.Set(digest, apiKey, s.cacheTTL)
			return s.checkStatus(apiKey)
		}
	}

	// 摘要索引定位记录，bcrypt 只比对这一条
	apiKey, err := s.store.GetAPIKeyByDigest(digest)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(apiKey.KeyHash), []byte(rawKey)); err != nil {
		return nil, ErrKeyNotFound
	}

	// 仅缓存通过慢校验的密钥
	s.local.Set(digest, apiKey, s.cacheTTL)
	if s.shared != nil {
		if err := s.shared.CacheVerifiedKey(digest, apiKey, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache verified key", zap.Error(err))
		}
	}

	// 最后使用时间为尽力更新，失败不影响验证结果
	if err := s.store.UpdateAPIKeyLastUsed(apiKey.ID); err != nil {
		s.logger.Warn("failed to update key last used time",
			zap.String("keyID", apiKey.ID), zap.Error(err))
	}

	return s.checkStatus(apiKey)
}

// checkStatus 检查密钥的启用与过期状态
func (s *Service) checkStatus(apiKey *domain.APIKey) (*domain.APIKey, error) {
	if !apiKey.IsActive {
		return nil, ErrKeyRevoked
	}
	if apiKey.IsExpired(time.Now().UTC()) {
		return nil, ErrKeyExpired
	}
	return apiKey, nil
}

// GetAPIKey 获取密钥记录
func (s *Service) GetAPIKey(id string) (*domain.APIKey, error) {
	apiKey, err := s.store.GetAPIKey(id)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return apiKey, nil
}

// ListAPIKeys 列出所有密钥记录
func (s *Service) ListAPIKeys() ([]*domain.APIKey, error) {
	return s.store.ListAPIKeys()
}

// UpdateAPIKeyInput 更新API密钥的输入参数，nil 字段保持不变
type UpdateAPIKeyInput struct {
	Name        *string
	Permissions []domain.Permission
	RateLimit   *int
}

// UpdateAPIKey 更新密钥属性并使验证缓存失效
//
// 权限或限流配置变更后，下一次验证会重新读取存储，
// 后续请求立即按新配置执行
func (s *Service) UpdateAPIKey(id string, input UpdateAPIKeyInput) (*domain.APIKey, error) {
	apiKey, err := s.GetAPIKey(id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		apiKey.Name = *input.Name
	}
	if input.Permissions != nil {
		apiKey.Permissions = input.Permissions
	}
	if input.RateLimit != nil {
		apiKey.RateLimit = *input.RateLimit
	}

	if err := s.store.UpdateAPIKey(apiKey); err != nil {
		return nil, err
	}

	s.invalidate(apiKey.KeyDigest)
	return apiKey, nil
}

// RevokeAPIKey 撤销密钥
//
// 撤销后验证缓存立即失效，已建立的连接由调用方负责断开
func (s *Service) RevokeAPIKey(id string) error {
	apiKey, err := s.GetAPIKey(id)
	if err != nil {
		return err
	}

	apiKey.IsActive = false
	if err := s.store.UpdateAPIKey(apiKey); err != nil {
		return err
	}

	s.invalidate(apiKey.KeyDigest)

	s.logger.Info("API key revoked",
		zap.String("keyID", apiKey.ID),
		zap.String("keyPrefix", apiKey.KeyPrefix))
	return nil
}

// invalidate 清除摘要对应的全部验证缓存
func (s *Service) invalidate(digest string) {
	s.local.Delete(digest)
	if s.shared != nil {
		if err := s.shared.InvalidateVerifiedKey(digest); err != nil {
			s.logger.Warn("failed to invalidate verified key cache", zap.Error(err))
		}
	}
}

// digest 计算明文密钥的HMAC-SHA256摘要（十六进制）
func (s *Service) digest(rawKey string) string {
	mac := hmac.New(sha256.New, s.digestSecret)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// generateRawKey 生成一个安全的随机API密钥
//
// 格式: pk_ + 43字符 base64url（32字节随机数据）
func generateRawKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(bytes), nil
}

// displayPrefix 截取用于展示识别的密钥前缀
func displayPrefix(rawKey string) string {
	if len(rawKey) > 11 {
		return rawKey[:11]
	}
	return rawKey
}
