package domain

import "time"

// Permission API密钥权限
type Permission string

const (
	PermissionRead  Permission = "read"  // 读取事件/指标、订阅实时频道
	PermissionWrite Permission = "write" // 写入事件/指标
	PermissionAdmin Permission = "admin" // 管理权限，隐含所有其他权限
)

// APIKey API密钥实体
//
// 明文密钥仅在创建时返回一次，之后只保存慢哈希（bcrypt）与
// 用于索引查找的快速摘要（HMAC-SHA256），明文不落库、不记日志。
type APIKey struct {
	ID          string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name        string       `json:"name" gorm:"type:varchar(100);not null"`
	KeyHash     string       `json:"-" gorm:"column:key_hash;type:varchar(255);not null"`        // bcrypt 慢哈希
	KeyDigest   string       `json:"-" gorm:"column:key_digest;type:varchar(64);uniqueIndex;not null"` // HMAC摘要（索引查找）
	KeyPrefix   string       `json:"keyPrefix" gorm:"type:varchar(16);not null"`                 // 密钥前缀（用于展示识别）
	Permissions []Permission `json:"permissions" gorm:"serializer:json;type:json"`
	RateLimit   int          `json:"rateLimit,omitempty"` // 每窗口请求数上限，0 表示使用全局默认
	IsActive    bool         `json:"isActive"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time   `json:"lastUsedAt,omitempty"`
}

// HasPermission 检查密钥是否具有指定权限
//
// admin 隐含所有权限，其余按精确匹配
func (k *APIKey) HasPermission(required Permission) bool {
	for _, p := range k.Permissions {
		if p == PermissionAdmin || p == required {
			return true
		}
	}
	return false
}

// IsExpired 检查密钥是否已过期
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// TableName GORM表名
func (APIKey) TableName() string {
	return "api_keys"
}
