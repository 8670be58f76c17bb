package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pulse/backend/internal/domain"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// StreamClaims WebSocket 接入令牌的自定义声明
//
// 浏览器的 WebSocket API 无法携带自定义请求头，客户端先用
// API 密钥换取短时效令牌，再把令牌放在握手 URL 的 query 上
type StreamClaims struct {
	KeyID       string              `json:"key_id"`
	Permissions []domain.Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// StreamToken 签发的接入令牌
type StreamToken struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // 秒
}

// TokenManager WebSocket 接入令牌管理器
type TokenManager struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(secret, issuer string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}
}

// IssueStreamToken 为已验证的API密钥签发接入令牌
//
// 令牌只携带密钥ID与签发时刻的权限快照，短时效降低
// 泄露后的可用窗口
func (m *TokenManager) IssueStreamToken(apiKey *domain.APIKey) (*StreamToken, error) {
	now := time.Now()

	claims := StreamClaims{
		KeyID:       apiKey.ID,
		Permissions: apiKey.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   apiKey.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign stream token: %w", err)
	}

	return &StreamToken{
		Token:     signed,
		ExpiresIn: int64(m.expiry.Seconds()),
	}, nil
}

// ValidateStreamToken 验证接入令牌并返回声明
func (m *TokenManager) ValidateStreamToken(tokenString string) (*StreamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
