package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse/backend/internal/domain"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/storage/memory"
)

const testDigestSecret = "test-digest-secret-0123456789abcdef"

// promauto 注册在默认 registry 上，整个测试包共用一份
var testMetrics = monitoring.NewMetrics()

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := memory.NewStore(0)
	return NewService(store, nil, testDigestSecret, time.Minute, 100, zap.NewNop())
}

func TestCreateAPIKey(t *testing.T) {
	svc := newTestService(t)

	t.Run("签发密钥成功", func(t *testing.T) {
		apiKey, rawKey, err := svc.CreateAPIKey(CreateAPIKeyInput{
			Name:        "ingest-client",
			Permissions: []domain.Permission{domain.PermissionWrite},
		})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(rawKey, "pk_"))
		assert.Equal(t, rawKey[:11], apiKey.KeyPrefix)
		assert.True(t, apiKey.IsActive)
		// 明文不出现在持久化字段中
		assert.NotContains(t, apiKey.KeyHash, rawKey)
		assert.NotEqual(t, rawKey, apiKey.KeyDigest)
	})

	t.Run("名称为空失败", func(t *testing.T) {
		_, _, err := svc.CreateAPIKey(CreateAPIKeyInput{})
		assert.Error(t, err)
	})

	t.Run("未指定权限时默认只读", func(t *testing.T) {
		apiKey, _, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "viewer"})
		require.NoError(t, err)
		assert.Equal(t, []domain.Permission{domain.PermissionRead}, apiKey.Permissions)
	})
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)

	apiKey, rawKey, err := svc.CreateAPIKey(CreateAPIKeyInput{
		Name:        "dashboard",
		Permissions: []domain.Permission{domain.PermissionRead},
	})
	require.NoError(t, err)

	t.Run("验证成功", func(t *testing.T) {
		got, err := svc.Authenticate(rawKey)
		require.NoError(t, err)
		assert.Equal(t, apiKey.ID, got.ID)
	})

	t.Run("缓存命中后再次验证成功", func(t *testing.T) {
		got, err := svc.Authenticate(rawKey)
		require.NoError(t, err)
		assert.Equal(t, apiKey.ID, got.ID)
	})

	t.Run("格式错误的密钥被拒绝", func(t *testing.T) {
		_, err := svc.Authenticate("not-a-key")
		assert.ErrorIs(t, err, ErrKeyMalformed)
	})

	t.Run("未知密钥被拒绝", func(t *testing.T) {
		_, err := svc.Authenticate("pk_unknown0123456789unknown0123456789unknown")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestAuthenticateCacheHitMetrics(t *testing.T) {
	svc := newTestService(t)
	svc.SetMetrics(testMetrics)

	_, rawKey, err := svc.CreateAPIKey(CreateAPIKeyInput{
		Name:        "metered",
		Permissions: []domain.Permission{domain.PermissionRead},
	})
	require.NoError(t, err)

	t.Run("本地缓存命中被计数", func(t *testing.T) {
		localHits := testMetrics.AuthCacheHits.WithLabelValues("local")
		before := testutil.ToFloat64(localHits)

		// 首次验证走存储，结果进入本地缓存
		_, err := svc.Authenticate(rawKey)
		require.NoError(t, err)
		assert.Equal(t, before, testutil.ToFloat64(localHits))

		// 第二次命中本地缓存
		_, err = svc.Authenticate(rawKey)
		require.NoError(t, err)
		assert.Equal(t, before+1, testutil.ToFloat64(localHits))
	})
}

func TestRevokeAPIKey(t *testing.T) {
	svc := newTestService(t)

	apiKey, rawKey, err := svc.CreateAPIKey(CreateAPIKeyInput{
		Name:        "to-revoke",
		Permissions: []domain.Permission{domain.PermissionWrite},
	})
	require.NoError(t, err)

	// 先验证一次，让结果进入缓存
	_, err = svc.Authenticate(rawKey)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAPIKey(apiKey.ID))

	t.Run("撤销后验证失败且不受缓存影响", func(t *testing.T) {
		_, err := svc.Authenticate(rawKey)
		assert.ErrorIs(t, err, ErrKeyRevoked)
	})

	t.Run("撤销不存在的密钥失败", func(t *testing.T) {
		assert.ErrorIs(t, svc.RevokeAPIKey("missing"), ErrKeyNotFound)
	})
}

func TestAuthenticateExpiredKey(t *testing.T) {
	svc := newTestService(t)

	expiresIn := -time.Hour // 已过期
	_, rawKey, err := svc.CreateAPIKey(CreateAPIKeyInput{
		Name:      "expired",
		ExpiresIn: &expiresIn,
	})
	require.NoError(t, err)

	_, err = svc.Authenticate(rawKey)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

func TestUpdateAPIKey(t *testing.T) {
	svc := newTestService(t)

	apiKey, rawKey, err := svc.CreateAPIKey(CreateAPIKeyInput{
		Name:        "updatable",
		Permissions: []domain.Permission{domain.PermissionRead},
	})
	require.NoError(t, err)

	// 进入缓存
	_, err = svc.Authenticate(rawKey)
	require.NoError(t, err)

	t.Run("权限更新后立即生效", func(t *testing.T) {
		updated, err := svc.UpdateAPIKey(apiKey.ID, UpdateAPIKeyInput{
			Permissions: []domain.Permission{domain.PermissionRead, domain.PermissionWrite},
		})
		require.NoError(t, err)
		assert.True(t, updated.HasPermission(domain.PermissionWrite))

		// 缓存已失效，重新验证得到新权限
		got, err := svc.Authenticate(rawKey)
		require.NoError(t, err)
		assert.True(t, got.HasPermission(domain.PermissionWrite))
	})

	t.Run("限流配置更新", func(t *testing.T) {
		limit := 50
		updated, err := svc.UpdateAPIKey(apiKey.ID, UpdateAPIKeyInput{RateLimit: &limit})
		require.NoError(t, err)
		assert.Equal(t, 50, updated.RateLimit)
	})
}

func TestStreamToken(t *testing.T) {
	manager := NewTokenManager("stream-token-secret-0123456789abcdef", "pulse", 5*time.Minute)

	apiKey := &domain.APIKey{
		ID:          "key-1",
		Permissions: []domain.Permission{domain.PermissionRead},
	}

	t.Run("签发并验证令牌", func(t *testing.T) {
		token, err := manager.IssueStreamToken(apiKey)
		require.NoError(t, err)
		assert.Equal(t, int64(300), token.ExpiresIn)

		claims, err := manager.ValidateStreamToken(token.Token)
		require.NoError(t, err)
		assert.Equal(t, "key-1", claims.KeyID)
		assert.Equal(t, apiKey.Permissions, claims.Permissions)
	})

	t.Run("篡改的令牌被拒绝", func(t *testing.T) {
		token, err := manager.IssueStreamToken(apiKey)
		require.NoError(t, err)

		_, err = manager.ValidateStreamToken(token.Token + "x")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("过期的令牌被拒绝", func(t *testing.T) {
		expired := NewTokenManager("stream-token-secret-0123456789abcdef", "pulse", -time.Minute)
		token, err := expired.IssueStreamToken(apiKey)
		require.NoError(t, err)

		_, err = manager.ValidateStreamToken(token.Token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("不同密钥签发的令牌被拒绝", func(t *testing.T) {
		other := NewTokenManager("another-token-secret-0123456789abcdef", "pulse", 5*time.Minute)
		token, err := other.IssueStreamToken(apiKey)
		require.NoError(t, err)

		_, err = manager.ValidateStreamToken(token.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
