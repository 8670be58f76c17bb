package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("配额内放行", func(t *testing.T) {
		limiter := NewLocalLimiter()

		for i := 0; i < 3; i++ {
			result, err := limiter.Check(ctx, "key-1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, 2-i, result.Remaining)
		}
	})

	t.Run("超出配额拒绝", func(t *testing.T) {
		limiter := NewLocalLimiter()

		for i := 0; i < 2; i++ {
			_, err := limiter.Check(ctx, "key-1", 2, time.Minute)
			require.NoError(t, err)
		}

		result, err := limiter.Check(ctx, "key-1", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, 0, result.Remaining)
		assert.False(t, result.ResetAt.IsZero())
	})

	t.Run("被拒绝的请求不计入窗口", func(t *testing.T) {
		limiter := NewLocalLimiter()

		_, err := limiter.Check(ctx, "key-1", 1, 50*time.Millisecond)
		require.NoError(t, err)

		// 连续拒绝不会推迟窗口滑出
		for i := 0; i < 5; i++ {
			result, err := limiter.Check(ctx, "key-1", 1, 50*time.Millisecond)
			require.NoError(t, err)
			assert.False(t, result.Allowed)
		}

		time.Sleep(60 * time.Millisecond)

		result, err := limiter.Check(ctx, "key-1", 1, 50*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("不同主体配额独立", func(t *testing.T) {
		limiter := NewLocalLimiter()

		_, err := limiter.Check(ctx, "key-1", 1, time.Minute)
		require.NoError(t, err)

		result, err := limiter.Check(ctx, "key-2", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})
}

// failingLimiter 总是返回错误，用于验证降级策略
type failingLimiter struct{}

func (f *failingLimiter) Check(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("backend unavailable")
}

func TestFailPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("fail-open 时后端故障放行", func(t *testing.T) {
		policy := NewFailPolicy(&failingLimiter{}, true, zap.NewNop())

		result, err := policy.Check(ctx, "key-1", 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("fail-closed 时后端故障拒绝", func(t *testing.T) {
		policy := NewFailPolicy(&failingLimiter{}, false, zap.NewNop())

		result, err := policy.Check(ctx, "key-1", 10, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	})

	t.Run("后端正常时透传结果", func(t *testing.T) {
		policy := NewFailPolicy(NewLocalLimiter(), true, zap.NewNop())

		result, err := policy.Check(ctx, "key-1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1, result.Remaining)
	})
}
