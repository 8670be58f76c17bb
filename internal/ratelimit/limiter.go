package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result 单次限流判定结果
type Result struct {
	Allowed   bool      // 是否放行
	Limit     int       // 本次判定使用的上限
	Remaining int       // 窗口内剩余配额
	ResetAt   time.Time // 最早一条记录滑出窗口的时刻
}

// Limiter 滑动窗口限流器
//
// principal 是限流主体（API密钥ID或客户端IP），limit 为窗口内
// 允许的请求数。被拒绝的请求不计入窗口
type Limiter interface {
	Check(ctx context.Context, principal string, limit int, window time.Duration) (*Result, error)
}

// ========== 本地限流器 ==========

// LocalLimiter 进程内滑动窗口限流器
//
// 每个主体保存窗口内的请求时间戳，判定时先剔除过期记录。
// 单机部署或 Redis 不可用时使用
type LocalLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewLocalLimiter 创建本地限流器
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		windows: make(map[string][]time.Time),
	}
}

// Check 执行滑动窗口判定
func (l *LocalLimiter) Check(ctx context.Context, principal string, limit int, window time.Duration) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	// 剔除滑出窗口的记录
	timestamps := l.windows[principal]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	result := &Result{Limit: limit}

	if len(valid) >= limit {
		l.windows[principal] = valid
		result.ResetAt = valid[0].Add(window)
		return result, nil
	}

	// 放行的请求记入窗口
	valid = append(valid, now)
	l.windows[principal] = valid

	result.Allowed = true
	result.Remaining = limit - len(valid)
	result.ResetAt = valid[0].Add(window)
	return result, nil
}

// Sweep 清理所有已空的窗口，由调用方定期执行
func (l *LocalLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now()
	for principal, timestamps := range l.windows {
		empty := true
		for _, ts := range timestamps {
			if ts.Add(time.Hour).After(cutoff) {
				empty = false
				break
			}
		}
		if empty {
			delete(l.windows, principal)
		}
	}
}

// ========== 降级策略包装 ==========

// FailPolicy 限流后端故障时的降级策略包装
//
// failOpen 为 true 时后端出错放行请求（可用性优先），
// 为 false 时拒绝请求（配额保护优先）。两种情况都记录日志
type FailPolicy struct {
	inner    Limiter
	failOpen bool
	logger   *zap.Logger
}

// NewFailPolicy 创建降级策略包装
func NewFailPolicy(inner Limiter, failOpen bool, logger *zap.Logger) *FailPolicy {
	return &FailPolicy{
		inner:    inner,
		failOpen: failOpen,
		logger:   logger,
	}
}

// Check 执行限流判定，后端出错时按策略降级
func (f *FailPolicy) Check(ctx context.Context, principal string, limit int, window time.Duration) (*Result, error) {
	result, err := f.inner.Check(ctx, principal, limit, window)
	if err == nil {
		return result, nil
	}

	f.logger.Error("rate limiter backend failed",
		zap.String("principal", principal),
		zap.Bool("failOpen", f.failOpen),
		zap.Error(err))

	return &Result{
		Allowed:   f.failOpen,
		Limit:     limit,
		Remaining: 0,
		ResetAt:   time.Now().Add(window),
	}, nil
}
