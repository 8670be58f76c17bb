package health

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"pulse/backend/internal/storage"
)

// Pinger 可被健康检查探测的依赖（Redis 缓存等）
type Pinger interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	cache  Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// cache 可为 nil（未启用 Redis 的单机部署）
func NewHealthChecker(store storage.Store, cache Pinger, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		cache:  cache,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储连接检查
	hc.health.AddReadinessCheck("storage", func() error {
		return hc.store.Health()
	})

	// Redis 连接检查（如果启用）
	if hc.cache != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			return hc.cache.Health()
		})
	}

	// goroutine 泄漏检查
	hc.health.AddLivenessCheck("goroutine-threshold",
		healthcheck.GoroutineCountCheck(2000))
}

// LiveHandler 存活探针处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪探针处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行健康检查并返回各依赖状态
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	if hc.cache != nil {
		if err := hc.cache.Health(); err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["redis"] = "OK"
		}
	} else {
		results["redis"] = "NOT_AVAILABLE"
	}

	results["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return results
}
