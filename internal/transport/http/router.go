package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulse/backend/internal/alert"
	"pulse/backend/internal/auth"
	"pulse/backend/internal/config"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/health"
	"pulse/backend/internal/ingest"
	"pulse/backend/internal/middleware"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/ratelimit"
	"pulse/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	IngestService *ingest.Service
	AlertService  *alert.Service
	AuthService   *auth.Service
	TokenManager  *auth.TokenManager
	Limiter       ratelimit.Limiter
	WebSocketHub  *websocket.Hub
	HealthChecker *health.HealthChecker
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitoringMW.PanicRecovery())
	router.Use(monitoringMW.HTTPMetrics())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	telemetryHandler := NewTelemetryHandler(deps.IngestService)
	alertRuleHandler := NewAlertRuleHandler(deps.AlertService)
	apiKeyHandler := NewAPIKeyHandler(deps.AuthService)
	streamHandler := NewStreamHandler(deps.TokenManager)

	// 创建中间件
	apiKeyAuth := middleware.NewAPIKeyAuth(deps.AuthService, deps.Metrics)
	rateLimit := middleware.NewRateLimitMiddleware(
		deps.Limiter,
		deps.Config.RateLimit.DefaultLimit,
		deps.Config.RateLimit.Window,
		deps.Metrics,
	)

	// 健康检查与指标
	router.GET("/healthz", gin.WrapF(deps.HealthChecker.LiveHandler()))
	router.GET("/readyz", gin.WrapF(deps.HealthChecker.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Telemetry Routes（写入需要 write 权限） ==========
		v1.POST("/events",
			apiKeyAuth.RequireAPIKey(domain.PermissionWrite), rateLimit.Limit(),
			telemetryHandler.CreateEvent)
		v1.POST("/events/batch",
			apiKeyAuth.RequireAPIKey(domain.PermissionWrite), rateLimit.Limit(),
			telemetryHandler.CreateEvents)
		v1.POST("/metrics",
			apiKeyAuth.RequireAPIKey(domain.PermissionWrite), rateLimit.Limit(),
			telemetryHandler.CreateMetric)
		v1.POST("/metrics/batch",
			apiKeyAuth.RequireAPIKey(domain.PermissionWrite), rateLimit.Limit(),
			telemetryHandler.CreateMetrics)

		// ========== Query Routes（查询需要 read 权限） ==========
		v1.GET("/events",
			apiKeyAuth.RequireAPIKey(domain.PermissionRead), rateLimit.Limit(),
			telemetryHandler.ListEvents)
		v1.GET("/metrics",
			apiKeyAuth.RequireAPIKey(domain.PermissionRead), rateLimit.Limit(),
			telemetryHandler.ListMetrics)
		v1.GET("/metrics/aggregate",
			apiKeyAuth.RequireAPIKey(domain.PermissionRead), rateLimit.Limit(),
			telemetryHandler.AggregateMetrics)

		// ========== Alert Routes（规则管理需要 admin 权限） ==========
		alertRoutes := v1.Group("/alerts")
		{
			alertRoutes.POST("/rules",
				apiKeyAuth.RequireAPIKey(domain.PermissionAdmin), rateLimit.Limit(),
				alertRuleHandler.CreateRule)
			alertRoutes.GET("/rules",
				apiKeyAuth.RequireAPIKey(domain.PermissionRead), rateLimit.Limit(),
				alertRuleHandler.ListRules)
			alertRoutes.GET("/rules/:id",
				apiKeyAuth.RequireAPIKey(domain.PermissionRead), rateLimit.Limit(),
				alertRuleHandler.GetRule)
			alertRoutes.PUT("/rules/:id",
				apiKeyAuth.RequireAPIKey(domain.PermissionAdmin), rateLimit.Limit(),
				alertRuleHandler.UpdateRule)
			alertRoutes.DELETE("/rules/:id",
				apiKeyAuth.RequireAPIKey(domain.PermissionAdmin), rateLimit.Limit(),
				alertRuleHandler.DeleteRule)
			alertRoutes.GET("/instances",
				apiKeyAuth.RequireAPIKey(domain.PermissionRead), rateLimit.Limit(),
				alertRuleHandler.ListInstances)
			alertRoutes.POST("/instances/:id/resolve",
				apiKeyAuth.RequireAPIKey(domain.PermissionAdmin), rateLimit.Limit(),
				alertRuleHandler.ResolveInstance)
		}

		// ========== API Key Routes（管理需要 admin 权限） ==========
		apiKeyRoutes := v1.Group("/api-keys")
		apiKeyRoutes.Use(apiKeyAuth.RequireAPIKey(domain.PermissionAdmin), rateLimit.Limit())
		{
			apiKeyRoutes.POST("", apiKeyHandler.CreateAPIKey)
			apiKeyRoutes.GET("", apiKeyHandler.ListAPIKeys)
			apiKeyRoutes.GET("/:id", apiKeyHandler.GetAPIKey)
			apiKeyRoutes.PATCH("/:id", apiKeyHandler.UpdateAPIKey)
			apiKeyRoutes.DELETE("/:id", apiKeyHandler.RevokeAPIKey)
		}

		// ========== Stream Routes ==========
		v1.POST("/stream/token",
			apiKeyAuth.RequireAPIKey(domain.PermissionRead), rateLimit.Limit(),
			streamHandler.CreateStreamToken)
		if deps.WebSocketHub != nil {
			v1.GET("/stream", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
