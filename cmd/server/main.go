package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pulse/backend/internal/alert"
	"pulse/backend/internal/auth"
	"pulse/backend/internal/broker"
	"pulse/backend/internal/config"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/health"
	"pulse/backend/internal/ingest"
	"pulse/backend/internal/logger"
	"pulse/backend/internal/monitoring"
	"pulse/backend/internal/pool"
	"pulse/backend/internal/ratelimit"
	"pulse/backend/internal/storage"
	"pulse/backend/internal/storage/memory"
	redisstore "pulse/backend/internal/storage/redis"
	sqlstore "pulse/backend/internal/storage/sql"
	httptransport "pulse/backend/internal/transport/http"
	"pulse/backend/internal/websocket"
)

// main 启动遥测摄入与实时分发服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting pulse server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		sqlStore, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		store = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore(0)
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化 Redis 缓存（验证缓存、限流计数、聚合缓存）
	// 连接失败时降级为进程内实现，单机部署可继续工作
	var redisCache *redisstore.Cache
	cache, err := redisstore.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-process cache and rate limiting",
			zap.String("address", cfg.Redis.Address),
			zap.Error(err))
	} else {
		redisCache = cache
		defer redisCache.Close()
		log.Info("redis cache initialized", zap.String("address", cfg.Redis.Address))
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	var cachePinger health.Pinger
	if redisCache != nil {
		cachePinger = redisCache
	}
	healthChecker := health.NewHealthChecker(store, cachePinger, log)

	// 初始化消息代理
	msgBroker, err := newBroker(cfg, redisCache, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize broker: %v", err))
	}
	defer msgBroker.Close()
	log.Info("message broker initialized", zap.String("driver", cfg.Broker.Driver))

	// 初始化认证服务
	var sharedCache auth.VerifiedKeyCache
	if redisCache != nil {
		sharedCache = redisCache
	}
	authService := auth.NewService(
		store,
		sharedCache,
		cfg.Auth.DigestSecret,
		cfg.Auth.CacheTTL,
		cfg.Auth.LocalCacheSize,
		log,
	)
	authService.SetMetrics(metrics)
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)

	// 初始化限流器：Redis 可用时用共享滑动窗口，否则进程内
	var innerLimiter ratelimit.Limiter
	if redisCache != nil {
		innerLimiter = ratelimit.NewRedisLimiter(redisCache.Client())
	} else {
		innerLimiter = ratelimit.NewLocalLimiter()
	}
	limiter := ratelimit.NewFailPolicy(innerLimiter, cfg.RateLimit.FailOpen, log)

	// 初始化摄入服务
	ingestService := ingest.NewService(store, msgBroker, metrics, log)
	if redisCache != nil {
		ingestService.SetAggregateCache(redisCache, 30*time.Second)
	}

	// 初始化告警系统
	alertService := alert.NewService(store, log)
	notifier := alert.NewNotifier(
		cfg.Alert.ActionTimeout,
		cfg.Alert.ActionRetries,
		cfg.Alert.WebhookSecret,
		alert.SMTPConfig{
			Addr:     cfg.SMTP.Address,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		},
		metrics,
		log,
	)
	workers := pool.NewWorkerPool(cfg.Alert.Workers, cfg.Alert.Workers*4, log)
	engine := alert.NewEngine(store, msgBroker, notifier, workers, cfg.Alert.TickInterval, metrics, log)

	// 创建 WebSocket Hub 与总线桥
	wsHub := websocket.NewHub(
		cfg.WebSocket,
		cfg.CORS.AllowedOrigins,
		tokenManager,
		authService,
		ingestService,
		metrics,
		log,
	)
	bridge := websocket.NewBridge(wsHub, msgBroker, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		IngestService: ingestService,
		AlertService:  alertService,
		AuthService:   authService,
		TokenManager:  tokenManager,
		Limiter:       limiter,
		WebSocketHub:  wsHub,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		wsHub.Run(groupCtx)
		return nil
	})

	// 总线桥 goroutine：把代理消息转发给本地 WebSocket 客户端
	group.Go(func() error {
		return bridge.Run(groupCtx,
			domain.ChannelEvents,
			domain.ChannelMetrics,
			domain.ChannelAlerts,
			domain.ChannelSystemStatus,
			domain.ChannelSystemNotices,
		)
	})

	// 告警引擎 goroutine
	group.Go(func() error {
		return engine.Run(groupCtx)
	})

	// 优雅停机 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}

// newBroker 按配置创建消息代理
func newBroker(cfg *config.Config, redisCache *redisstore.Cache, log *zap.Logger) (broker.Broker, error) {
	switch cfg.Broker.Driver {
	case "redis":
		if redisCache == nil {
			log.Warn("redis broker configured but redis unavailable, using in-process broker")
			return broker.NewMemoryBroker(), nil
		}
		return broker.NewRedisBroker(redisCache.Client(), log), nil
	case "kafka":
		groupID := cfg.Broker.KafkaGroupID
		if groupID == "" {
			groupID = "pulse-hub"
		}
		return broker.NewKafkaBroker(cfg.Broker.KafkaBrokers, groupID, cfg.Broker.TopicPrefix, log), nil
	case "memory":
		return broker.NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unsupported broker driver: %s", cfg.Broker.Driver)
	}
}
