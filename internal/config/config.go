package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空仅输出到 stdout
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 服务配置（验证缓存、限流计数、发布订阅）
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// BrokerConfig 定义发布订阅消息代理配置
type BrokerConfig struct {
	Driver      string   // 代理类型: "redis"、"kafka" 或 "memory"
	KafkaBrokers []string // Kafka broker 地址列表，仅 driver=kafka 时使用
	KafkaGroupID string   // Kafka 消费组 ID，每个 hub 实例应使用独立消费组
	TopicPrefix  string   // 频道到 topic 的名称前缀，默认 "pulse."
}

// AuthConfig 定义 API 密钥认证配置
type AuthConfig struct {
	DigestSecret string        // HMAC 摘要密钥，用于密钥索引查找，必须至少 32 字符
	CacheTTL     time.Duration // 已验证密钥的缓存时间，默认 5 分钟
	LocalCacheSize int         // 进程内缓存条目上限，默认 1024
}

// RateLimitConfig 定义滑动窗口限流配置
type RateLimitConfig struct {
	DefaultLimit int           // 每窗口默认请求数上限
	Window       time.Duration // 窗口长度，默认 1 分钟
	FailOpen     bool          // 共享计数存储不可用时是否放行（显式策略开关）
}

// AlertConfig 定义告警引擎配置
type AlertConfig struct {
	TickInterval  time.Duration // 规则评估周期，默认 60 秒
	Workers       int           // 并行评估的工作协程数，默认 4
	ActionTimeout time.Duration // 单个动作执行超时，默认 10 秒
	ActionRetries int           // 动作失败重试次数，默认 2
	WebhookSecret string        // webhook 投递签名密钥
}

// WebSocketConfig 定义实时连接中心配置
type WebSocketConfig struct {
	MaxConnections    int           // 最大并发连接数，超出在握手后以专用关闭码拒绝
	HeartbeatInterval time.Duration // 心跳扫描周期 H，超过 2H 未心跳的连接被断开
	SendBuffer        int           // 每连接发送缓冲区大小
	MessageRate       float64       // 每连接入站消息速率上限（条/秒）
	MessageBurst      int           // 入站消息突发上限
}

// JWTConfig 定义 WebSocket 令牌交换配置
//
// 浏览器端无法为 WebSocket 握手设置自定义请求头，客户端先用
// X-API-Key 换取短期 JWT，再以查询参数方式携带
type JWTConfig struct {
	Secret string        // JWT 签名密钥，必须至少 32 字符
	Issuer string        // JWT 签发者标识，默认 "pulse"
	Expiry time.Duration // 令牌有效期，默认 5 分钟
}

// SMTPConfig 定义告警邮件动作的外发配置
type SMTPConfig struct {
	Address  string // SMTP 服务器地址，格式 "host:port"
	Username string
	Password string
	From     string // 发件人地址
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Broker    BrokerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Alert     AlertConfig
	WebSocket WebSocketConfig
	JWT       JWTConfig
	SMTP      SMTPConfig
	CORS      CORSConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//   1. 系统环境变量（最高优先级）
//   2. .env 文件（如果存在）
//   3. 默认值
//
// 环境变量前缀: PULSE_
// 例如: PULSE_SERVER_PORT, PULSE_AUTH_DIGEST_SECRET
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("pulse")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("broker.driver", "redis")
	viper.SetDefault("broker.kafka_brokers", "localhost:9092")
	viper.SetDefault("broker.kafka_group_id", "")
	viper.SetDefault("broker.topic_prefix", "pulse.")
	viper.SetDefault("auth.digest_secret", "")
	viper.SetDefault("auth.cache_ttl", "5m")
	viper.SetDefault("auth.local_cache_size", 1024)
	viper.SetDefault("ratelimit.default_limit", 600)
	viper.SetDefault("ratelimit.window", "1m")
	viper.SetDefault("ratelimit.fail_open", true)
	viper.SetDefault("alert.tick_interval", "60s")
	viper.SetDefault("alert.workers", 4)
	viper.SetDefault("alert.action_timeout", "10s")
	viper.SetDefault("alert.action_retries", 2)
	viper.SetDefault("alert.webhook_secret", "")
	viper.SetDefault("websocket.max_connections", 10000)
	viper.SetDefault("websocket.heartbeat_interval", "30s")
	viper.SetDefault("websocket.send_buffer", 256)
	viper.SetDefault("websocket.message_rate", 20)
	viper.SetDefault("websocket.message_burst", 40)
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.issuer", "pulse")
	viper.SetDefault("jwt.expiry", "5m")
	viper.SetDefault("smtp.address", "")
	viper.SetDefault("smtp.username", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("smtp.from", "alerts@pulse.local")
	viper.SetDefault("cors.allowed_origins", "*")

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cacheTTL, err := time.ParseDuration(viper.GetString("auth.cache_ttl"))
	if err != nil {
		cacheTTL = 5 * time.Minute
	}

	window, err := time.ParseDuration(viper.GetString("ratelimit.window"))
	if err != nil {
		return nil, fmt.Errorf("invalid ratelimit.window: %w", err)
	}

	tickInterval, err := time.ParseDuration(viper.GetString("alert.tick_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid alert.tick_interval: %w", err)
	}

	actionTimeout, err := time.ParseDuration(viper.GetString("alert.action_timeout"))
	if err != nil {
		actionTimeout = 10 * time.Second
	}

	heartbeat, err := time.ParseDuration(viper.GetString("websocket.heartbeat_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid websocket.heartbeat_interval: %w", err)
	}

	jwtExpiry, err := time.ParseDuration(viper.GetString("jwt.expiry"))
	if err != nil {
		jwtExpiry = 5 * time.Minute
	}

	digestSecret := viper.GetString("auth.digest_secret")
	if len(digestSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: auth digest secret must be at least 32 characters long. Please set PULSE_AUTH_DIGEST_SECRET")
	}

	jwtSecret := viper.GetString("jwt.secret")
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long. Please set PULSE_JWT_SECRET")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	brokerDriver := viper.GetString("broker.driver")
	switch brokerDriver {
	case "redis", "kafka", "memory":
	default:
		return nil, fmt.Errorf("unsupported broker.driver: %s (supported: redis, kafka, memory)", brokerDriver)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Broker: BrokerConfig{
			Driver:       brokerDriver,
			KafkaBrokers: parseList(viper.GetString("broker.kafka_brokers")),
			KafkaGroupID: viper.GetString("broker.kafka_group_id"),
			TopicPrefix:  viper.GetString("broker.topic_prefix"),
		},
		Auth: AuthConfig{
			DigestSecret:   digestSecret,
			CacheTTL:       cacheTTL,
			LocalCacheSize: viper.GetInt("auth.local_cache_size"),
		},
		RateLimit: RateLimitConfig{
			DefaultLimit: viper.GetInt("ratelimit.default_limit"),
			Window:       window,
			FailOpen:     viper.GetBool("ratelimit.fail_open"),
		},
		Alert: AlertConfig{
			TickInterval:  tickInterval,
			Workers:       viper.GetInt("alert.workers"),
			ActionTimeout: actionTimeout,
			ActionRetries: viper.GetInt("alert.action_retries"),
			WebhookSecret: viper.GetString("alert.webhook_secret"),
		},
		WebSocket: WebSocketConfig{
			MaxConnections:    viper.GetInt("websocket.max_connections"),
			HeartbeatInterval: heartbeat,
			SendBuffer:        viper.GetInt("websocket.send_buffer"),
			MessageRate:       viper.GetFloat64("websocket.message_rate"),
			MessageBurst:      viper.GetInt("websocket.message_burst"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: viper.GetString("jwt.issuer"),
			Expiry: jwtExpiry,
		},
		SMTP: SMTPConfig{
			Address:  viper.GetString("smtp.address"),
			Username: viper.GetString("smtp.username"),
			Password: viper.GetString("smtp.password"),
			From:     viper.GetString("smtp.from"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在，静默失败（.env 是可选的）；已存在的环境变量
// 不会被覆盖
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
