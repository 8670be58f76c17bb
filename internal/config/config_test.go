package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"PULSE_AUTH_DIGEST_SECRET",
		"PULSE_JWT_SECRET",
		"PULSE_SERVER_HOST",
		"PULSE_SERVER_PORT",
		"PULSE_BROKER_DRIVER",
		"PULSE_RATELIMIT_DEFAULT_LIMIT",
		"PULSE_RATELIMIT_WINDOW",
		"PULSE_RATELIMIT_FAIL_OPEN",
		"PULSE_ALERT_TICK_INTERVAL",
		"PULSE_WEBSOCKET_HEARTBEAT_INTERVAL",
		"PULSE_WEBSOCKET_MAX_CONNECTIONS",
		"PULSE_LOG_LEVEL",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	setSecrets := func() {
		os.Setenv("PULSE_AUTH_DIGEST_SECRET", "test-digest-secret-for-development-32-chars")
		os.Setenv("PULSE_JWT_SECRET", "test-jwt-secret-key-for-development-32-chars")
	}

	t.Run("加载默认配置成功", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		setSecrets()

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
		assert.Equal(t, "redis", cfg.Broker.Driver)
		assert.Equal(t, 600, cfg.RateLimit.DefaultLimit)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window)
		assert.True(t, cfg.RateLimit.FailOpen)
		assert.Equal(t, 60*time.Second, cfg.Alert.TickInterval)
		assert.Equal(t, 4, cfg.Alert.Workers)
		assert.Equal(t, 30*time.Second, cfg.WebSocket.HeartbeatInterval)
		assert.Equal(t, 10000, cfg.WebSocket.MaxConnections)
		assert.Equal(t, 5*time.Minute, cfg.Auth.CacheTTL)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "pulse", cfg.JWT.Issuer)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		setSecrets()
		os.Setenv("PULSE_SERVER_HOST", "127.0.0.1")
		os.Setenv("PULSE_SERVER_PORT", "9090")
		os.Setenv("PULSE_BROKER_DRIVER", "kafka")
		os.Setenv("PULSE_RATELIMIT_DEFAULT_LIMIT", "100")
		os.Setenv("PULSE_RATELIMIT_WINDOW", "30s")
		os.Setenv("PULSE_RATELIMIT_FAIL_OPEN", "false")
		os.Setenv("PULSE_ALERT_TICK_INTERVAL", "15s")
		os.Setenv("PULSE_WEBSOCKET_MAX_CONNECTIONS", "500")
		os.Setenv("PULSE_LOG_LEVEL", "debug")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "kafka", cfg.Broker.Driver)
		assert.Equal(t, 100, cfg.RateLimit.DefaultLimit)
		assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
		assert.False(t, cfg.RateLimit.FailOpen)
		assert.Equal(t, 15*time.Second, cfg.Alert.TickInterval)
		assert.Equal(t, 500, cfg.WebSocket.MaxConnections)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("摘要密钥太短失败", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("PULSE_AUTH_DIGEST_SECRET", "short")
		os.Setenv("PULSE_JWT_SECRET", "test-jwt-secret-key-for-development-32-chars")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "digest secret must be at least 32 characters")
	})

	t.Run("JWT密钥太短失败", func(t *testing.T) {
		setSecrets()
		os.Setenv("PULSE_JWT_SECRET", "short-key")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "JWT secret must be at least 32 characters")
	})

	t.Run("不支持的broker类型失败", func(t *testing.T) {
		setSecrets()
		os.Setenv("PULSE_BROKER_DRIVER", "rabbitmq")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "unsupported broker.driver")
		os.Unsetenv("PULSE_BROKER_DRIVER")
	})

	t.Run("无效的窗口格式失败", func(t *testing.T) {
		setSecrets()
		os.Setenv("PULSE_RATELIMIT_WINDOW", "invalid-duration")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid ratelimit.window")
		os.Unsetenv("PULSE_RATELIMIT_WINDOW")
	})
}

func TestParseList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "单个项目",
			input:    "item1",
			expected: []string{"item1"},
		},
		{
			name:     "多个项目",
			input:    "item1,item2,item3",
			expected: []string{"item1", "item2", "item3"},
		},
		{
			name:     "带空格的项目",
			input:    " item1 , item2 , item3 ",
			expected: []string{"item1", "item2", "item3"},
		},
		{
			name:     "空字符串",
			input:    "",
			expected: []string{},
		},
		{
			name:     "只有逗号",
			input:    ",,,",
			expected: []string{},
		},
		{
			name:     "混合空值",
			input:    "item1,,item2,",
			expected: []string{"item1", "item2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := parseList(tc.input)
			assert.Equal(t, tc.expected, result)
		})
	}
}
