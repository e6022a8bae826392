// =============================================================================
// 📦 aicflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/aicflow/aicflow/workflow"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		History:   DefaultHistoryConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Nodes:     DefaultNodesConfig(),
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Strategy:     string(workflow.StrategyTopological),
		Fallback:     "none",
		Grouping:     string(workflow.GroupingLayered),
		MaxParallel:  0,
		HistoryLimit: workflow.DefaultHistoryLimit,
		NodeTimeout:  0,
		StrictPorts:  false,
		RateLimit:    0,
		RateBurst:    1,
		Retry: RetryConfig{
			MaxRetries: 0,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Jitter:     true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          false,
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMaxCalls: 3,
			SuccessThreshold: 2,
		},
	}
}

// DefaultHistoryConfig 返回默认执行历史配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Backend: "memory",
		Redis:   DefaultRedisConfig(),
		SQL:     DefaultSQLConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "aicflow:history:",
		TTL:       24 * time.Hour,
		TLS:       false,
	}
}

// DefaultSQLConfig 返回默认 SQL 历史配置
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Driver:          "sqlite",
		DSN:             "aicflow-history.db",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "aicflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "aicflow",
	}
}

// DefaultNodesConfig 返回默认内置节点配置
func DefaultNodesConfig() NodesConfig {
	return NodesConfig{
		HTTP: HTTPNodeConfig{
			Enabled:          true,
			Timeout:          30 * time.Second,
			MaxResponseBytes: 1 << 20,
		},
	}
}
