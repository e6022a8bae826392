// =============================================================================
// 📦 aicflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("aicflow.yaml").
//	    WithEnvPrefix("AICFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 验证器
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aicflow/aicflow/workflow"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 aicflow 的完整配置结构
type Config struct {
	// Engine 执行引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// History 节点执行历史存储配置
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Nodes 内置节点配置
	Nodes NodesConfig `yaml:"nodes" env:"NODES"`
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	// 主策略: topological, branch_tracing
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 回退策略，空或 none 表示不回退
	Fallback string `yaml:"fallback" env:"FALLBACK"`
	// 分组模式: layered, sequential
	Grouping string `yaml:"grouping" env:"GROUPING"`
	// 组内最大并发，0 表示不限制
	MaxParallel int `yaml:"max_parallel" env:"MAX_PARALLEL"`
	// 每个节点保留的执行记录数
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
	// 单次执行器调用超时，0 表示不限制
	NodeTimeout time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
	// 输出端口类型不匹配时是否视为失败
	StrictPorts bool `yaml:"strict_ports" env:"STRICT_PORTS"`
	// 每秒执行器调用上限，0 表示不限流
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 限流突发容量
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
	// 默认重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
	// 熔断配置
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	// 最大重试次数，0 表示不重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 初始退避
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	// 最大退避
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 是否加入随机抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// CircuitBreakerConfig 熔断配置
type CircuitBreakerConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连续失败多少次后熔断
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断后多久进入半开
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	// 半开状态同时在途的最大探测数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
	// 半开状态恢复所需成功次数
	SuccessThreshold int `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
}

// HistoryConfig 执行历史存储配置
type HistoryConfig struct {
	// 后端: memory, redis, sql
	Backend string `yaml:"backend" env:"BACKEND"`
	// Redis 后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// SQL 后端配置
	SQL SQLConfig `yaml:"sql" env:"SQL"`
}

// SQLConfig 关系型数据库配置
type SQLConfig struct {
	// 驱动: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 连接串；sqlite 为文件路径
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大打开连接数（sqlite 固定为 1）
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 历史列表过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 启用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// NodesConfig 内置节点配置
type NodesConfig struct {
	// HTTP 请求节点
	HTTP HTTPNodeConfig `yaml:"http" env:"HTTP"`
}

// HTTPNodeConfig HTTP 节点配置
type HTTPNodeConfig struct {
	// 是否注册内置 HTTP 执行器
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 响应体读取上限（字节）
	MaxResponseBytes int64 `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 运行结束后写出指标的文件路径（Prometheus 文本格式），空表示不写
	OutputPath string `yaml:"output_path" env:"OUTPUT_PATH"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AICFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 Go duration 语法解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if _, err := workflow.ParseStrategy(c.Engine.Strategy); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := workflow.ParseStrategy(c.Engine.Fallback); err != nil {
		errs = append(errs, "fallback: "+err.Error())
	}
	if _, err := workflow.ParseGrouping(c.Engine.Grouping); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Engine.MaxParallel < 0 {
		errs = append(errs, "max_parallel must not be negative")
	}
	if c.Engine.HistoryLimit < 1 {
		errs = append(errs, "history_limit must be positive")
	}
	if c.Engine.NodeTimeout < 0 {
		errs = append(errs, "node_timeout must not be negative")
	}
	if c.Engine.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}
	if c.Engine.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must not be negative")
	}
	if cb := c.Engine.CircuitBreaker; cb.Enabled {
		if cb.FailureThreshold < 1 || cb.HalfOpenMaxCalls < 1 || cb.SuccessThreshold < 1 {
			errs = append(errs, "circuit_breaker thresholds and half_open_max_calls must be positive")
		}
		if cb.RecoveryTimeout <= 0 {
			errs = append(errs, "circuit_breaker.recovery_timeout must be positive")
		}
	}

	switch c.History.Backend {
	case "memory":
	case "redis":
		if c.History.Redis.Addr == "" {
			errs = append(errs, "history.redis.addr is required for the redis backend")
		}
	case "sql":
		switch c.History.SQL.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unknown history.sql.driver %q", c.History.SQL.Driver))
		}
		if c.History.SQL.DSN == "" {
			errs = append(errs, "history.sql.dsn is required for the sql backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown history backend %q", c.History.Backend))
	}

	if c.Nodes.HTTP.Timeout < 0 {
		errs = append(errs, "nodes.http.timeout must not be negative")
	}
	if c.Nodes.HTTP.MaxResponseBytes < 0 {
		errs = append(errs, "nodes.http.max_response_bytes must not be negative")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// InvokerConfig 将引擎配置转换为 workflow.InvokerConfig
func (e EngineConfig) InvokerConfig() workflow.InvokerConfig {
	cfg := workflow.InvokerConfig{
		HistoryLimit: e.HistoryLimit,
		NodeTimeout:  e.NodeTimeout,
		Retry: workflow.RetryPolicy{
			MaxRetries: e.Retry.MaxRetries,
			BaseDelay:  e.Retry.BaseDelay,
			MaxDelay:   e.Retry.MaxDelay,
			Jitter:     e.Retry.Jitter,
		},
		StrictPorts: e.StrictPorts,
		RateLimit:   e.RateLimit,
		RateBurst:   e.RateBurst,
	}
	if e.CircuitBreaker.Enabled {
		cfg.CircuitBreaker = &workflow.CircuitBreakerConfig{
			FailureThreshold: e.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  e.CircuitBreaker.RecoveryTimeout,
			HalfOpenMaxCalls: e.CircuitBreaker.HalfOpenMaxCalls,
			SuccessThreshold: e.CircuitBreaker.SuccessThreshold,
		}
	}
	return cfg
}

// OrchestratorOptions 将引擎配置转换为编排器选项
func (e EngineConfig) OrchestratorOptions() ([]workflow.Option, error) {
	strategy, err := workflow.ParseStrategy(e.Strategy)
	if err != nil {
		return nil, err
	}
	grouping, err := workflow.ParseGrouping(e.Grouping)
	if err != nil {
		return nil, err
	}
	fallback, err := workflow.ParseStrategy(e.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return []workflow.Option{
		workflow.WithStrategy(strategy),
		workflow.WithFallback(fallback),
		workflow.WithGrouping(grouping),
		workflow.WithMaxParallel(e.MaxParallel),
	}, nil
}
