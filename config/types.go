// =============================================================================
// 📦 GateFlow 配置结构
// =============================================================================
// 网关的完整配置面：Provider 清单、路由策略、准入限流、熔断与舱壁参数、
// 共享状态存储以及日志/遥测等环境配置。密钥永远不进配置文件，只记录
// 环境变量名，由工厂在启动时解析。
// =============================================================================
package config

import "time"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 GateFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Providers 后端 Provider 清单，键为 Provider ID
	Providers map[string]ProviderConfig `yaml:"providers" env:"-"`

	// Policies 路由策略清单，键为策略名
	Policies map[string]PolicyConfig `yaml:"policies" env:"-"`

	// Autoscaling 准入与降级配置
	Autoscaling AutoscalingConfig `yaml:"autoscaling" env:"AUTOSCALING"`

	// CircuitBreaker 熔断器参数
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`

	// Bulkhead 舱壁并发限制
	Bulkhead BulkheadConfig `yaml:"bulkhead" env:"BULKHEAD"`

	// Redis 共享状态存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// ProviderConfig 单个后端 Provider 的配置
type ProviderConfig struct {
	// 显示名称
	DisplayName string `yaml:"display_name"`
	// 主机标识（如 "api.deepseek.com"）
	Host string `yaml:"host"`
	// API 密钥所在的环境变量名，密钥本身不进配置文件
	APIKeyEnv string `yaml:"api_key_env"`
	// API 根地址
	BaseURL string `yaml:"base_url"`
	// 请求超时（秒）
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// 最大重试次数（由执行层的回退链消费）
	MaxRetries int `yaml:"max_retries"`
	// 输入 token 单价（USD）
	CostPerTokenInput float64 `yaml:"cost_per_token_input"`
	// 输出 token 单价（USD）
	CostPerTokenOutput float64 `yaml:"cost_per_token_output"`
	// 延迟阈值（毫秒），用于推导延迟档位
	LatencyThresholdMs float64 `yaml:"latency_threshold_ms"`
	// 每窗口允许的请求数
	RateLimitRequests int `yaml:"rate_limit_requests"`
	// 限流窗口（秒）
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`
	// 优先级，同分时高者优先
	Priority int `yaml:"priority"`
	// 初始运营状态: active, degraded, maintenance, disabled
	Status string `yaml:"status"`
	// 每模型上下文窗口，键为模型名，零值取 8192
	ContextWindows map[string]int `yaml:"context_windows"`
	// 支持的模型清单
	Models []string `yaml:"models"`
	// 声明的能力: chat, vision, embeddings, code, streaming
	Capabilities []string `yaml:"capabilities"`
}

// PolicyConfig 单条路由策略的配置
type PolicyConfig struct {
	// 策略类型标签（如 "weighted"、"cost_first"）
	Strategy string `yaml:"strategy"`
	// 评分权重，加载后归一化到和为 1
	Weights WeightsConfig `yaml:"weights"`
	// 硬约束
	Constraints ConstraintsConfig `yaml:"constraints"`
	// 回退策略链
	Fallbacks []string `yaml:"fallbacks"`
	// 是否启用
	Enabled bool `yaml:"enabled"`
}

// WeightsConfig 评分因子权重
type WeightsConfig struct {
	Latency     float64 `yaml:"latency"`
	Cost        float64 `yaml:"cost"`
	Reliability float64 `yaml:"reliability"`
	Capability  float64 `yaml:"capability"`
}

// ConstraintsConfig 策略硬约束
type ConstraintsConfig struct {
	// 候选 p95 上限（毫秒），0 表示不限制
	MaxLatencyMs float64 `yaml:"max_latency_ms"`
	// 单请求成本上限（USD），0 表示不限制
	MaxCostPerRequest float64 `yaml:"max_cost_per_request"`
	// 成功率下限，0 表示不限制
	MinSuccessRate float64 `yaml:"min_success_rate"`
}

// AutoscalingConfig 准入与降级配置
type AutoscalingConfig struct {
	// 每客户端每分钟请求上限
	RequestsPerMinute int `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	// 每客户端每小时请求上限
	RequestsPerHour int `yaml:"requests_per_hour" env:"REQUESTS_PER_HOUR"`
	// CHEAP_MODEL 降级时改写的模型
	CheapFallbackModel string `yaml:"cheap_fallback_model" env:"CHEAP_FALLBACK_MODEL"`
	// EMERGENCY 模式下仍然放行的端点
	EmergencyEndpoints []string `yaml:"emergency_endpoints" env:"EMERGENCY_ENDPOINTS"`
	// 每客户端每日 token 预算，0 表示不启用
	TokenBudgetDaily int64 `yaml:"token_budget_daily" env:"TOKEN_BUDGET_DAILY"`
	// 突发检测倍数
	SpikeMultiplier float64 `yaml:"spike_multiplier" env:"SPIKE_MULTIPLIER"`
	// 突发检测窗口（秒）
	SpikeWindowSeconds int `yaml:"spike_window_seconds" env:"SPIKE_WINDOW_SECONDS"`
}

// CircuitBreakerConfig 熔断器参数
type CircuitBreakerConfig struct {
	// 连续失败多少次后熔断
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断后多久允许半开探测（秒）
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds" env:"RECOVERY_TIMEOUT_SECONDS"`
	// 半开状态下连续成功多少次后闭合
	SuccessThreshold int `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
}

// BulkheadConfig 舱壁并发限制
type BulkheadConfig struct {
	// 缺省每 Provider 最大并发
	DefaultMaxConcurrent int `yaml:"default_max_concurrent" env:"DEFAULT_MAX_CONCURRENT"`
	// 按 Provider 覆盖
	PerProvider map[string]int `yaml:"per_provider" env:"-"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址，留空时退化为进程内存储
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
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
