// =============================================================================
// 📦 GateFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:         DefaultServerConfig(),
		Providers:      map[string]ProviderConfig{},
		Policies:       map[string]PolicyConfig{},
		Autoscaling:    DefaultAutoscalingConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Bulkhead:       DefaultBulkheadConfig(),
		Redis:          DefaultRedisConfig(),
		Log:            DefaultLogConfig(),
		Telemetry:      DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultAutoscalingConfig 返回默认准入配置
func DefaultAutoscalingConfig() AutoscalingConfig {
	return AutoscalingConfig{
		RequestsPerMinute:  100,
		RequestsPerHour:    1000,
		CheapFallbackModel: "gpt-4o-mini",
		EmergencyEndpoints: []string{"/v1/chat/completions"},
		TokenBudgetDaily:   0,
		SpikeMultiplier:    2,
		SpikeWindowSeconds: 60,
	}
}

// DefaultCircuitBreakerConfig 返回默认熔断器参数
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:       5,
		RecoveryTimeoutSeconds: 60,
		SuccessThreshold:       3,
	}
}

// DefaultBulkheadConfig 返回默认舱壁配置
func DefaultBulkheadConfig() BulkheadConfig {
	return BulkheadConfig{
		DefaultMaxConcurrent: 10,
		PerProvider:          map[string]int{},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "gateflow",
		SampleRate:   1.0,
	}
}
