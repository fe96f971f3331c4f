// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// 验证准入默认值
	assert.Equal(t, 100, cfg.Autoscaling.RequestsPerMinute)
	assert.Equal(t, 1000, cfg.Autoscaling.RequestsPerHour)
	assert.Equal(t, "gpt-4o-mini", cfg.Autoscaling.CheapFallbackModel)

	// 验证熔断器默认值
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 60, cfg.CircuitBreaker.RecoveryTimeoutSeconds)
	assert.Equal(t, 3, cfg.CircuitBreaker.SuccessThreshold)

	// 验证舱壁与 Redis 默认值
	assert.Equal(t, 10, cfg.Bulkhead.DefaultMaxConcurrent)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// 验证日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Empty(t, cfg.Providers)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s

providers:
  deepseek:
    display_name: "DeepSeek"
    host: "api.deepseek.com"
    api_key_env: "DEEPSEEK_API_KEY"
    base_url: "https://api.deepseek.com"
    timeout_seconds: 30
    cost_per_token_input: 0.00000014
    cost_per_token_output: 0.00000028
    latency_threshold_ms: 2000
    priority: 10
    status: "active"
    models: ["deepseek-chat", "deepseek-reasoner"]
    capabilities: ["chat", "code"]

policies:
  cost_first:
    strategy: "weighted"
    weights:
      latency: 0.1
      cost: 0.6
      reliability: 0.2
      capability: 0.1
    constraints:
      max_cost_per_request: 0.01
    fallbacks: ["default"]
    enabled: true

autoscaling:
  requests_per_minute: 50
  requests_per_hour: 600
  cheap_fallback_model: "deepseek-chat"
  token_budget_daily: 100000

circuit_breaker:
  failure_threshold: 3

bulkhead:
  default_max_concurrent: 5
  per_provider:
    deepseek: 20
`)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	require.Contains(t, cfg.Providers, "deepseek")
	p := cfg.Providers["deepseek"]
	assert.Equal(t, "DEEPSEEK_API_KEY", p.APIKeyEnv)
	assert.Equal(t, []string{"deepseek-chat", "deepseek-reasoner"}, p.Models)
	assert.Equal(t, 10, p.Priority)
	assert.InDelta(t, 0.00000014, p.CostPerTokenInput, 1e-12)

	require.Contains(t, cfg.Policies, "cost_first")
	assert.Equal(t, 0.6, cfg.Policies["cost_first"].Weights.Cost)
	assert.Equal(t, []string{"default"}, cfg.Policies["cost_first"].Fallbacks)

	assert.Equal(t, 50, cfg.Autoscaling.RequestsPerMinute)
	assert.Equal(t, int64(100000), cfg.Autoscaling.TokenBudgetDaily)

	// 文件未覆盖的段保留默认值
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 60, cfg.CircuitBreaker.RecoveryTimeoutSeconds)

	assert.Equal(t, 5, cfg.Bulkhead.DefaultMaxConcurrent)
	assert.Equal(t, 20, cfg.Bulkhead.PerProvider["deepseek"])
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_port: 8888
redis:
  addr: "file-redis:6379"
`)

	t.Setenv("GATEFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("GATEFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("GATEFLOW_AUTOSCALING_TOKEN_BUDGET_DAILY", "50000")
	t.Setenv("GATEFLOW_SERVER_READ_TIMEOUT", "45s")
	t.Setenv("GATEFLOW_AUTOSCALING_EMERGENCY_ENDPOINTS", "/v1/chat, /v1/health")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(50000), cfg.Autoscaling.TokenBudgetDaily)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"/v1/chat", "/v1/health"}, cfg.Autoscaling.EmergencyEndpoints)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("CUSTOM_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("CUSTOM").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [not a mapping")

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/gateflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_CustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			called = true
			return nil
		}).
		Load()
	require.NoError(t, err)
	assert.True(t, called)
}

// --- 验证器测试 ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default config is valid",
			mutate: func(*Config) {},
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 },
			wantErr: "failure_threshold",
		},
		{
			name:    "zero bulkhead max",
			mutate:  func(c *Config) { c.Bulkhead.DefaultMaxConcurrent = 0 },
			wantErr: "default_max_concurrent",
		},
		{
			name:    "minute limit above hour limit",
			mutate:  func(c *Config) { c.Autoscaling.RequestsPerMinute = 2000 },
			wantErr: "requests_per_minute",
		},
		{
			name: "provider without api_key_env",
			mutate: func(c *Config) {
				c.Providers["p"] = ProviderConfig{Models: []string{"m"}}
			},
			wantErr: "api_key_env",
		},
		{
			name: "provider with invalid status",
			mutate: func(c *Config) {
				c.Providers["p"] = ProviderConfig{
					APIKeyEnv: "KEY", Models: []string{"m"}, Status: "bogus",
				}
			},
			wantErr: "status",
		},
		{
			name: "negative policy weight",
			mutate: func(c *Config) {
				c.Policies["bad"] = PolicyConfig{Weights: WeightsConfig{Latency: -1}}
			},
			wantErr: "non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
