package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/gateflow/config"
	"github.com/BaSui01/gateflow/llm"
)

func baseConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"deepseek": {
			DisplayName:        "DeepSeek",
			APIKeyEnv:          "TEST_DEEPSEEK_KEY",
			BaseURL:            "https://api.deepseek.com",
			TimeoutSeconds:     30,
			CostPerTokenInput:  0.00000014,
			CostPerTokenOutput: 0.00000028,
			LatencyThresholdMs: 800,
			Priority:           10,
			Models:             []string{"deepseek-chat", "deepseek-reasoner"},
			ContextWindows:     map[string]int{"deepseek-chat": 64000},
			Capabilities:       []string{"chat", "code"},
		},
		"openai": {
			APIKeyEnv: "TEST_OPENAI_KEY",
			BaseURL:   "https://api.openai.com",
			Models:    []string{"gpt-4o-mini"},
		},
	}
	return cfg
}

func TestBuildRegistryResolvesCredentials(t *testing.T) {
	t.Setenv("TEST_DEEPSEEK_KEY", "sk-deepseek")
	t.Setenv("TEST_OPENAI_KEY", "sk-openai")

	registry := BuildRegistry(baseConfig(), nil)
	require.Equal(t, 2, registry.Len())

	entry, ok := registry.Get("deepseek")
	require.True(t, ok)
	assert.Equal(t, llm.StatusActive, entry.Info.Status)
	assert.True(t, entry.Info.Enabled)
	assert.Equal(t, "DeepSeek", entry.Info.DisplayName)
	assert.Equal(t, 10, entry.Info.Priority)
	assert.Equal(t, llm.LatencyLow, entry.Info.LatencyClass)
	assert.True(t, entry.Info.HasCapability(llm.CapabilityCode))
}

func TestBuildRegistryMissingCredentialDisables(t *testing.T) {
	t.Setenv("TEST_DEEPSEEK_KEY", "sk-deepseek")
	// TEST_OPENAI_KEY 未设置

	registry := BuildRegistry(baseConfig(), nil)

	entry, ok := registry.Get("openai")
	require.True(t, ok)
	assert.Equal(t, llm.StatusDisabled, entry.Info.Status)
	assert.False(t, entry.Info.Enabled)

	// 禁用的 Provider 不参与路由
	for _, e := range registry.Active() {
		assert.NotEqual(t, "openai", e.Info.ID)
	}
}

func TestBuildRegistryModelPricing(t *testing.T) {
	t.Setenv("TEST_DEEPSEEK_KEY", "sk-deepseek")
	t.Setenv("TEST_OPENAI_KEY", "sk-openai")

	registry := BuildRegistry(baseConfig(), nil)
	entry, _ := registry.Get("deepseek")

	require.Len(t, entry.Info.Models, 2)
	chat := entry.Info.Models[0]
	assert.Equal(t, "deepseek-chat", chat.Name)
	assert.Equal(t, 64000, chat.ContextWindow)
	assert.InDelta(t, 0.00000014, chat.InputCostPerTok, 1e-12)

	// 未声明上下文窗口的模型取保守缺省
	assert.Equal(t, defaultContextWindow, entry.Info.Models[1].ContextWindow)
}

func TestBuildRegistryDefaultsWhenSparse(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-openai")

	cfg := config.DefaultConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"openai": {
			APIKeyEnv: "TEST_OPENAI_KEY",
			BaseURL:   "https://api.openai.com",
			Models:    []string{"gpt-4o-mini"},
		},
	}

	registry := BuildRegistry(cfg, nil)
	entry, ok := registry.Get("openai")
	require.True(t, ok)

	assert.Equal(t, "openai", entry.Info.DisplayName)
	assert.Equal(t, llm.LatencyMedium, entry.Info.LatencyClass)
	assert.Equal(t, []llm.Capability{llm.CapabilityChat}, entry.Info.Capabilities)
	assert.Equal(t, "gpt-4o-mini", entry.Adapter.ListModels()[0].Name)
}

func TestLatencyClassMapping(t *testing.T) {
	tests := []struct {
		thresholdMs float64
		want        llm.LatencyClass
	}{
		{0, llm.LatencyMedium},
		{400, llm.LatencyUltraLow},
		{500, llm.LatencyUltraLow},
		{900, llm.LatencyLow},
		{2000, llm.LatencyMedium},
		{5000, llm.LatencyHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, latencyClass(tt.thresholdMs), "threshold %v", tt.thresholdMs)
	}
}

func TestBuildRegistryExplicitDisabledStaysDisabled(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-openai")

	cfg := config.DefaultConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"openai": {
			APIKeyEnv: "TEST_OPENAI_KEY",
			Status:    "disabled",
			Models:    []string{"gpt-4o-mini"},
		},
	}

	registry := BuildRegistry(cfg, nil)
	entry, _ := registry.Get("openai")
	assert.Equal(t, llm.StatusDisabled, entry.Info.Status)
}
