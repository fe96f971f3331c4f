// =============================================================================
// 🏭 Provider 注册表工厂
// =============================================================================
// 从配置构建注册表：逐个 Provider 解析环境变量中的密钥、换算延迟档位、
// 展开模型定价，最后挂上 OpenAI 兼容适配器。密钥缺失的 Provider 以
// disabled 状态入表：保留在注册表中便于运维观察，但不参与路由。
// =============================================================================

package providers

import (
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/config"
	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/providers/openaicompat"
)

// defaultContextWindow 配置未声明上下文窗口时的保守缺省。
const defaultContextWindow = 8192

// BuildRegistry 根据配置构建 Provider 注册表。
func BuildRegistry(cfg *config.Config, logger *zap.Logger) *llm.Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := llm.NewRegistry()

	// 按 ID 排序保证注册顺序与日志可复现
	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pc := cfg.Providers[id]
		info, adapter := buildProvider(id, pc, logger)
		registry.Register(info, adapter)

		logger.Info("provider registered",
			zap.String("provider", id),
			zap.String("status", string(info.Status)),
			zap.Int("models", len(info.Models)),
			zap.Int("priority", info.Priority))
	}

	return registry
}

func buildProvider(id string, pc config.ProviderConfig, logger *zap.Logger) (llm.ProviderInfo, llm.Provider) {
	status := llm.ProviderStatus(pc.Status)
	if status == "" {
		status = llm.StatusActive
	}

	apiKey := os.Getenv(pc.APIKeyEnv)
	if apiKey == "" && status != llm.StatusDisabled {
		logger.Warn("provider credential not resolvable, loading as disabled",
			zap.String("provider", id),
			zap.String("api_key_env", pc.APIKeyEnv))
		status = llm.StatusDisabled
	}

	models := buildModels(pc)
	caps := buildCapabilities(pc.Capabilities)

	timeout := time.Duration(pc.TimeoutSeconds) * time.Second
	adapter := openaicompat.New(openaicompat.Config{
		ProviderID:   id,
		APIKey:       apiKey,
		BaseURL:      pc.BaseURL,
		DefaultModel: firstModel(pc.Models),
		Models:       models,
		Capabilities: caps,
		Timeout:      timeout,
	}, logger)

	info := llm.ProviderInfo{
		ID:           id,
		DisplayName:  displayName(id, pc),
		BaseURL:      pc.BaseURL,
		Capabilities: caps,
		Models:       models,
		LatencyClass: latencyClass(pc.LatencyThresholdMs),
		Priority:     pc.Priority,
		Enabled:      status != llm.StatusDisabled,
		Status:       status,
	}
	return info, adapter
}

// buildModels 展开模型清单，单价为 Provider 级的统一定价。
func buildModels(pc config.ProviderConfig) []llm.ModelInfo {
	models := make([]llm.ModelInfo, 0, len(pc.Models))
	for _, name := range pc.Models {
		window := pc.ContextWindows[name]
		if window <= 0 {
			window = defaultContextWindow
		}
		models = append(models, llm.ModelInfo{
			Name:             name,
			ContextWindow:    window,
			InputCostPerTok:  pc.CostPerTokenInput,
			OutputCostPerTok: pc.CostPerTokenOutput,
		})
	}
	return models
}

func buildCapabilities(names []string) []llm.Capability {
	if len(names) == 0 {
		return []llm.Capability{llm.CapabilityChat}
	}
	caps := make([]llm.Capability, 0, len(names))
	for _, n := range names {
		caps = append(caps, llm.Capability(n))
	}
	return caps
}

// latencyClass 由延迟阈值换算档位，与 SLA 缺省目标的分界一致。
func latencyClass(thresholdMs float64) llm.LatencyClass {
	switch {
	case thresholdMs <= 0:
		return llm.LatencyMedium
	case thresholdMs <= 500:
		return llm.LatencyUltraLow
	case thresholdMs <= 1000:
		return llm.LatencyLow
	case thresholdMs <= 2000:
		return llm.LatencyMedium
	default:
		return llm.LatencyHigh
	}
}

func displayName(id string, pc config.ProviderConfig) string {
	if pc.DisplayName != "" {
		return pc.DisplayName
	}
	return id
}

func firstModel(models []string) string {
	if len(models) == 0 {
		return ""
	}
	return models[0]
}
