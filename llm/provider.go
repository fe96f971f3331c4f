package llm

import (
	"context"
)

// Provider 定义了统一的 LLM 适配接口，屏蔽不同后端在协议、鉴权与
// 错误语义上的差异。路由、熔断与遥测均以该接口为唯一入口。
//
// 约定：
//   - Invoke 内部不做重试，重试与降级由执行层负责。
//   - EstimateCost 必须是纯函数，评分阶段会高频调用，不允许 I/O。
//   - HealthCheck 不经过熔断器。
type Provider interface {
	// Invoke 发起一次后端调用。失败时返回 *Error，
	// Kind ∈ {TIMEOUT, TRANSIENT, RATE_LIMITED, AUTH_FAILED, PERMANENT}。
	Invoke(ctx context.Context, req *InferenceRequest) (*InferenceResult, error)

	// HealthCheck 轻量探活，healthy 表示最近一次真实请求廉价地成功。
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// EstimateCost 基于配置定价与保守 token 估算返回单次请求成本（USD）。
	EstimateCost(req *InferenceRequest) float64

	// ListModels 枚举支持的模型及其上下文窗口与定价，可缓存数分钟。
	ListModels() []ModelInfo

	// Capabilities 返回静态能力声明。
	Capabilities() []Capability

	// Name 返回 Provider 的稳定标识。
	Name() string
}

// ProviderInfo 注册表维护的 Provider 配置与运行状态。
type ProviderInfo struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	BaseURL      string         `json:"base_url,omitempty"`
	Capabilities []Capability   `json:"capabilities"`
	Models       []ModelInfo    `json:"models"`
	LatencyClass LatencyClass   `json:"latency_class,omitempty"`
	Priority     int            `json:"priority"`
	Enabled      bool           `json:"enabled"`
	Status       ProviderStatus `json:"status"`
}

// HasCapability 判断是否声明了指定能力。
func (p *ProviderInfo) HasCapability(c Capability) bool {
	for _, cap := range p.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// SupportsModel 判断是否声明了指定模型。
func (p *ProviderInfo) SupportsModel(model string) bool {
	for _, m := range p.Models {
		if m.Name == model {
			return true
		}
	}
	return false
}

// ModelByName 返回指定模型的定价信息。
func (p *ProviderInfo) ModelByName(model string) (ModelInfo, bool) {
	for _, m := range p.Models {
		if m.Name == model {
			return m, true
		}
	}
	return ModelInfo{}, false
}
