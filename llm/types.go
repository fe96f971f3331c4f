package llm

import (
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 单条对话消息。核心只关心角色与长度，不改写内容。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Capability Provider 能力声明。
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityVision     Capability = "vision"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilityCode       Capability = "code"
	CapabilityStreaming  Capability = "streaming"
	CapabilityHealth     Capability = "health"
	CapabilityAuth       Capability = "auth"
)

// LatencyClass 调用方声明的延迟档位，缺省 SLA 目标按档位换算。
type LatencyClass string

const (
	LatencyUltraLow LatencyClass = "ultra_low"
	LatencyLow      LatencyClass = "low"
	LatencyMedium   LatencyClass = "medium"
	LatencyHigh     LatencyClass = "high"
)

// DefaultSLATargetMs 返回延迟档位对应的默认 SLA 目标（毫秒）。
func (c LatencyClass) DefaultSLATargetMs() float64 {
	switch c {
	case LatencyUltraLow:
		return 500
	case LatencyLow:
		return 1000
	case LatencyMedium:
		return 2000
	case LatencyHigh:
		return 5000
	default:
		return 2000
	}
}

// ProviderStatus 运营状态。禁用的 Provider 不参与路由但保留在注册表中。
type ProviderStatus string

const (
	StatusActive      ProviderStatus = "active"
	StatusDegraded    ProviderStatus = "degraded"
	StatusMaintenance ProviderStatus = "maintenance"
	StatusDisabled    ProviderStatus = "disabled"
)

// ModelInfo 模型定价与上下文窗口，成本估算的唯一数据来源。
type ModelInfo struct {
	Name             string  `json:"name"`
	ContextWindow    int     `json:"context_window"`
	InputCostPerTok  float64 `json:"input_cost_per_token"`
	OutputCostPerTok float64 `json:"output_cost_per_token"`
}

// InferenceRequest 路由与执行的工作单元。
type InferenceRequest struct {
	TraceID     string    `json:"trace_id,omitempty"`
	ClientKey   string    `json:"client_key"`
	Model       string    `json:"model,omitempty"`
	ModelFamily string    `json:"model_family,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
	TopP        float32   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`

	// 路由约束
	LatencyTarget LatencyClass `json:"latency_target,omitempty"`
	SLATargetMs   float64      `json:"sla_target_ms,omitempty"`
	CostBudget    float64      `json:"cost_budget,omitempty"` // USD/请求，0 表示无预算
	CostPriority  bool         `json:"cost_priority,omitempty"`
	Capabilities  []Capability `json:"capabilities,omitempty"`
}

// SLATarget 返回生效的 SLA 目标：显式值优先，否则按延迟档位换算。
func (r *InferenceRequest) SLATarget() float64 {
	if r.SLATargetMs > 0 {
		return r.SLATargetMs
	}
	return r.LatencyTarget.DefaultSLATargetMs()
}

// Validate 校验请求不变式：至少一条消息、max_tokens > 0、temperature ∈ [0, 2]。
func (r *InferenceRequest) Validate() error {
	if len(r.Messages) == 0 {
		return NewError(KindValidation, "request must contain at least one message")
	}
	if r.MaxTokens <= 0 {
		return NewError(KindValidation, "max_tokens must be greater than zero")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return NewError(KindValidation, "temperature must be within [0, 2]")
	}
	return nil
}

// Usage token 用量统计。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// InferenceResult 单次执行结果。LatencyMs 从适配器发起外呼起算。
type InferenceResult struct {
	Text         string    `json:"text,omitempty"`
	Usage        Usage     `json:"usage"`
	Model        string    `json:"model,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	LatencyMs    float64   `json:"latency_ms"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// HealthState 健康检查三态结果。
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus 健康检查结果明细。
type HealthStatus struct {
	State     HealthState   `json:"state"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	LastError string        `json:"last_error,omitempty"`
}
