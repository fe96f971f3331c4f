package router

import (
	"time"

	"github.com/BaSui01/gateflow/llm/scoring"
)

// RoutingDecision 路由决策结果：选中的 Provider 与按得分排序的备选链。
type RoutingDecision struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model,omitempty"`
	Score    float64 `json:"score"`

	// Fallbacks 按得分降序的备选 Provider（不含选中者），执行层按序重试。
	Fallbacks []string `json:"fallbacks,omitempty"`

	// Scores 全部候选的完整评分（诊断用）。
	Scores []scoring.ProviderScore `json:"scores,omitempty"`

	Policy      string    `json:"policy"`
	Reason      string    `json:"reason,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	RequestHash string    `json:"request_hash"`
	DecidedAt   time.Time `json:"decided_at"`
}
