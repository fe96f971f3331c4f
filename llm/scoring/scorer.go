package scoring

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/policy"
	"github.com/BaSui01/gateflow/llm/telemetry"
)

// =============================================================================
// 📊 Provider 评分引擎
// =============================================================================

const (
	// confidenceAgeSpan 数据新鲜度衰减区间：样本超过该时长后置信度降至下限。
	confidenceAgeSpan = 24 * time.Hour
	// healthPenaltyDegraded / healthPenaltyUnhealthy 健康检查惩罚分。
	healthPenaltyDegraded  = 5.0
	healthPenaltyUnhealthy = 10.0
)

// SubScores 四个维度的子分数，各自归一到 [0, 1]。
type SubScores struct {
	Latency     float64 `json:"latency"`
	Cost        float64 `json:"cost"`
	Reliability float64 `json:"reliability"`
	Capability  float64 `json:"capability"`
}

// ProviderScore 单个 Provider 对单个请求的完整评分结果。
type ProviderScore struct {
	Provider   string    `json:"provider"`
	Composite  float64   `json:"composite"` // [0, 100]
	Sub        SubScores `json:"sub_scores"`
	Confidence float64   `json:"confidence"` // [0.1, 1.0]
	Penalty    float64   `json:"health_penalty"`

	// 排序用元数据
	Priority int     `json:"priority"`
	P95Ms    float64 `json:"p95_ms"`
}

// Scorer 基于遥测窗口为候选 Provider 打分。评分为纯计算：
// 相同的遥测快照与请求必然产出相同的分数。
type Scorer struct {
	telemetry *telemetry.Store
	logger    *zap.Logger
	clock     func() time.Time
}

// Options Scorer 配置。
type Options struct {
	Telemetry *telemetry.Store
	Logger    *zap.Logger
	Clock     func() time.Time // 测试钩子
}

// New 创建评分引擎。
func New(opts Options) *Scorer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scorer{
		telemetry: opts.Telemetry,
		logger:    opts.Logger.With(zap.String("component", "scoring")),
		clock:     opts.Clock,
	}
}

// Score 计算单个候选的综合得分。
//
//	composite = clip(Σ weight_i × sub_i × 100 × confidence − penalty, 0, 100)
func (s *Scorer) Score(entry *llm.Entry, req *llm.InferenceRequest, weights policy.Weights) ProviderScore {
	m := s.telemetry.Metrics(entry.Info.ID)

	sub := SubScores{
		Latency:     latencyScore(m.P95LatencyMs, req.SLATarget()),
		Cost:        costScore(entry.Adapter.EstimateCost(req), req.CostBudget),
		Reliability: reliabilityScore(m.SuccessRate, m.ErrorRate),
		Capability:  capabilityScore(entry.Info.Capabilities, req.Capabilities),
	}

	weighted := weights.Latency*sub.Latency +
		weights.Cost*sub.Cost +
		weights.Reliability*sub.Reliability +
		weights.Capability*sub.Capability

	confidence := s.confidence(m)
	penalty := s.healthPenalty(entry.Info.ID)

	composite := weighted*100*confidence - penalty
	if composite < 0 {
		composite = 0
	}
	if composite > 100 {
		composite = 100
	}

	return ProviderScore{
		Provider:   entry.Info.ID,
		Composite:  composite,
		Sub:        sub,
		Confidence: confidence,
		Penalty:    penalty,
		Priority:   entry.Info.Priority,
		P95Ms:      m.P95LatencyMs,
	}
}

// latencyScore p95 相对 SLA 目标的阶梯得分。
func latencyScore(p95, targetMs float64) float64 {
	if targetMs <= 0 {
		targetMs = llm.LatencyMedium.DefaultSLATargetMs()
	}
	switch {
	case p95 <= targetMs:
		return 1.0
	case p95 <= 2*targetMs:
		return 0.7
	case p95 <= 5*targetMs:
		return 0.3
	default:
		return 0.1
	}
}

// costScore 预估成本相对预算的阶梯得分。预算为 0 视为无限制。
func costScore(estimate, budget float64) float64 {
	if budget <= 0 {
		return 1.0
	}
	switch {
	case estimate <= budget:
		return 1.0
	case estimate <= 2*budget:
		return 0.5
	default:
		return 0.1
	}
}

// reliabilityScore 0.8×成功率 + 0.2×(1−错误率)。成功率统计已完成调用，
// 错误率分母含尚无结果的请求，两项来源独立。
func reliabilityScore(successRate, errorRate float64) float64 {
	return 0.8*successRate + 0.2*(1-errorRate)
}

// capabilityScore 请求所需能力被声明覆盖的比例。无要求时为 1。
func capabilityScore(declared, required []llm.Capability) float64 {
	if len(required) == 0 {
		return 1.0
	}
	set := make(map[llm.Capability]struct{}, len(declared))
	for _, c := range declared {
		set[c] = struct{}{}
	}
	matched := 0
	for _, c := range required {
		if _, ok := set[c]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// confidence 置信度乘数 ∈ [0.1, 1.0]：样本量阶梯 × 数据新鲜度线性衰减。
func (s *Scorer) confidence(m telemetry.ProviderMetrics) float64 {
	var sample float64
	switch {
	case m.SampleSize >= 100:
		sample = 1.0
	case m.SampleSize >= 10:
		sample = 0.7
	case m.SampleSize >= 1:
		sample = 0.4
	default:
		return 0.1
	}

	freshness := 1.0
	if !m.LastSampleAt.IsZero() {
		age := s.clock().Sub(m.LastSampleAt)
		if age > 0 {
			freshness = 1 - float64(age)/float64(confidenceAgeSpan)
		}
	}
	c := sample * freshness
	if c < 0.1 {
		return 0.1
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}

// healthPenalty 最近一次健康检查非 healthy 时的扣分。
func (s *Scorer) healthPenalty(provider string) float64 {
	h, ok := s.telemetry.LastHealth(provider)
	if !ok {
		return 0
	}
	switch h.State {
	case string(llm.HealthDegraded):
		return healthPenaltyDegraded
	case string(llm.HealthUnhealthy):
		return healthPenaltyUnhealthy
	default:
		return 0
	}
}

// Rank 按综合得分降序排序（原地，稳定）。平分时优先级高者在前，
// 再平则 p95 低者在前，仍平则保持输入顺序。
func Rank(scores []ProviderScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Composite != scores[j].Composite {
			return scores[i].Composite > scores[j].Composite
		}
		if scores[i].Priority != scores[j].Priority {
			return scores[i].Priority > scores[j].Priority
		}
		return scores[i].P95Ms < scores[j].P95Ms
	})
}
