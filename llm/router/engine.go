package router

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/policy"
	"github.com/BaSui01/gateflow/llm/scoring"
	"github.com/BaSui01/gateflow/llm/telemetry"
)

// =============================================================================
// 🧭 路由决策引擎
// =============================================================================

// Engine 决策引擎：候选过滤 → 评分排名 → 回退策略链 → 决策缓存。
// 决策是纯计算（基于遥测快照），不做任何网络调用。
type Engine struct {
	registry  *llm.Registry
	policies  *policy.Manager
	scorer    *scoring.Scorer
	telemetry *telemetry.Store
	cache     *decisionCache
	logger    *zap.Logger
	clock     func() time.Time
}

// Options Engine 配置。
type Options struct {
	Registry  *llm.Registry
	Policies  *policy.Manager
	Scorer    *scoring.Scorer
	Telemetry *telemetry.Store
	CacheTTL  time.Duration
	Logger    *zap.Logger
	Clock     func() time.Time // 测试钩子
}

// New 创建决策引擎。
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		registry:  opts.Registry,
		policies:  opts.Policies,
		scorer:    opts.Scorer,
		telemetry: opts.Telemetry,
		cache:     newDecisionCache(opts.CacheTTL, opts.Clock),
		logger:    opts.Logger.With(zap.String("component", "router")),
		clock:     opts.Clock,
	}
}

// Route 为请求产出路由决策。policyName 为空使用默认策略。
// 排名为空时按策略声明的回退链依次重试；全部为空返回 KindNoProviders。
func (e *Engine) Route(req *llm.InferenceRequest, policyName string) (*RoutingDecision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pol, ok := e.policies.Get(policyName)
	if !ok {
		return nil, llm.NewError(llm.KindValidation, "unknown or disabled policy: "+policyName)
	}

	hash := CacheKey(req, pol.Name)
	if cached, hit := e.cache.get(hash); hit {
		cached.CacheHit = true
		e.logger.Debug("decision cache hit",
			zap.String("hash", hash),
			zap.String("provider", cached.Provider))
		return &cached, nil
	}

	// 策略链：当前策略 + 其声明的回退策略
	tried := map[string]bool{}
	chain := append([]string{pol.Name}, pol.Fallbacks...)
	for _, name := range chain {
		if tried[name] {
			continue
		}
		tried[name] = true
		p, ok := e.policies.Get(name)
		if !ok {
			e.logger.Warn("fallback policy unavailable, skipping", zap.String("policy", name))
			continue
		}
		decision, ok := e.decide(req, p, hash)
		if !ok {
			continue
		}
		e.cache.put(hash, *decision)
		e.logger.Debug("routing decision made",
			zap.String("provider", decision.Provider),
			zap.String("policy", decision.Policy),
			zap.Float64("score", decision.Score))
		return decision, nil
	}

	return nil, llm.NewError(llm.KindNoProviders, "no providers available after constraint filtering")
}

// decide 在单个策略下过滤、评分并排名候选。无候选时 ok 为 false。
func (e *Engine) decide(req *llm.InferenceRequest, pol policy.Policy, hash string) (*RoutingDecision, bool) {
	candidates := e.candidates(req, pol)
	if len(candidates) == 0 {
		return nil, false
	}

	scores := make([]scoring.ProviderScore, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, e.scorer.Score(c, req, pol.Weights))
	}
	scoring.Rank(scores)

	top := scores[0]
	fallbacks := make([]string, 0, len(scores)-1)
	for _, s := range scores[1:] {
		fallbacks = append(fallbacks, s.Provider)
	}

	return &RoutingDecision{
		Provider:  top.Provider,
		Model:     req.Model,
		Score:     top.Composite,
		Fallbacks: fallbacks,
		Scores:    scores,
		Policy:    pol.Name,
		Reason: fmt.Sprintf("composite %.1f (latency %.1f, cost %.1f, reliability %.1f, capability %.1f; p95 %.0f ms)",
			top.Composite, top.Sub.Latency, top.Sub.Cost, top.Sub.Reliability, top.Sub.Capability, top.P95Ms),
		RequestHash: hash,
		DecidedAt:   e.clock(),
	}, true
}

// candidates 候选过滤：active 状态 → 能力全覆盖 → 指定模型支持 → 硬约束。
func (e *Engine) candidates(req *llm.InferenceRequest, pol policy.Policy) []*llm.Entry {
	var out []*llm.Entry
	for _, entry := range e.registry.Active() {
		if !hasAllCapabilities(entry.Info.Capabilities, req.Capabilities) {
			continue
		}
		if req.Model != "" && !entry.Info.SupportsModel(req.Model) {
			continue
		}
		if !e.meetsConstraints(entry, req, pol.Constraints) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// meetsConstraints 策略硬约束过滤。零值约束不启用。
func (e *Engine) meetsConstraints(entry *llm.Entry, req *llm.InferenceRequest, c policy.Constraints) bool {
	if c.MaxCostPerRequest > 0 && entry.Adapter.EstimateCost(req) > c.MaxCostPerRequest {
		return false
	}
	if c.MaxLatencyMs > 0 || c.MinSuccessRate > 0 {
		m := e.telemetry.Metrics(entry.Info.ID)
		// 无样本时不因约束剔除（冷启动需要给新 Provider 机会）
		if m.SampleSize > 0 {
			if c.MaxLatencyMs > 0 && m.P95LatencyMs > c.MaxLatencyMs {
				return false
			}
			if c.MinSuccessRate > 0 && (1-m.ErrorRate) < c.MinSuccessRate {
				return false
			}
		}
	}
	return true
}

func hasAllCapabilities(declared, required []llm.Capability) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[llm.Capability]struct{}, len(declared))
	for _, c := range declared {
		set[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

// InvalidateCache 清空决策缓存。Provider 状态或策略变化后调用。
func (e *Engine) InvalidateCache() {
	e.cache.invalidate()
	e.logger.Debug("decision cache invalidated")
}

// CacheSize 返回当前缓存条目数（监控用）。
func (e *Engine) CacheSize() int {
	return e.cache.size()
}
