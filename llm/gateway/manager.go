package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/internal/metrics"
	"github.com/BaSui01/gateflow/internal/store"
	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/admission"
	"github.com/BaSui01/gateflow/llm/bulkhead"
	"github.com/BaSui01/gateflow/llm/circuitbreaker"
	"github.com/BaSui01/gateflow/llm/router"
	"github.com/BaSui01/gateflow/llm/telemetry"
)

// =============================================================================
// 🎛️ 路由管理器（顶层编排）
// =============================================================================

// DefaultInvokeTimeout 单次适配器外呼的默认超时。
const DefaultInvokeTimeout = 30 * time.Second

// Response 单次请求的完整处理结果。
type Response struct {
	Decision  *router.RoutingDecision `json:"decision"`
	Result    *llm.InferenceResult    `json:"result"`
	Level     admission.FallbackLevel `json:"fallback_level"`
	RequestID string                  `json:"request_id"`
}

// Manager 顶层编排器：准入 → 决策 → 带回退的执行 → 遥测与预算记账。
type Manager struct {
	registry  *llm.Registry
	engine    *router.Engine
	admission *admission.Controller
	telemetry *telemetry.Store
	kv        store.KV
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
	clock     func() time.Time

	breakerConfig circuitbreaker.Config
	bulkheadMax   map[string]int // provider -> 并发上限，缺省用默认值
	invokeTimeout time.Duration

	mu        sync.Mutex
	breakers  map[string]*circuitbreaker.Breaker
	bulkheads map[string]*bulkhead.Bulkhead
}

// Options Manager 配置。
type Options struct {
	Registry      *llm.Registry
	Engine        *router.Engine
	Admission     *admission.Controller
	Telemetry     *telemetry.Store
	Store         store.KV
	Collector     *metrics.Collector
	BreakerConfig circuitbreaker.Config
	BulkheadMax   map[string]int
	InvokeTimeout time.Duration
	Logger        *zap.Logger
	Clock         func() time.Time // 测试钩子
}

// New 创建路由管理器。
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = DefaultInvokeTimeout
	}
	return &Manager{
		registry:      opts.Registry,
		engine:        opts.Engine,
		admission:     opts.Admission,
		telemetry:     opts.Telemetry,
		kv:            opts.Store,
		collector:     opts.Collector,
		tracer:        otel.Tracer("gateflow/gateway"),
		logger:        opts.Logger.With(zap.String("component", "gateway")),
		clock:         opts.Clock,
		breakerConfig: opts.BreakerConfig,
		bulkheadMax:   opts.BulkheadMax,
		invokeTimeout: opts.InvokeTimeout,
		breakers:      make(map[string]*circuitbreaker.Breaker),
		bulkheads:     make(map[string]*bulkhead.Bulkhead),
	}
}

// Handle 处理一次推理请求。clientKey 为认证用户 ID 或客户端 IP；
// path 为请求路径（准入计数维度）。
func (m *Manager) Handle(ctx context.Context, clientKey, path string, req *llm.InferenceRequest, policyName string) (*Response, error) {
	requestID := req.TraceID
	if requestID == "" {
		requestID = uuid.NewString()
		req.TraceID = requestID
	}
	start := m.clock()

	ctx, span := m.tracer.Start(ctx, "gateway.handle", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.model", req.Model),
		attribute.String("request.policy", policyName),
	))
	defer span.End()

	ad := m.admission.Check(ctx, clientKey, path)
	m.countAdmission(ad.Level)
	span.SetAttributes(attribute.String("admission.level", string(ad.Level)))

	switch ad.Level {
	case admission.LevelDeny:
		err := llm.NewError(llm.KindRateLimitExceeded, ad.Reason).
			WithRetryAfter(int(ad.RetryAfter.Seconds()))
		m.logEvent(requestID, "", req.Model, policyName, 0, false, ad.Level, err, false)
		return nil, err

	case admission.LevelEmergency:
		return m.handleEmergency(ctx, requestID, clientKey, req, policyName, ad, start)

	case admission.LevelCheapModel:
		if cheap := m.admission.CheapModel(); cheap != "" {
			req.Model = cheap
		}
	}

	if m.admission.IsEmergencyEndpoint(path) {
		return m.handleEmergency(ctx, requestID, clientKey, req, policyName, ad, start)
	}

	decision, err := m.engine.Route(req, policyName)
	if err != nil {
		m.logEvent(requestID, "", req.Model, policyName, m.sinceMs(start), false, ad.Level, err, false)
		return nil, err
	}
	m.countCache(decision.CacheHit)

	result, err := m.executeWithFallback(ctx, req, decision)
	latency := m.sinceMs(start)
	if err != nil {
		m.logEvent(requestID, decision.Provider, req.Model, decision.Policy, latency, false, ad.Level, err, decision.CacheHit)
		return nil, err
	}

	m.settle(ctx, clientKey, result)
	m.logEvent(requestID, result.Provider, result.Model, decision.Policy, latency, true, ad.Level, nil, decision.CacheHit)

	return &Response{
		Decision:  decision,
		Result:    result,
		Level:     ad.Level,
		RequestID: requestID,
	}, nil
}

// handleEmergency 紧急模式：跳过决策引擎，改写为低成本模型后选取
// 第一个满足能力要求的 active Provider。
func (m *Manager) handleEmergency(ctx context.Context, requestID, clientKey string, req *llm.InferenceRequest, policyName string, ad admission.Decision, start time.Time) (*Response, error) {
	if cheap := m.admission.CheapModel(); cheap != "" {
		req.Model = cheap
	}

	var candidates []string
	for _, e := range m.registry.Active() {
		if e.Info.HasCapability(llm.CapabilityChat) {
			candidates = append(candidates, e.Info.ID)
		}
	}
	if len(candidates) == 0 {
		err := llm.NewError(llm.KindNoProviders, "no providers available in emergency mode")
		m.logEvent(requestID, "", req.Model, policyName, m.sinceMs(start), false, admission.LevelEmergency, err, false)
		return nil, err
	}

	decision := &router.RoutingDecision{
		Provider:  candidates[0],
		Model:     req.Model,
		Fallbacks: candidates[1:],
		Policy:    policyName,
		Reason:    "emergency bypass: " + ad.Reason,
		DecidedAt: m.clock(),
	}

	result, err := m.executeWithFallback(ctx, req, decision)
	latency := m.sinceMs(start)
	if err != nil {
		m.logEvent(requestID, decision.Provider, req.Model, policyName, latency, false, admission.LevelEmergency, err, false)
		return nil, err
	}
	m.settle(ctx, clientKey, result)
	m.logEvent(requestID, result.Provider, result.Model, policyName, latency, true, admission.LevelEmergency, nil, false)

	return &Response{
		Decision:  decision,
		Result:    result,
		Level:     admission.LevelEmergency,
		RequestID: requestID,
	}, nil
}

// executeWithFallback 依次尝试主选与备选 Provider。
//
//	熔断拒绝 → 跳过（不进舱壁）；舱壁满 → 跳过；
//	成功 → 返回；可重试错误 → 下一候选；
//	鉴权/永久错误 → 下一候选并将 Provider 置为 degraded；
//	调用方取消 → 释放资源后立即返回，熔断器不记任何结果。
func (m *Manager) executeWithFallback(ctx context.Context, req *llm.InferenceRequest, decision *router.RoutingDecision) (*llm.InferenceResult, error) {
	candidates := append([]string{decision.Provider}, decision.Fallbacks...)
	var lastErr error

	for _, id := range candidates {
		entry, ok := m.registry.Get(id)
		if !ok {
			continue
		}

		br := m.breaker(id)
		if err := br.Allow(ctx); err != nil {
			if m.collector != nil {
				m.collector.BreakerRejects.WithLabelValues(id).Inc()
			}
			lastErr = llm.NewError(llm.KindCircuitOpen, "circuit open").WithProvider(id)
			continue
		}

		bh := m.bulkhead(id)
		if err := bh.Enter(ctx); err != nil {
			// 已通过熔断器放行却没有进入执行，归还半开探测名额
			br.ReleaseProbe(ctx)
			if m.collector != nil {
				m.collector.BulkheadRejects.WithLabelValues(id).Inc()
			}
			lastErr = llm.NewError(llm.KindBulkheadFull, "bulkhead full").WithProvider(id)
			continue
		}

		result, err := m.invoke(ctx, entry, req, bh)

		if err != nil && llm.KindOf(err) == llm.KindCancelled {
			// 取消不计入熔断器结果，但占用的半开探测名额必须归还
			br.ReleaseProbe(context.WithoutCancel(ctx))
			return nil, err
		}

		latency := float64(0)
		if result != nil {
			latency = result.LatencyMs
		}

		if err == nil {
			br.OnSuccess(ctx)
			m.telemetry.RecordOutcome(id, latency, true)
			m.observe(id, latency, true, decision.Policy)
			return result, nil
		}

		br.OnFailure(ctx)
		m.telemetry.RecordOutcome(id, latency, false)
		m.observe(id, latency, false, decision.Policy)
		lastErr = err

		if llm.MarksDegraded(err) {
			m.logger.Warn("provider marked degraded after fatal error",
				zap.String("provider", id),
				zap.String("kind", string(llm.KindOf(err))))
			_ = m.registry.SetStatus(id, llm.StatusDegraded)
			m.engine.InvalidateCache()
		}
	}

	if lastErr == nil {
		lastErr = llm.NewError(llm.KindNoProviders, "no candidates to execute")
	}
	return nil, lastErr
}

// invoke 执行单次适配器外呼。舱壁释放覆盖正常返回、panic 与取消路径。
func (m *Manager) invoke(ctx context.Context, entry *llm.Entry, req *llm.InferenceRequest, bh *bulkhead.Bulkhead) (result *llm.InferenceResult, err error) {
	callCtx, cancel := context.WithTimeout(ctx, m.invokeTimeout)
	defer cancel()
	// 取消路径也必须释放舱壁，用不可取消的上下文执行退出
	defer bh.Exit(context.WithoutCancel(ctx))

	start := m.clock()
	result, err = entry.Adapter.Invoke(callCtx, req)
	elapsed := m.clock().Sub(start)

	if ctx.Err() != nil {
		// 调用方取消优先于适配器返回值
		return nil, llm.NewError(llm.KindCancelled, "request cancelled by caller").
			WithProvider(entry.Info.ID)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = llm.NewError(llm.KindTimeout, "adapter call timed out").
				WithProvider(entry.Info.ID)
		}
		return nil, err
	}

	if result.LatencyMs <= 0 {
		result.LatencyMs = float64(elapsed.Milliseconds())
	}
	result.Provider = entry.Info.ID
	result.Success = true
	return result, nil
}

// settle 成功结算：扣减 token 预算，累计 token 指标。
func (m *Manager) settle(ctx context.Context, clientKey string, result *llm.InferenceResult) {
	if result.Usage.TotalTokens > 0 {
		_ = m.admission.Budget().Debit(ctx, clientKey, int64(result.Usage.TotalTokens))
		if m.collector != nil {
			m.collector.TokensTotal.WithLabelValues(result.Provider, "input").
				Add(float64(result.Usage.InputTokens))
			m.collector.TokensTotal.WithLabelValues(result.Provider, "output").
				Add(float64(result.Usage.OutputTokens))
		}
	}
}

// breaker / bulkhead 按 Provider 惰性创建，进程生命周期内复用。
func (m *Manager) breaker(provider string) *circuitbreaker.Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[provider]; ok {
		return b
	}
	b := circuitbreaker.New(provider, m.kv, m.breakerConfig, m.logger).WithClock(m.clock)
	m.breakers[provider] = b
	return b
}

func (m *Manager) bulkhead(provider string) *bulkhead.Bulkhead {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bulkheads[provider]; ok {
		return b
	}
	b := bulkhead.New(provider, m.kv, m.bulkheadMax[provider], m.logger)
	m.bulkheads[provider] = b
	return b
}

func (m *Manager) observe(provider string, latencyMs float64, success bool, policyName string) {
	if m.collector == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.collector.RequestsTotal.WithLabelValues(provider, policyName, outcome).Inc()
	m.collector.RequestLatency.WithLabelValues(provider).Observe(latencyMs / 1000)
}

func (m *Manager) countAdmission(level admission.FallbackLevel) {
	if m.collector != nil {
		m.collector.AdmissionTotal.WithLabelValues(string(level)).Inc()
	}
}

func (m *Manager) countCache(hit bool) {
	if m.collector == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.collector.CacheHitsTotal.WithLabelValues(result).Inc()
}

// logEvent 每个完成的请求输出一条结构化路由事件。
func (m *Manager) logEvent(requestID, provider, model, policyName string, latencyMs float64, success bool, level admission.FallbackLevel, err error, cacheHit bool) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("policy", policyName),
		zap.Float64("latency_ms", latencyMs),
		zap.Bool("success", success),
		zap.Bool("cache_hit", cacheHit),
		zap.String("fallback_level", string(level)),
	}
	if err != nil {
		fields = append(fields, zap.String("error_kind", string(llm.KindOf(err))))
		m.logger.Warn("request failed", fields...)
		return
	}
	m.logger.Info("request routed", fields...)
}

// SetEmergency 透传紧急模式开关（运维接口）。
func (m *Manager) SetEmergency(on bool) { m.admission.SetEmergency(on) }

func (m *Manager) sinceMs(start time.Time) float64 {
	return float64(m.clock().Sub(start).Milliseconds())
}
