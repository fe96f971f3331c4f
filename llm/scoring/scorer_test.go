package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/policy"
	"github.com/BaSui01/gateflow/llm/telemetry"
	"github.com/BaSui01/gateflow/testutil"
)

func fixedClock() (func() time.Time, *time.Time) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }, &now
}

func newTestScorer(t *testing.T) (*Scorer, *telemetry.Store, *time.Time) {
	t.Helper()
	clock, now := fixedClock()
	ts := telemetry.NewStore(telemetry.StoreOptions{Clock: clock})
	return New(Options{Telemetry: ts, Clock: clock}), ts, now
}

func entry(id string, priority int, caps ...llm.Capability) *llm.Entry {
	p := testutil.NewFakeProvider(id)
	if len(caps) > 0 {
		p.Caps = caps
	}
	return &llm.Entry{
		Info: llm.ProviderInfo{
			ID:           id,
			Priority:     priority,
			Capabilities: p.Caps,
			Enabled:      true,
			Status:       llm.StatusActive,
		},
		Adapter: p,
	}
}

func TestLatencyScoreTiers(t *testing.T) {
	tests := []struct {
		p95, target, want float64
	}{
		{400, 1000, 1.0},
		{1000, 1000, 1.0},
		{1500, 1000, 0.7},
		{2000, 1000, 0.7},
		{4000, 1000, 0.3},
		{5000, 1000, 0.3},
		{9000, 1000, 0.1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, latencyScore(tt.p95, tt.target),
			"p95=%v target=%v", tt.p95, tt.target)
	}
}

func TestLatencyScoreDefaultsToMediumTarget(t *testing.T) {
	// 无目标时按 medium 档 2000ms
	assert.Equal(t, 1.0, latencyScore(1800, 0))
	assert.Equal(t, 0.7, latencyScore(3000, 0))
}

func TestCostScoreTiers(t *testing.T) {
	assert.Equal(t, 1.0, costScore(0.001, 0.01))
	assert.Equal(t, 0.5, costScore(0.015, 0.01))
	assert.Equal(t, 0.1, costScore(0.05, 0.01))
	// 无预算不限制
	assert.Equal(t, 1.0, costScore(100, 0))
}

func TestCapabilityScoreFraction(t *testing.T) {
	declared := []llm.Capability{llm.CapabilityChat, llm.CapabilityVision}

	assert.Equal(t, 1.0, capabilityScore(declared, nil))
	assert.Equal(t, 1.0, capabilityScore(declared, []llm.Capability{llm.CapabilityChat}))
	assert.Equal(t, 0.5, capabilityScore(declared, []llm.Capability{llm.CapabilityChat, llm.CapabilityCode}))
	assert.Equal(t, 0.0, capabilityScore(nil, []llm.Capability{llm.CapabilityCode}))
}

func TestConfidenceSampleTiers(t *testing.T) {
	s, ts, _ := newTestScorer(t)

	assert.Equal(t, 0.1, s.confidence(ts.Metrics("none")))

	ts.RecordOutcome("one", 100, true)
	assert.InDelta(t, 0.4, s.confidence(ts.Metrics("one")), 1e-9)

	for i := 0; i < 10; i++ {
		ts.RecordOutcome("ten", 100, true)
	}
	assert.InDelta(t, 0.7, s.confidence(ts.Metrics("ten")), 1e-9)

	for i := 0; i < 100; i++ {
		ts.RecordOutcome("hundred", 100, true)
	}
	assert.InDelta(t, 1.0, s.confidence(ts.Metrics("hundred")), 1e-9)
}

func TestReliabilityScoreSeparatesSuccessAndErrorRates(t *testing.T) {
	s, ts, _ := newTestScorer(t)

	// 10 次完成调用 6 成 4 败，另有 10 次仅记录了准入：
	// 成功率 0.6，错误率 4/20 = 0.2，两项口径不同
	for i := 0; i < 10; i++ {
		ts.RecordOutcome("openai", 100, i < 6)
		ts.RecordRequest("openai")
	}

	m := ts.Metrics("openai")
	want := 0.8*0.6 + 0.2*(1-0.2)
	assert.InDelta(t, want, reliabilityScore(m.SuccessRate, m.ErrorRate), 1e-9)
	assert.Greater(t, math.Abs((1-m.ErrorRate)-want), 1e-9)

	req := &llm.InferenceRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:   100,
		SLATargetMs: 1000,
	}
	sc := s.Score(entry("openai", 0), req, policy.DefaultWeights())
	assert.InDelta(t, want, sc.Sub.Reliability, 1e-9)
}

func TestScoreDeterministic(t *testing.T) {
	s, ts, _ := newTestScorer(t)
	for i := 0; i < 50; i++ {
		ts.RecordOutcome("openai", 300, i%10 != 0)
	}

	req := &llm.InferenceRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:   100,
		SLATargetMs: 1000,
		CostBudget:  0.01,
	}
	e := entry("openai", 5)

	first := s.Score(e, req, policy.DefaultWeights())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Score(e, req, policy.DefaultWeights()))
	}
	assert.GreaterOrEqual(t, first.Composite, 0.0)
	assert.LessOrEqual(t, first.Composite, 100.0)
}

func TestScoreHealthPenalty(t *testing.T) {
	s, ts, _ := newTestScorer(t)
	for i := 0; i < 100; i++ {
		ts.RecordOutcome("openai", 100, true)
		ts.RecordOutcome("backup", 100, true)
	}
	req := &llm.InferenceRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:   100,
		SLATargetMs: 1000,
	}

	healthy := s.Score(entry("openai", 0), req, policy.DefaultWeights())

	ts.RecordHealth("backup", string(llm.HealthDegraded))
	degraded := s.Score(entry("backup", 0), req, policy.DefaultWeights())
	assert.InDelta(t, healthy.Composite-5, degraded.Composite, 1e-9)

	ts.RecordHealth("backup", string(llm.HealthUnhealthy))
	unhealthy := s.Score(entry("backup", 0), req, policy.DefaultWeights())
	assert.InDelta(t, healthy.Composite-10, unhealthy.Composite, 1e-9)
}

func TestScoreStaleDataLowersConfidence(t *testing.T) {
	s, ts, now := newTestScorer(t)
	for i := 0; i < 100; i++ {
		ts.RecordOutcome("openai", 100, true)
	}
	req := &llm.InferenceRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:   100,
		SLATargetMs: 1000,
	}
	fresh := s.Score(entry("openai", 0), req, policy.DefaultWeights())
	assert.InDelta(t, 1.0, fresh.Confidence, 1e-9)

	// 12 小时后置信度线性衰减到一半
	*now = now.Add(12 * time.Hour)
	stale := s.Score(entry("openai", 0), req, policy.DefaultWeights())
	assert.InDelta(t, 0.5, stale.Confidence, 1e-9)
	assert.Less(t, stale.Composite, fresh.Composite)
}

func TestRankOrdering(t *testing.T) {
	scores := []ProviderScore{
		{Provider: "c", Composite: 50, Priority: 1, P95Ms: 100},
		{Provider: "a", Composite: 90, Priority: 1, P95Ms: 100},
		{Provider: "b", Composite: 90, Priority: 5, P95Ms: 200},
	}
	Rank(scores)

	// b 与 a 同分，b 优先级更高
	assert.Equal(t, "b", scores[0].Provider)
	assert.Equal(t, "a", scores[1].Provider)
	assert.Equal(t, "c", scores[2].Provider)
}

func TestRankTieBreakByP95ThenStable(t *testing.T) {
	scores := []ProviderScore{
		{Provider: "slow", Composite: 80, Priority: 3, P95Ms: 900},
		{Provider: "fast", Composite: 80, Priority: 3, P95Ms: 200},
		{Provider: "also-slow", Composite: 80, Priority: 3, P95Ms: 900},
	}
	Rank(scores)

	assert.Equal(t, "fast", scores[0].Provider)
	// p95 相同时保持输入顺序
	assert.Equal(t, "slow", scores[1].Provider)
	assert.Equal(t, "also-slow", scores[2].Provider)
}
