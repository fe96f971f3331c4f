package policy

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSumsToOne(t *testing.T) {
	p := Policy{
		Name:    "quality",
		Weights: Weights{Latency: 2, Cost: 1, Reliability: 4, Capability: 1},
		Enabled: true,
	}.Normalize()

	assert.InDelta(t, 1.0, p.Weights.Sum(), 1e-9)
	assert.InDelta(t, 0.25, p.Weights.Latency, 1e-9)
	assert.InDelta(t, 0.5, p.Weights.Reliability, 1e-9)
}

func TestNormalizeZeroWeightsFallsBackToDefault(t *testing.T) {
	p := Policy{Name: "empty", Enabled: true}.Normalize()
	assert.Equal(t, DefaultWeights(), p.Weights)
}

func TestNormalizeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	nonNegative := gen.Float64Range(0, 1000)
	properties.Property("normalising a normalised policy is a no-op", prop.ForAll(
		func(lat, cost, rel, cap float64) bool {
			p := Policy{
				Name:    "p",
				Weights: Weights{Latency: lat, Cost: cost, Reliability: rel, Capability: cap},
			}
			once := p.Normalize()
			twice := once.Normalize()
			const eps = 1e-9
			return math.Abs(once.Weights.Latency-twice.Weights.Latency) < eps &&
				math.Abs(once.Weights.Cost-twice.Weights.Cost) < eps &&
				math.Abs(once.Weights.Reliability-twice.Weights.Reliability) < eps &&
				math.Abs(once.Weights.Capability-twice.Weights.Capability) < eps
		},
		nonNegative, nonNegative, nonNegative, nonNegative,
	))

	properties.TestingRun(t)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", Policy{Name: "p", Weights: DefaultWeights(), Enabled: true}, false},
		{"missing name", Policy{Weights: DefaultWeights()}, true},
		{"negative weight", Policy{Name: "p", Weights: Weights{Latency: -1}}, true},
		{"bad success rate", Policy{Name: "p", Constraints: Constraints{MinSuccessRate: 1.5}}, true},
		{"self fallback", Policy{Name: "p", Fallbacks: []string{"p"}}, true},
		{"other fallback", Policy{Name: "p", Fallbacks: []string{"q"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerGetDefault(t *testing.T) {
	m := NewManager(nil)

	p, ok := m.Get("")
	require.True(t, ok)
	assert.Equal(t, DefaultName, p.Name)
}

func TestManagerUpdateReplacesAll(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Update([]Policy{
		{Name: "cheap", Weights: Weights{Cost: 1}, Enabled: true},
		{Name: "fast", Weights: Weights{Latency: 1}, Enabled: true},
	}))

	p, ok := m.Get("cheap")
	require.True(t, ok)
	assert.InDelta(t, 1.0, p.Weights.Cost, 1e-9)

	// 默认策略被自动补齐
	_, ok = m.Get(DefaultName)
	assert.True(t, ok)

	// 整体替换：再次更新后旧策略消失
	require.NoError(t, m.Update([]Policy{{Name: "fast", Weights: Weights{Latency: 1}, Enabled: true}}))
	_, ok = m.Get("cheap")
	assert.False(t, ok)
}

func TestManagerUpdateRejectsInvalidBatch(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Update([]Policy{{Name: "good", Weights: DefaultWeights(), Enabled: true}}))

	err := m.Update([]Policy{
		{Name: "ok", Weights: DefaultWeights(), Enabled: true},
		{Name: "", Weights: DefaultWeights(), Enabled: true},
	})
	require.Error(t, err)

	// 旧策略集保留
	_, ok := m.Get("good")
	assert.True(t, ok)
	_, ok = m.Get("ok")
	assert.False(t, ok)
}

func TestManagerDisabledPolicyNotReturned(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Update([]Policy{{Name: "off", Weights: DefaultWeights(), Enabled: false}}))

	_, ok := m.Get("off")
	assert.False(t, ok)
}
