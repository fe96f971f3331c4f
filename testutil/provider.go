// Package testutil provides shared test doubles for gateway tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/gateflow/llm"
)

// FakeProvider is a scriptable llm.Provider implementation for tests.
// Zero value returns a canned success response; set Err or InvokeFunc to
// script failures and custom behaviour.
type FakeProvider struct {
	ID         string
	Cost       float64
	Models     []llm.ModelInfo
	Caps       []llm.Capability
	Health     llm.HealthState
	Err        error
	LatencyMs  float64
	InvokeFunc func(ctx context.Context, req *llm.InferenceRequest) (*llm.InferenceResult, error)

	mu      sync.Mutex
	invokes atomic.Int64
	lastReq *llm.InferenceRequest
}

var _ llm.Provider = (*FakeProvider)(nil)

// NewFakeProvider returns a fake with sensible defaults.
func NewFakeProvider(id string) *FakeProvider {
	return &FakeProvider{
		ID:     id,
		Cost:   0.001,
		Health: llm.HealthHealthy,
		Caps:   []llm.Capability{llm.CapabilityChat},
		Models: []llm.ModelInfo{{Name: "fake-model", ContextWindow: 8192}},
	}
}

func (f *FakeProvider) Name() string { return f.ID }

func (f *FakeProvider) Invoke(ctx context.Context, req *llm.InferenceRequest) (*llm.InferenceResult, error) {
	f.invokes.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()

	if f.InvokeFunc != nil {
		return f.InvokeFunc(ctx, req)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &llm.InferenceResult{
		Text:         "ok",
		Model:        req.Model,
		Provider:     f.ID,
		FinishReason: "stop",
		LatencyMs:    f.LatencyMs,
		Success:      true,
		Usage:        llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		CreatedAt:    time.Now(),
	}, nil
}

func (f *FakeProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{State: f.Health, CheckedAt: time.Now()}, nil
}

func (f *FakeProvider) EstimateCost(*llm.InferenceRequest) float64 { return f.Cost }

func (f *FakeProvider) ListModels() []llm.ModelInfo { return f.Models }

func (f *FakeProvider) Capabilities() []llm.Capability { return f.Caps }

// Invocations returns how many times Invoke was called.
func (f *FakeProvider) Invocations() int64 { return f.invokes.Load() }

// LastRequest returns the most recent request passed to Invoke.
func (f *FakeProvider) LastRequest() *llm.InferenceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}
