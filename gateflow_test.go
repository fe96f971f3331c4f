package gateflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/config"
	"github.com/BaSui01/gateflow/internal/store"
	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/admission"
)

// newChatBackend 起一个最小的 chat-completions 假后端。
func newChatBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK) // 健康检查
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "test-model",
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "ok"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	t.Setenv("GATEFLOW_TEST_KEY", "sk-test")

	cfg := config.DefaultConfig()
	cfg.Redis.Addr = "" // 进程内存储
	cfg.Providers = map[string]config.ProviderConfig{
		"local": {
			APIKeyEnv: "GATEFLOW_TEST_KEY",
			BaseURL:   backendURL,
			Models:    []string{"test-model"},
		},
	}
	cfg.Policies = map[string]config.PolicyConfig{
		"cost_first": {
			Strategy: "weighted",
			Weights:  config.WeightsConfig{Latency: 0.1, Cost: 0.6, Reliability: 0.2, Capability: 0.1},
			Enabled:  true,
		},
	}
	return cfg
}

func chatReq() *llm.InferenceRequest {
	return &llm.InferenceRequest{
		ClientKey: "client-1",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
		MaxTokens: 64,
	}
}

func TestNewNilConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestNewHandlesRequestEndToEnd(t *testing.T) {
	backend := newChatBackend(t)
	gw, err := New(testConfig(t, backend.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	resp, err := gw.Handle(context.Background(), "client-1", "/v1/chat/completions", chatReq(), "")
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "ok", resp.Result.Text)
	assert.Equal(t, "local", resp.Decision.Provider)
	assert.Equal(t, admission.LevelNormal, resp.Level)
	assert.NotEmpty(t, resp.RequestID)
}

func TestNamedPolicyIsRoutable(t *testing.T) {
	backend := newChatBackend(t)
	gw, err := New(testConfig(t, backend.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	resp, err := gw.Handle(context.Background(), "client-1", "/v1/chat/completions", chatReq(), "cost_first")
	require.NoError(t, err)
	assert.Equal(t, "cost_first", resp.Decision.Policy)
}

func TestReloadPolicies(t *testing.T) {
	backend := newChatBackend(t)
	cfg := testConfig(t, backend.URL)
	gw, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	// 未知策略先被拒绝
	_, err = gw.Handle(context.Background(), "client-1", "/v1/chat/completions", chatReq(), "latency_first")
	require.Error(t, err)

	// 热加载后可用
	next := testConfig(t, backend.URL)
	next.Policies["latency_first"] = config.PolicyConfig{
		Strategy: "weighted",
		Weights:  config.WeightsConfig{Latency: 0.7, Cost: 0.1, Reliability: 0.1, Capability: 0.1},
		Enabled:  true,
	}
	require.NoError(t, gw.ReloadPolicies(next))
	assert.Zero(t, gw.Engine().CacheSize())

	resp, err := gw.Handle(context.Background(), "client-1", "/v1/chat/completions", chatReq(), "latency_first")
	require.NoError(t, err)
	assert.Equal(t, "latency_first", resp.Decision.Policy)
}

func TestBuildStoreWithoutRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Addr = ""
	kv := buildStore(cfg, zap.NewNop())
	_, ok := kv.(*store.Memory)
	assert.True(t, ok)
}

func TestBulkheadLimits(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"a": {APIKeyEnv: "K", Models: []string{"m"}},
		"b": {APIKeyEnv: "K", Models: []string{"m"}},
	}
	cfg.Bulkhead.DefaultMaxConcurrent = 7
	cfg.Bulkhead.PerProvider = map[string]int{"b": 20}

	limits := bulkheadLimits(cfg)
	assert.Equal(t, 7, limits["a"])
	assert.Equal(t, 20, limits["b"])
}

func TestPoliciesFromConfigNamesFromKeys(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Policies = map[string]config.PolicyConfig{
		"cost_first": {Weights: config.WeightsConfig{Cost: 1}, Enabled: true},
	}
	out := policiesFromConfig(cfg)
	require.Len(t, out, 1)
	assert.Equal(t, "cost_first", out[0].Name)
	assert.Equal(t, 1.0, out[0].Weights.Cost)
}
