// =============================================================================
// OpenAI 兼容 Provider 适配器
// =============================================================================
// OpenAI、DeepSeek、Qwen、GLM 等兼容 chat-completions 协议的后端共用此
// 实现，配置上只差 BaseURL、密钥与定价。适配器不做内部重试：重试与回退
// 由执行层统一编排。
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/tokenizer"
)

// Config OpenAI 兼容适配器配置。
type Config struct {
	// ProviderID 注册表中的唯一标识（如 "openai"、"deepseek"）。
	ProviderID string

	// APIKey 鉴权密钥。
	APIKey string

	// BaseURL API 根地址（如 "https://api.deepseek.com"）。
	BaseURL string

	// DefaultModel 请求未指定模型时的缺省模型。
	DefaultModel string

	// Models 模型清单与定价，成本估算依据。
	Models []llm.ModelInfo

	// Capabilities 声明的能力集。
	Capabilities []llm.Capability

	// Timeout HTTP 客户端超时，零值取 30s。
	Timeout time.Duration

	// EndpointPath chat completions 路径，缺省 "/v1/chat/completions"。
	EndpointPath string

	// ModelsEndpoint 模型清单路径（健康检查探测用），缺省 "/v1/models"。
	ModelsEndpoint string
}

// Provider OpenAI 兼容适配器。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New 创建适配器。
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = []llm.Capability{llm.CapabilityChat, llm.CapabilityStreaming}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", cfg.ProviderID)),
	}
}

func (p *Provider) Name() string { return p.cfg.ProviderID }

func (p *Provider) Capabilities() []llm.Capability { return p.cfg.Capabilities }

func (p *Provider) ListModels() []llm.ModelInfo { return p.cfg.Models }

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *Provider) headers(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// ===== wire types =====

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke 执行一次 chat completion。
func (p *Provider) Invoke(ctx context.Context, req *llm.InferenceRequest) (*llm.InferenceResult, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	body := wireRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.KindInternal, fmt.Sprintf("marshal request: %v", err)).
			WithProvider(p.Name())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewError(llm.KindInternal, fmt.Sprintf("build request: %v", err)).
			WithProvider(p.Name())
	}
	p.headers(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, llm.NewError(llm.KindTimeout, "upstream call timed out").WithProvider(p.Name())
		}
		if errors.Is(err, context.Canceled) {
			return nil, llm.NewError(llm.KindCancelled, "upstream call cancelled").WithProvider(p.Name())
		}
		return nil, llm.NewError(llm.KindTransient, err.Error()).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.mapHTTPError(resp)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, llm.NewError(llm.KindTransient, fmt.Sprintf("decode response: %v", err)).
			WithProvider(p.Name())
	}
	if len(wire.Choices) == 0 {
		return nil, llm.NewError(llm.KindTransient, "upstream returned no choices").
			WithProvider(p.Name())
	}

	result := &llm.InferenceResult{
		Text:         wire.Choices[0].Message.Content,
		Model:        wire.Model,
		Provider:     p.Name(),
		FinishReason: wire.Choices[0].FinishReason,
		LatencyMs:    float64(latency.Milliseconds()),
		Success:      true,
		Usage: llm.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
			TotalTokens:  wire.Usage.TotalTokens,
		},
	}
	if wire.Created != 0 {
		result.CreatedAt = time.Unix(wire.Created, 0)
	}
	return result, nil
}

// mapHTTPError HTTP 状态码到核心错误分类的映射：
//
//	401/403 → Auth；429 → RateLimit（透传 Retry-After）；
//	408 → Timeout；5xx → Transient；其余 4xx → Permanent。
func (p *Provider) mapHTTPError(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return llm.NewError(llm.KindAuth, msg).WithProvider(p.Name())
	case resp.StatusCode == http.StatusTooManyRequests:
		e := llm.NewError(llm.KindRateLimit, msg).WithProvider(p.Name())
		if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			e = e.WithRetryAfter(ra)
		}
		return e
	case resp.StatusCode == http.StatusRequestTimeout:
		return llm.NewError(llm.KindTimeout, msg).WithProvider(p.Name())
	case resp.StatusCode >= 500:
		return llm.NewError(llm.KindTransient, msg).WithProvider(p.Name())
	default:
		return llm.NewError(llm.KindPermanent, msg).WithProvider(p.Name())
	}
}

// readErrorMessage 尽力解析上游错误正文。
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "upstream error"
	}
	var we wireError
	if json.Unmarshal(raw, &we) == nil && we.Error.Message != "" {
		return we.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// HealthCheck 探测模型清单端点的可达性。不经过熔断器。
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	p.headers(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{
			State:     llm.HealthUnhealthy,
			Latency:   latency,
			CheckedAt: time.Now(),
			LastError: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	status := &llm.HealthStatus{Latency: latency, CheckedAt: time.Now()}
	switch {
	case resp.StatusCode == http.StatusOK:
		status.State = llm.HealthHealthy
	case resp.StatusCode >= 500:
		status.State = llm.HealthUnhealthy
		status.LastError = fmt.Sprintf("health check status=%d", resp.StatusCode)
	default:
		status.State = llm.HealthDegraded
		status.LastError = fmt.Sprintf("health check status=%d", resp.StatusCode)
	}
	return status, nil
}

// EstimateCost 纯本地成本估算：输入 token 用计数器估算，输出按
// max_tokens 的一半估计，乘以模型定价。无定价信息返回 0。
func (p *Provider) EstimateCost(req *llm.InferenceRequest) float64 {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	var info *llm.ModelInfo
	for i := range p.cfg.Models {
		if p.cfg.Models[i].Name == model {
			info = &p.cfg.Models[i]
			break
		}
	}
	if info == nil {
		return 0
	}

	// 估算必须零 I/O：tiktoken 首次初始化会拉取词表，这里固定用估算器
	counter := tokenizer.NewEstimator()
	inputTokens, err := counter.CountMessages(req.Messages)
	if err != nil {
		inputTokens = req.MaxTokens
	}
	// 输出长度未知，按 max_tokens 的一半估计
	outputTokens := req.MaxTokens / 2

	return float64(inputTokens)*info.InputCostPerTok + float64(outputTokens)*info.OutputCostPerTok
}
