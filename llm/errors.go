package llm

import (
	"context"
	"errors"
	"net/http"
)

// ErrorKind 统一错误分类，用于对齐可重试性、降级策略与 HTTP 状态。
type ErrorKind string

const (
	KindTimeout           ErrorKind = "TIMEOUT"             // 适配器外呼超过截止时间
	KindTransient         ErrorKind = "TRANSIENT"           // 上游可重试故障（5xx/网络）
	KindRateLimit         ErrorKind = "RATE_LIMITED"        // 上游限流
	KindAuth              ErrorKind = "AUTH_FAILED"         // 鉴权失败，Provider 应降级
	KindPermanent         ErrorKind = "PERMANENT"           // 适配器不变式违规
	KindCircuitOpen       ErrorKind = "CIRCUIT_OPEN"        // 熔断器拒绝
	KindBulkheadFull      ErrorKind = "BULKHEAD_FULL"       // 并发上限
	KindRateLimitExceeded ErrorKind = "RATE_LIMIT_EXCEEDED" // 准入拒绝
	KindNoProviders       ErrorKind = "NO_PROVIDERS"        // 无可用候选
	KindValidation        ErrorKind = "VALIDATION_FAILED"   // 请求校验失败
	KindCancelled         ErrorKind = "CANCELLED"           // 调用方取消
	KindInternal          ErrorKind = "INTERNAL"            // 未分类
)

// Error 核心错误类型。RetryAfter 仅在限流类错误上有意义。
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	RetryAfter int       `json:"retry_after_seconds,omitempty"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// NewError 构造核心错误，HTTP 状态与可重试性按类别推导。
func NewError(kind ErrorKind, message string) *Error {
	e := &Error{Kind: kind, Message: message}
	switch kind {
	case KindTimeout:
		e.HTTPStatus, e.Retryable = http.StatusGatewayTimeout, true
	case KindTransient:
		e.HTTPStatus, e.Retryable = http.StatusBadGateway, true
	case KindRateLimit, KindRateLimitExceeded:
		e.HTTPStatus, e.Retryable = http.StatusTooManyRequests, true
	case KindAuth:
		e.HTTPStatus = http.StatusUnauthorized
	case KindCircuitOpen, KindBulkheadFull, KindNoProviders:
		e.HTTPStatus, e.Retryable = http.StatusServiceUnavailable, true
	case KindValidation:
		e.HTTPStatus = http.StatusBadRequest
	case KindCancelled:
		e.HTTPStatus = 499
	default:
		e.HTTPStatus = http.StatusInternalServerError
	}
	return e
}

// WithProvider 标记错误来源 Provider。
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithRetryAfter 附加 retry-after 秒数提示。
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// KindOf 提取错误分类。context 取消与超时分别归入 Cancelled 与 Timeout，
// 其余未分类错误按 Internal 处理。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsRetryable 判断错误是否允许继续尝试下一候选。
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransient, KindRateLimit:
		return true
	}
	return false
}

// MarksDegraded 判断错误是否应将 Provider 状态标记为 degraded。
func MarksDegraded(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindPermanent:
		return true
	}
	return false
}
