package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/gateflow/internal/store"
	"github.com/BaSui01/gateflow/llm/telemetry"
)

// =============================================================================
// 🚦 准入控制 / 过载降级
// =============================================================================

// FallbackLevel 准入分级结果。
type FallbackLevel string

const (
	// LevelNormal 限额内，正常进入决策引擎
	LevelNormal FallbackLevel = "NORMAL"
	// LevelCheapModel 接近限额或检测到流量尖峰，改写为低成本模型
	LevelCheapModel FallbackLevel = "CHEAP_MODEL"
	// LevelEmergency 紧急模式，跳过决策引擎直接走低成本兜底
	LevelEmergency FallbackLevel = "EMERGENCY"
	// LevelDeny 拒绝请求，附带 retry-after
	LevelDeny FallbackLevel = "DENY"
)

const (
	// DefaultRequestsPerMinute / DefaultRequestsPerHour 默认限额。
	DefaultRequestsPerMinute = 100
	DefaultRequestsPerHour   = 1000

	// cheapModelThreshold 分钟窗口达到该比例即降级为低成本模型。
	cheapModelThreshold = 0.8

	// denyRetryAfter 小时限额或 token 预算耗尽时的重试提示。
	denyRetryAfter = time.Hour
)

// Config 准入配置。
type Config struct {
	RequestsPerMinute  int      `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour    int      `yaml:"requests_per_hour" json:"requests_per_hour"`
	CheapFallbackModel string   `yaml:"cheap_fallback_model" json:"cheap_fallback_model"`
	EmergencyEndpoints []string `yaml:"emergency_endpoints" json:"emergency_endpoints"`
	TokenBudgetDaily   int64    `yaml:"token_budget_daily" json:"token_budget_daily"`
	SpikeMultiplier    float64  `yaml:"spike_multiplier" json:"spike_multiplier"`
	SpikeWindowSeconds int      `yaml:"spike_window_seconds" json:"spike_window_seconds"`
}

// DefaultConfig 返回默认准入配置。
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute:  DefaultRequestsPerMinute,
		RequestsPerHour:    DefaultRequestsPerHour,
		SpikeMultiplier:    2,
		SpikeWindowSeconds: 60,
	}
}

func (c Config) normalized() Config {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.RequestsPerHour <= 0 {
		c.RequestsPerHour = DefaultRequestsPerHour
	}
	if c.SpikeMultiplier <= 0 {
		c.SpikeMultiplier = 2
	}
	if c.SpikeWindowSeconds <= 0 {
		c.SpikeWindowSeconds = 60
	}
	return c
}

// Decision 准入结果。
type Decision struct {
	Level      FallbackLevel `json:"level"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Controller 准入控制器。滑动窗口计数经共享 KV 跨副本生效
// （键 ratelimit:<client>:<endpoint>:minute|hour）；存储故障时退化为
// 进程内令牌桶，宁可放行也不误伤。
type Controller struct {
	kv        store.KV
	telemetry *telemetry.Store
	budget    *Budget
	config    Config
	logger    *zap.Logger
	clock     func() time.Time

	emergency atomic.Bool

	// 存储降级时的进程内兜底限速
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Options Controller 配置。
type Options struct {
	Store     store.KV
	Telemetry *telemetry.Store
	Config    Config
	Logger    *zap.Logger
	Clock     func() time.Time // 测试钩子
}

// New 创建准入控制器。
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	cfg := opts.Config.normalized()
	return &Controller{
		kv:        opts.Store,
		telemetry: opts.Telemetry,
		budget:    NewBudget(opts.Store, cfg.TokenBudgetDaily, opts.Logger, opts.Clock),
		config:    cfg,
		logger:    opts.Logger.With(zap.String("component", "admission")),
		clock:     opts.Clock,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Budget 返回 token 预算计数器（执行路径成功后扣减用）。
func (c *Controller) Budget() *Budget { return c.budget }

// SetEmergency 运维开关：开启后所有请求进入 EMERGENCY 级别。
func (c *Controller) SetEmergency(on bool) {
	was := c.emergency.Swap(on)
	if was != on {
		c.logger.Warn("emergency mode toggled", zap.Bool("enabled", on))
	}
}

// Emergency 返回紧急模式开关状态。
func (c *Controller) Emergency() bool { return c.emergency.Load() }

// IsEmergencyEndpoint 判断路径是否在紧急端点清单中。
func (c *Controller) IsEmergencyEndpoint(path string) bool {
	for _, p := range c.config.EmergencyEndpoints {
		if p == path {
			return true
		}
	}
	return false
}

// CheapModel 返回配置的低成本兜底模型。
func (c *Controller) CheapModel() string { return c.config.CheapFallbackModel }

// Check 请求准入检查。分级判定顺序：
//
//	紧急开关 → token 预算 → 小时限额 (DENY) → 分钟限额 (EMERGENCY)
//	→ 分钟 80% 或全局尖峰 (CHEAP_MODEL) → NORMAL
func (c *Controller) Check(ctx context.Context, clientKey, endpoint string) Decision {
	if c.telemetry != nil {
		c.telemetry.RecordRequest(telemetry.GlobalKey)
	}

	if c.emergency.Load() {
		return Decision{Level: LevelEmergency, Reason: "emergency mode enabled"}
	}

	if exhausted, _ := c.budget.Exhausted(ctx, clientKey); exhausted {
		// 预算按 UTC 日界刷新，retry-after 指向下一个日界
		return Decision{
			Level:      LevelDeny,
			Reason:     "daily token budget exhausted",
			RetryAfter: c.budget.ResetIn(),
		}
	}

	minuteCount, hourCount, err := c.count(ctx, clientKey, endpoint)
	if err != nil {
		// 共享计数不可用：退化为进程内限速，只拦明显超量
		if !c.localAllow(clientKey) {
			return Decision{
				Level:      LevelDeny,
				Reason:     "local rate limit exceeded (degraded mode)",
				RetryAfter: time.Minute,
			}
		}
		return Decision{Level: LevelNormal}
	}

	if hourCount > int64(c.config.RequestsPerHour) {
		c.logger.Debug("hourly rate limit breached",
			zap.String("client", clientKey),
			zap.Int64("count", hourCount))
		return Decision{
			Level:      LevelDeny,
			Reason:     fmt.Sprintf("hourly limit of %d requests exceeded", c.config.RequestsPerHour),
			RetryAfter: denyRetryAfter,
		}
	}

	if minuteCount > int64(c.config.RequestsPerMinute) {
		return Decision{
			Level:  LevelEmergency,
			Reason: fmt.Sprintf("per-minute limit of %d requests breached", c.config.RequestsPerMinute),
		}
	}

	nearLimit := float64(minuteCount) >= cheapModelThreshold*float64(c.config.RequestsPerMinute)
	spike := c.telemetry != nil &&
		c.telemetry.DetectSpike(telemetry.GlobalKey, c.config.SpikeMultiplier, c.config.SpikeWindowSeconds)
	if nearLimit || spike {
		reason := "per-minute window at 80% of limit"
		if spike {
			reason = "global traffic spike detected"
		}
		return Decision{Level: LevelCheapModel, Reason: reason}
	}

	return Decision{Level: LevelNormal}
}

// count 递增并读取分钟/小时滑动窗口计数。首次创建时设置窗口 TTL。
func (c *Controller) count(ctx context.Context, clientKey, endpoint string) (minute, hour int64, err error) {
	minuteKey := fmt.Sprintf("ratelimit:%s:%s:minute", clientKey, endpoint)
	hourKey := fmt.Sprintf("ratelimit:%s:%s:hour", clientKey, endpoint)

	minute, err = c.kv.IncrBy(ctx, minuteKey, 1)
	if err != nil {
		return 0, 0, err
	}
	if minute == 1 {
		_ = c.kv.Expire(ctx, minuteKey, time.Minute)
	}

	hour, err = c.kv.IncrBy(ctx, hourKey, 1)
	if err != nil {
		return 0, 0, err
	}
	if hour == 1 {
		_ = c.kv.Expire(ctx, hourKey, time.Hour)
	}
	return minute, hour, nil
}

// localAllow 降级模式下的进程内令牌桶。
func (c *Controller) localAllow(clientKey string) bool {
	c.mu.Lock()
	lim, ok := c.limiters[clientKey]
	if !ok {
		perSecond := rate.Limit(float64(c.config.RequestsPerMinute) / 60.0)
		lim = rate.NewLimiter(perSecond, c.config.RequestsPerMinute)
		c.limiters[clientKey] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}
