package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/internal/store"
)

// State 熔断器状态。
type State string

const (
	// StateClosed 关闭状态（正常放行）
	StateClosed State = "closed"
	// StateOpen 打开状态（熔断中）
	StateOpen State = "open"
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen State = "half-open"
)

// ErrOpen 熔断器打开，调用被立即拒绝。
var ErrOpen = errors.New("circuit breaker is open")

// Config 熔断器配置。
type Config struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout 熔断恢复等待时间（Open -> HalfOpen）
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`

	// SuccessThreshold 半开状态下恢复所需的连续成功次数，
	// 同时限定半开状态下并发探测请求的上限
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

func (c Config) normalized() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	return c
}

// Breaker 单个 Provider 的熔断状态机。状态通过共享 KV 存储跨副本同步，
// 键结构：
//
//	circuit:<provider>:state      状态字符串
//	circuit:<provider>:failures   连续失败计数
//	circuit:<provider>:successes  半开成功计数
//	circuit:<provider>:last_fail  最后失败时间（unix 秒）
//	circuit:<provider>:probes     半开并发探测计数
//
// 共享存储不可用时由 store.Failover 降级为进程内状态，不阻塞请求。
type Breaker struct {
	provider string
	kv       store.KV
	config   Config
	logger   *zap.Logger
	clock    func() time.Time
}

// New 创建熔断器。
func New(provider string, kv store.KV, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		provider: provider,
		kv:       kv,
		config:   config.normalized(),
		logger:   logger.With(zap.String("component", "circuitbreaker"), zap.String("provider", provider)),
		clock:    time.Now,
	}
}

// WithClock 注入时钟（测试用）。
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

func (b *Breaker) key(suffix string) string {
	return fmt.Sprintf("circuit:%s:%s", b.provider, suffix)
}

// State 返回当前状态。存储读取失败按 closed 处理并记录告警。
func (b *Breaker) State(ctx context.Context) State {
	v, found, err := b.kv.Get(ctx, b.key("state"))
	if err != nil {
		b.logger.Warn("circuit state read failed, assuming closed", zap.Error(err))
		return StateClosed
	}
	if !found {
		return StateClosed
	}
	return State(v)
}

// Allow 调用前检查。返回 nil 表示放行；返回 ErrOpen 表示熔断拒绝。
// open 状态在恢复等待时间过后，由下一次调用通过 CAS 竞争进入 half-open，
// 半开状态下并发探测数以 SuccessThreshold 为上限。
func (b *Breaker) Allow(ctx context.Context) error {
	switch b.State(ctx) {
	case StateClosed:
		return nil

	case StateOpen:
		lastFail := b.lastFailTime(ctx)
		if b.clock().Sub(lastFail) < b.config.RecoveryTimeout {
			return ErrOpen
		}
		// 恢复窗口已过：竞争进入半开。输掉 CAS 的调用走半开探测准入。
		// successes/probes 已在 trip 时清零，此处不再删除：
		// 输掉 CAS 的副本可能已经占用了探测名额。
		ok, err := b.kv.CompareAndSet(ctx, b.key("state"), string(StateOpen), string(StateHalfOpen), 0)
		if err != nil {
			b.logger.Warn("circuit open->half-open transition failed", zap.Error(err))
			return ErrOpen
		}
		if ok {
			b.logger.Info("circuit entering half-open state")
		}
		return b.admitProbe(ctx)

	case StateHalfOpen:
		return b.admitProbe(ctx)

	default:
		return nil
	}
}

// admitProbe 半开状态探测准入：并发探测数不超过 SuccessThreshold。
func (b *Breaker) admitProbe(ctx context.Context) error {
	_, admitted, err := b.kv.IncrCapped(ctx, b.key("probes"), int64(b.config.SuccessThreshold))
	if err != nil {
		b.logger.Warn("half-open probe admission failed", zap.Error(err))
		return ErrOpen
	}
	if !admitted {
		return ErrOpen
	}
	// 探测计数兜底过期：名额若未被归还（进程崩溃等），恢复窗口过后
	// 自动释放，半开状态不会永久卡死。
	_ = b.kv.Expire(ctx, b.key("probes"), b.config.RecoveryTimeout)
	return nil
}

// ReleaseProbe 归还一个 Allow 已放行但最终没有成败结果的探测名额，
// 例如调用方取消或舱壁拒绝。不归还会耗尽名额并卡死半开状态。
// 非半开状态下为空操作。
func (b *Breaker) ReleaseProbe(ctx context.Context) {
	if b.State(ctx) != StateHalfOpen {
		return
	}
	b.releaseProbeSlot(ctx)
}

// releaseProbeSlot 探测计数减一，负值视为计数漂移并清零。
func (b *Breaker) releaseProbeSlot(ctx context.Context) {
	n, err := b.kv.IncrBy(ctx, b.key("probes"), -1)
	if err != nil {
		b.logger.Warn("half-open probe release failed", zap.Error(err))
		return
	}
	if n < 0 {
		_ = b.kv.Del(ctx, b.key("probes"))
	}
}

// OnSuccess 记录一次成功。closed 状态清零失败计数；half-open 状态累计
// 成功数，达到 SuccessThreshold 后复位为 closed。
func (b *Breaker) OnSuccess(ctx context.Context) {
	switch b.State(ctx) {
	case StateClosed:
		_ = b.kv.Del(ctx, b.key("failures"))

	case StateHalfOpen:
		b.releaseProbeSlot(ctx)
		n, err := b.kv.IncrBy(ctx, b.key("successes"), 1)
		if err != nil {
			b.logger.Warn("half-open success count failed", zap.Error(err))
			return
		}
		if int(n) >= b.config.SuccessThreshold {
			if ok, _ := b.kv.CompareAndSet(ctx, b.key("state"), string(StateHalfOpen), string(StateClosed), 0); ok {
				_ = b.kv.Del(ctx, b.key("failures"), b.key("successes"), b.key("last_fail"), b.key("probes"))
				b.logger.Info("circuit closed after successful probes",
					zap.Int64("successes", n))
			}
		}
	}
}

// OnFailure 记录一次失败。closed 状态累计失败数，达到阈值后打开熔断；
// half-open 状态任一失败立即重新打开并刷新失败时间戳。
func (b *Breaker) OnFailure(ctx context.Context) {
	now := b.clock()
	switch b.State(ctx) {
	case StateClosed:
		n, err := b.kv.IncrBy(ctx, b.key("failures"), 1)
		if err != nil {
			b.logger.Warn("failure count failed", zap.Error(err))
			return
		}
		if int(n) >= b.config.FailureThreshold {
			b.trip(ctx, now)
			b.logger.Warn("circuit opened",
				zap.Int64("failures", n),
				zap.Int("threshold", b.config.FailureThreshold))
		} else {
			_ = b.kv.Set(ctx, b.key("last_fail"), formatUnix(now), 0)
		}

	case StateHalfOpen:
		b.releaseProbeSlot(ctx)
		b.trip(ctx, now)
		b.logger.Warn("circuit reopened after half-open failure")
	}
}

// trip 打开熔断并记录失败时间戳。
func (b *Breaker) trip(ctx context.Context, now time.Time) {
	_ = b.kv.Set(ctx, b.key("state"), string(StateOpen), 0)
	_ = b.kv.Set(ctx, b.key("last_fail"), formatUnix(now), 0)
	_ = b.kv.Del(ctx, b.key("successes"), b.key("probes"))
}

// Reset 手动复位为 closed（运维操作）。
func (b *Breaker) Reset(ctx context.Context) {
	_ = b.kv.Set(ctx, b.key("state"), string(StateClosed), 0)
	_ = b.kv.Del(ctx, b.key("failures"), b.key("successes"), b.key("last_fail"), b.key("probes"))
	b.logger.Info("circuit manually reset")
}

func (b *Breaker) lastFailTime(ctx context.Context) time.Time {
	v, found, err := b.kv.Get(ctx, b.key("last_fail"))
	if err != nil || !found {
		return time.Time{}
	}
	sec, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, int64(sec*float64(time.Second)))
}

func formatUnix(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)
}
