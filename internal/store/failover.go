package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🛟 降级包装器
// =============================================================================

// Failover 包装共享存储：主存储出错时降级到进程内 Memory 并告警。
// 降级是严格的退化模式——跨副本原子性丢失，但请求永不因存储故障被阻塞。
// 主存储恢复（Ping 成功）后自动切回。
type Failover struct {
	primary  KV
	fallback *Memory
	logger   *zap.Logger

	degraded      atomic.Bool
	probeInterval time.Duration
	lastProbe     atomic.Int64 // unix nano
	warnOnce      sync.Once
}

// NewFailover 创建降级包装器。primary 为 nil 时直接运行在降级模式。
func NewFailover(primary KV, logger *zap.Logger) *Failover {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Failover{
		primary:       primary,
		fallback:      NewMemory(),
		logger:        logger.With(zap.String("component", "store")),
		probeInterval: 15 * time.Second,
	}
	if primary == nil {
		f.degraded.Store(true)
		f.logger.Warn("shared state store not configured, running on in-process state")
	}
	return f
}

// Degraded 返回是否处于降级模式。
func (f *Failover) Degraded() bool { return f.degraded.Load() }

// active 返回当前应使用的 KV。降级期间按 probeInterval 节流探测主存储。
func (f *Failover) active(ctx context.Context) KV {
	if f.primary == nil {
		return f.fallback
	}
	if !f.degraded.Load() {
		return f.primary
	}
	now := time.Now().UnixNano()
	last := f.lastProbe.Load()
	if now-last > f.probeInterval.Nanoseconds() && f.lastProbe.CompareAndSwap(last, now) {
		if err := f.primary.Ping(ctx); err == nil {
			f.degraded.Store(false)
			f.logger.Info("shared state store recovered, leaving degraded mode")
			return f.primary
		}
	}
	return f.fallback
}

// degrade 记录主存储故障并切到内存后备。
func (f *Failover) degrade(err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("shared state store unavailable, degrading to in-process state",
			zap.Error(err))
	} else {
		f.warnOnce.Do(func() {
			f.logger.Warn("shared state store still unavailable", zap.Error(err))
		})
	}
	f.lastProbe.Store(time.Now().UnixNano())
}

func (f *Failover) Get(ctx context.Context, key string) (string, bool, error) {
	kv := f.active(ctx)
	v, found, err := kv.Get(ctx, key)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.Get(ctx, key)
	}
	return v, found, err
}

func (f *Failover) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	kv := f.active(ctx)
	err := kv.Set(ctx, key, value, ttl)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.Set(ctx, key, value, ttl)
	}
	return err
}

func (f *Failover) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	kv := f.active(ctx)
	ok, err := kv.SetNX(ctx, key, value, ttl)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.SetNX(ctx, key, value, ttl)
	}
	return ok, err
}

func (f *Failover) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	kv := f.active(ctx)
	v, err := kv.IncrBy(ctx, key, n)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.IncrBy(ctx, key, n)
	}
	return v, err
}

func (f *Failover) IncrCapped(ctx context.Context, key string, max int64) (int64, bool, error) {
	kv := f.active(ctx)
	v, ok, err := kv.IncrCapped(ctx, key, max)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.IncrCapped(ctx, key, max)
	}
	return v, ok, err
}

func (f *Failover) CompareAndSet(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	kv := f.active(ctx)
	ok, err := kv.CompareAndSet(ctx, key, old, new, ttl)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.CompareAndSet(ctx, key, old, new, ttl)
	}
	return ok, err
}

func (f *Failover) Expire(ctx context.Context, key string, ttl time.Duration) error {
	kv := f.active(ctx)
	err := kv.Expire(ctx, key, ttl)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.Expire(ctx, key, ttl)
	}
	return err
}

func (f *Failover) Del(ctx context.Context, keys ...string) error {
	kv := f.active(ctx)
	err := kv.Del(ctx, keys...)
	if err != nil && kv == f.primary {
		f.degrade(err)
		return f.fallback.Del(ctx, keys...)
	}
	return err
}

func (f *Failover) Ping(ctx context.Context) error {
	if f.primary != nil && !f.degraded.Load() {
		return f.primary.Ping(ctx)
	}
	return f.fallback.Ping(ctx)
}

func (f *Failover) Close() error {
	if f.primary != nil {
		return f.primary.Close()
	}
	return nil
}
