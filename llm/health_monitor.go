package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/gateflow/internal/metrics"
	"github.com/BaSui01/gateflow/llm/telemetry"
)

// =============================================================================
// 💓 健康巡检
// =============================================================================

const (
	// DefaultProbeInterval 常规巡检间隔。
	DefaultProbeInterval = 60 * time.Second
	// DefaultProbeTimeout 单次健康检查超时。
	DefaultProbeTimeout = 10 * time.Second
)

// HealthMonitor 周期性探测注册表中的全部 Provider：结果写入遥测存储与
// 指标，并在 healthy/unhealthy 间翻转注册表状态。运维人工设置的
// disabled 与 maintenance 状态不会被巡检覆盖。
// 健康检查不经过熔断器。
type HealthMonitor struct {
	registry  *Registry
	telemetry *telemetry.Store
	collector *metrics.Collector
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	group  singleflight.Group
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// HealthMonitorOptions HealthMonitor 配置。
type HealthMonitorOptions struct {
	Registry  *Registry
	Telemetry *telemetry.Store
	Collector *metrics.Collector
	Interval  time.Duration
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewHealthMonitor 创建健康巡检器。
func NewHealthMonitor(opts HealthMonitorOptions) *HealthMonitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &HealthMonitor{
		registry:  opts.Registry,
		telemetry: opts.Telemetry,
		collector: opts.Collector,
		interval:  opts.Interval,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With(zap.String("component", "health_monitor")),
		stopCh:    make(chan struct{}),
	}
}

// Start 启动后台巡检循环。
func (h *HealthMonitor) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		h.ProbeAll(context.Background())
		for {
			select {
			case <-ticker.C:
				h.ProbeAll(context.Background())
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop 停止巡检并等待在途探测结束。
func (h *HealthMonitor) Stop() {
	h.once.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

// ProbeAll 并发巡检全部 Provider。同一 Provider 的并发探测经
// singleflight 合并，避免慢探测堆积。
func (h *HealthMonitor) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range h.registry.All() {
		if !e.Info.Enabled {
			continue
		}
		entry := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.probe(ctx, entry)
		}()
	}
	wg.Wait()
}

// probe 探测单个 Provider 并落账。
func (h *HealthMonitor) probe(ctx context.Context, entry *Entry) {
	id := entry.Info.ID
	v, err, _ := h.group.Do(id, func() (any, error) {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		return entry.Adapter.HealthCheck(probeCtx)
	})

	state := HealthUnhealthy
	if err == nil {
		if status, ok := v.(*HealthStatus); ok && status != nil {
			state = status.State
		}
	} else {
		h.logger.Warn("health check failed",
			zap.String("provider", id),
			zap.Error(err))
	}

	h.telemetry.RecordHealth(id, string(state))
	if h.collector != nil {
		h.collector.HealthChecks.WithLabelValues(id, string(state)).Inc()
		up := 0.0
		if state == HealthHealthy {
			up = 1
		}
		h.collector.ProviderUp.WithLabelValues(id).Set(up)
	}
	h.reconcileStatus(id, state)
}

// reconcileStatus 依据探测结果翻转运营状态。只在 active 与 degraded
// 之间转换，不触碰 disabled / maintenance。
func (h *HealthMonitor) reconcileStatus(id string, state HealthState) {
	current, ok := h.registry.Status(id)
	if !ok {
		return
	}
	switch {
	case state == HealthUnhealthy && current == StatusActive:
		h.logger.Warn("provider unhealthy, degrading", zap.String("provider", id))
		_ = h.registry.SetStatus(id, StatusDegraded)
	case state == HealthHealthy && current == StatusDegraded:
		h.logger.Info("provider recovered, reactivating", zap.String("provider", id))
		_ = h.registry.SetStatus(id, StatusActive)
	}
}
