// Package gateflow provides a top-level convenience entry point that wires
// the full routing gateway from a single configuration.
//
// Usage:
//
//	import "github.com/BaSui01/gateflow"
//
//	cfg := config.MustLoad("gateflow.yaml")
//	gw, err := gateflow.New(cfg, logger)
//	defer gw.Close(ctx)
//
//	resp, err := gw.Handle(ctx, clientKey, "/v1/chat/completions", req, "cost_first")
//
// The facade assembles the shared state store, provider registry, telemetry,
// decision engine, admission controller and health prober; callers that need
// finer control can wire the underlying packages directly.
package gateflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/config"
	"github.com/BaSui01/gateflow/internal/metrics"
	"github.com/BaSui01/gateflow/internal/store"
	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/admission"
	"github.com/BaSui01/gateflow/llm/circuitbreaker"
	"github.com/BaSui01/gateflow/llm/gateway"
	"github.com/BaSui01/gateflow/llm/policy"
	"github.com/BaSui01/gateflow/llm/providers"
	"github.com/BaSui01/gateflow/llm/router"
	"github.com/BaSui01/gateflow/llm/scoring"
	"github.com/BaSui01/gateflow/llm/telemetry"
)

// Gateway 装配完成的路由网关。
type Gateway struct {
	cfg       *config.Config
	kv        store.KV
	registry  *llm.Registry
	policies  *policy.Manager
	telemetry *telemetry.Store
	engine    *router.Engine
	admission *admission.Controller
	collector *metrics.Collector
	manager   *gateway.Manager
	health    *llm.HealthMonitor
	logger    *zap.Logger
}

// New 从配置装配网关。Redis 不可用时自动降级为进程内存储并继续服务。
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("gateflow: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	kv := buildStore(cfg, logger)
	registry := providers.BuildRegistry(cfg, logger)

	policyMgr := policy.NewManager(logger)
	if err := policyMgr.Update(policiesFromConfig(cfg)); err != nil {
		return nil, err
	}

	telemetryStore := telemetry.NewStore(telemetry.StoreOptions{Logger: logger})
	collector := metrics.NewCollector(nil)

	scorer := scoring.New(scoring.Options{
		Telemetry: telemetryStore,
		Logger:    logger,
	})
	engine := router.New(router.Options{
		Registry:  registry,
		Policies:  policyMgr,
		Scorer:    scorer,
		Telemetry: telemetryStore,
		Logger:    logger,
	})

	admit := admission.New(admission.Options{
		Store:     kv,
		Telemetry: telemetryStore,
		Config: admission.Config{
			RequestsPerMinute:  cfg.Autoscaling.RequestsPerMinute,
			RequestsPerHour:    cfg.Autoscaling.RequestsPerHour,
			CheapFallbackModel: cfg.Autoscaling.CheapFallbackModel,
			EmergencyEndpoints: cfg.Autoscaling.EmergencyEndpoints,
			TokenBudgetDaily:   cfg.Autoscaling.TokenBudgetDaily,
			SpikeMultiplier:    cfg.Autoscaling.SpikeMultiplier,
			SpikeWindowSeconds: cfg.Autoscaling.SpikeWindowSeconds,
		},
		Logger: logger,
	})

	manager := gateway.New(gateway.Options{
		Registry:  registry,
		Engine:    engine,
		Admission: admit,
		Telemetry: telemetryStore,
		Store:     kv,
		Collector: collector,
		BreakerConfig: circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.CircuitBreaker.RecoveryTimeoutSeconds) * time.Second,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		},
		BulkheadMax: bulkheadLimits(cfg),
		Logger:      logger,
	})

	health := llm.NewHealthMonitor(llm.HealthMonitorOptions{
		Registry:  registry,
		Telemetry: telemetryStore,
		Collector: collector,
		Logger:    logger,
	})

	return &Gateway{
		cfg:       cfg,
		kv:        kv,
		registry:  registry,
		policies:  policyMgr,
		telemetry: telemetryStore,
		engine:    engine,
		admission: admit,
		collector: collector,
		manager:   manager,
		health:    health,
		logger:    logger,
	}, nil
}

// Handle 处理一次推理请求，等价于 Manager.Handle。
func (g *Gateway) Handle(ctx context.Context, clientKey, path string, req *llm.InferenceRequest, policyName string) (*gateway.Response, error) {
	return g.manager.Handle(ctx, clientKey, path, req, policyName)
}

// Start 启动后台健康巡检。
func (g *Gateway) Start() {
	g.health.Start()
}

// Close 停止巡检并关闭共享存储。
func (g *Gateway) Close() error {
	g.health.Stop()
	return g.kv.Close()
}

// ReloadPolicies 热加载新配置中的策略集并清空决策缓存。
// Provider 清单与熔断参数不做热更新，需要重启生效。
func (g *Gateway) ReloadPolicies(cfg *config.Config) error {
	if err := g.policies.Update(policiesFromConfig(cfg)); err != nil {
		return err
	}
	g.engine.InvalidateCache()
	g.logger.Info("policies reloaded",
		zap.Strings("policies", g.policies.Names()))
	return nil
}

// SetEmergency 运维开关：强制进入/退出 EMERGENCY 降级。
func (g *Gateway) SetEmergency(on bool) { g.manager.SetEmergency(on) }

// Registry 返回 Provider 注册表。
func (g *Gateway) Registry() *llm.Registry { return g.registry }

// Engine 返回决策引擎。
func (g *Gateway) Engine() *router.Engine { return g.engine }

// Manager 返回顶层编排器。
func (g *Gateway) Manager() *gateway.Manager { return g.manager }

// Telemetry 返回遥测存储。
func (g *Gateway) Telemetry() *telemetry.Store { return g.telemetry }

// Health 返回健康巡检器。
func (g *Gateway) Health() *llm.HealthMonitor { return g.health }

// buildStore 构建共享状态存储。Redis 地址为空直接用进程内存储；
// 配置了 Redis 时总是包一层故障转移，连接失败降级而不是拒绝启动。
func buildStore(cfg *config.Config, logger *zap.Logger) store.KV {
	if cfg.Redis.Addr == "" {
		logger.Info("no redis configured, using in-process state store")
		return store.NewMemory()
	}

	primary, err := store.NewRedis(store.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable at startup, degrading to in-process store",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
		return store.NewFailover(nil, logger)
	}
	return store.NewFailover(primary, logger)
}

// policiesFromConfig 把配置的策略段转换为策略对象，名字取映射键。
func policiesFromConfig(cfg *config.Config) []policy.Policy {
	out := make([]policy.Policy, 0, len(cfg.Policies))
	for name, pc := range cfg.Policies {
		out = append(out, policy.Policy{
			Name:     name,
			Strategy: pc.Strategy,
			Weights: policy.Weights{
				Latency:     pc.Weights.Latency,
				Cost:        pc.Weights.Cost,
				Reliability: pc.Weights.Reliability,
				Capability:  pc.Weights.Capability,
			},
			Constraints: policy.Constraints{
				MaxLatencyMs:      pc.Constraints.MaxLatencyMs,
				MaxCostPerRequest: pc.Constraints.MaxCostPerRequest,
				MinSuccessRate:    pc.Constraints.MinSuccessRate,
			},
			Fallbacks: pc.Fallbacks,
			Enabled:   pc.Enabled,
		})
	}
	return out
}

// bulkheadLimits 展开每 Provider 的并发上限，未覆盖的用缺省值。
func bulkheadLimits(cfg *config.Config) map[string]int {
	limits := make(map[string]int, len(cfg.Providers))
	for id := range cfg.Providers {
		if max, ok := cfg.Bulkhead.PerProvider[id]; ok {
			limits[id] = max
		} else {
			limits[id] = cfg.Bulkhead.DefaultMaxConcurrent
		}
	}
	return limits
}
