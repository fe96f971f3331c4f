package policy

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DefaultName 未显式指定策略时使用的策略名。
const DefaultName = "default"

// Weights 四个评分维度的权重，归一化后总和为 1。
type Weights struct {
	Latency     float64 `yaml:"latency" json:"latency"`
	Cost        float64 `yaml:"cost" json:"cost"`
	Reliability float64 `yaml:"reliability" json:"reliability"`
	Capability  float64 `yaml:"capability" json:"capability"`
}

// Sum 返回权重总和。
func (w Weights) Sum() float64 {
	return w.Latency + w.Cost + w.Reliability + w.Capability
}

// DefaultWeights 返回默认权重（偏向延迟与可靠性）。
func DefaultWeights() Weights {
	return Weights{Latency: 0.3, Cost: 0.2, Reliability: 0.3, Capability: 0.2}
}

// Constraints 硬约束：不满足的候选 Provider 直接从排名中剔除。
// 零值表示不启用该约束。
type Constraints struct {
	MaxLatencyMs      float64 `yaml:"max_latency_ms" json:"max_latency_ms"`
	MaxCostPerRequest float64 `yaml:"max_cost_per_request" json:"max_cost_per_request"`
	MinSuccessRate    float64 `yaml:"min_success_rate" json:"min_success_rate"`
}

// Policy 命名路由策略：权重 + 硬约束 + 回退策略链。
type Policy struct {
	Name        string      `yaml:"name" json:"name"`
	Strategy    string      `yaml:"strategy" json:"strategy"`
	Weights     Weights     `yaml:"weights" json:"weights"`
	Constraints Constraints `yaml:"constraints" json:"constraints"`
	Fallbacks   []string    `yaml:"fallbacks" json:"fallbacks"`
	Enabled     bool        `yaml:"enabled" json:"enabled"`
}

// Default 返回默认策略。
func Default() Policy {
	return Policy{
		Name:    DefaultName,
		Weights: DefaultWeights(),
		Enabled: true,
	}
}

// Normalize 归一化权重使其总和为 1。全零权重替换为默认权重。
// 该操作幂等：对已归一化的策略再次调用得到相同结果。
func (p Policy) Normalize() Policy {
	sum := p.Weights.Sum()
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		p.Weights = DefaultWeights()
		return p
	}
	p.Weights.Latency /= sum
	p.Weights.Cost /= sum
	p.Weights.Reliability /= sum
	p.Weights.Capability /= sum
	return p
}

// Validate 校验策略的可用性。
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	w := p.Weights
	if w.Latency < 0 || w.Cost < 0 || w.Reliability < 0 || w.Capability < 0 {
		return fmt.Errorf("policy %q: weights must be non-negative", p.Name)
	}
	if p.Constraints.MinSuccessRate < 0 || p.Constraints.MinSuccessRate > 1 {
		return fmt.Errorf("policy %q: min_success_rate must be in [0,1]", p.Name)
	}
	for _, fb := range p.Fallbacks {
		if fb == p.Name {
			return fmt.Errorf("policy %q: cannot list itself as fallback", p.Name)
		}
	}
	return nil
}

// Manager 策略管理器。持有全量命名策略，支持配置热更新整体替换。
type Manager struct {
	mu       sync.RWMutex
	policies map[string]Policy
	logger   *zap.Logger
}

// NewManager 创建策略管理器，内置默认策略。
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		policies: map[string]Policy{DefaultName: Default()},
		logger:   logger.With(zap.String("component", "policy")),
	}
	return m
}

// Update 整体替换策略集（配置热更新入口）。所有策略先校验再归一化；
// 任一策略非法则整批拒绝，保留旧策略集。默认策略缺失时自动补齐。
func (m *Manager) Update(policies []Policy) error {
	next := make(map[string]Policy, len(policies)+1)
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy update rejected: %w", err)
		}
		next[p.Name] = p.Normalize()
	}
	if _, ok := next[DefaultName]; !ok {
		next[DefaultName] = Default()
	}

	m.mu.Lock()
	m.policies = next
	m.mu.Unlock()

	m.logger.Info("policies updated", zap.Int("count", len(next)))
	return nil
}

// Get 按名称返回策略。name 为空返回默认策略；未找到或已禁用时 ok 为 false。
func (m *Manager) Get(name string) (Policy, bool) {
	if name == "" {
		name = DefaultName
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[name]
	if !ok || !p.Enabled {
		return Policy{}, false
	}
	return p, true
}

// Names 返回已注册的策略名（排序后），监控与调试用。
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.policies))
	for name := range m.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
