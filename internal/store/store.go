// Package store provides the shared key-value state store used by the
// circuit breaker, bulkhead, rate-limit and token-budget components.
// This package is internal and should not be imported by external projects.
package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// =============================================================================
// 🔑 共享状态存储接口
// =============================================================================

// KV 跨副本共享状态的最小原子操作集。所有实现必须保证单个操作的原子性；
// 熔断器与舱壁的正确性依赖 CompareAndSet 与 IncrCapped。
type KV interface {
	// Get 返回键值。键不存在时 found 为 false，不视为错误。
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set 写入键值。ttl 为 0 表示不过期。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX 键不存在时写入，返回是否写入成功。
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IncrBy 原子加 n（n 可为负），返回新值。键不存在按 0 处理。
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// IncrCapped 当前值小于 max 时原子加一并返回 (新值, true)；
	// 否则不修改并返回 (当前值, false)。舱壁的核心原语。
	IncrCapped(ctx context.Context, key string, max int64) (int64, bool, error)

	// CompareAndSet 当前值等于 old 时原子替换为 new。old 为空串匹配不存在的键。
	CompareAndSet(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)

	// Expire 设置键的过期时间。
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Del 删除键。
	Del(ctx context.Context, keys ...string) error

	// Ping 探测存储可用性。
	Ping(ctx context.Context) error

	// Close 释放连接资源。
	Close() error
}

// =============================================================================
// 💾 内存实现（降级模式 / 测试）
// =============================================================================

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero 表示不过期
}

// Memory 进程内 KV 实现。共享存储不可用时的降级后备，也用于测试。
// 跨副本原子性在该模式下退化为进程内原子性。
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   func() time.Time
}

// NewMemory 创建内存 KV。
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry), clock: time.Now}
}

// NewMemoryWithClock 创建带时钟注入的内存 KV（测试用）。
func NewMemoryWithClock(clock func() time.Time) *Memory {
	return &Memory{entries: make(map[string]*memoryEntry), clock: clock}
}

func (m *Memory) get(key string) (*memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && m.clock().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.entries[key] = &memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := int64(0)
	var expiresAt time.Time
	if e, ok := m.get(key); ok {
		cur = parseInt(e.value)
		expiresAt = e.expiresAt
	}
	cur += n
	m.entries[key] = &memoryEntry{value: formatInt(cur), expiresAt: expiresAt}
	return cur, nil
}

func (m *Memory) IncrCapped(_ context.Context, key string, max int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := int64(0)
	var expiresAt time.Time
	if e, ok := m.get(key); ok {
		cur = parseInt(e.value)
		expiresAt = e.expiresAt
	}
	if cur >= max {
		return cur, false, nil
	}
	cur++
	m.entries[key] = &memoryEntry{value: formatInt(cur), expiresAt: expiresAt}
	return cur, true, nil
}

func (m *Memory) CompareAndSet(_ context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if (!ok && old != "") || (ok && e.value != old) {
		return false, nil
	}
	m.entries[key] = &memoryEntry{value: new, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.get(key); ok {
		e.expiresAt = m.expiry(ttl)
	}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
