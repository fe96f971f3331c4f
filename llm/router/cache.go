package router

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/gateflow/llm"
)

// =============================================================================
// 🗃️ 决策缓存
// =============================================================================

const (
	// DefaultCacheTTL 决策缓存有效期。
	DefaultCacheTTL = 5 * time.Minute
	// maxCacheEntries 缓存条目上限，超出后整体清空（决策可重算，无需 LRU）。
	maxCacheEntries = 4096
)

// CacheKey 请求的决策键。只取路由形状字段：模型族、模型、max_tokens、
// temperature、消息条数与策略名。绝不包含消息正文或凭证。
func CacheKey(req *llm.InferenceRequest, policyName string) string {
	var b strings.Builder
	b.WriteString(req.ModelFamily)
	b.WriteByte('|')
	b.WriteString(req.Model)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.MaxTokens))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(float64(req.Temperature), 'f', 2, 32))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(req.Messages)))
	b.WriteByte('|')
	b.WriteString(policyName)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

type cacheEntry struct {
	decision  RoutingDecision
	expiresAt time.Time
}

// decisionCache 进程内决策缓存。决策是本进程遥测快照的函数，
// 跨副本共享反而会放大过期视图，故有意不走共享存储。
type decisionCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   func() time.Time
}

func newDecisionCache(ttl time.Duration, clock func() time.Time) *decisionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &decisionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *decisionCache) get(key string) (RoutingDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return RoutingDecision{}, false
	}
	if c.clock().After(e.expiresAt) {
		delete(c.entries, key)
		return RoutingDecision{}, false
	}
	return e.decision, true
}

func (c *decisionCache) put(key string, d RoutingDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= maxCacheEntries {
		c.entries = make(map[string]cacheEntry, maxCacheEntries/4)
	}
	c.entries[key] = cacheEntry{decision: d, expiresAt: c.clock().Add(c.ttl)}
}

// invalidate 清空全部缓存（Provider 状态变化、策略热更新时调用）。
func (c *decisionCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *decisionCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
