package bulkhead

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/internal/store"
)

// ErrFull 舱壁已满，调用被立即拒绝（fail-fast，不排队）。
var ErrFull = errors.New("bulkhead is full")

// DefaultMaxConcurrent 默认每个 Provider 的并发上限。
const DefaultMaxConcurrent = 10

// Bulkhead 按 Provider 隔离并发的舱壁。并发计数通过共享 KV 的 capped
// 自增原语维护（键 bulkhead:<provider>:counter），跨副本生效。
// Enter 与 Exit 必须严格配对，包括 panic 与取消路径。
type Bulkhead struct {
	provider string
	kv       store.KV
	max      int64
	logger   *zap.Logger
}

// New 创建舱壁。maxConcurrent <= 0 时使用默认值。
func New(provider string, kv store.KV, maxConcurrent int, logger *zap.Logger) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bulkhead{
		provider: provider,
		kv:       kv,
		max:      int64(maxConcurrent),
		logger:   logger.With(zap.String("component", "bulkhead"), zap.String("provider", provider)),
	}
}

func (b *Bulkhead) key() string {
	return fmt.Sprintf("bulkhead:%s:counter", b.provider)
}

// Enter 尝试占用一个并发槽。满时立即返回 ErrFull。
// 存储故障按放行处理（降级模式由 store.Failover 兜底，此处不二次拒绝）。
func (b *Bulkhead) Enter(ctx context.Context) error {
	n, admitted, err := b.kv.IncrCapped(ctx, b.key(), b.max)
	if err != nil {
		b.logger.Warn("bulkhead admission check failed, allowing call", zap.Error(err))
		return nil
	}
	if !admitted {
		b.logger.Debug("bulkhead full, rejecting call",
			zap.Int64("in_flight", n),
			zap.Int64("max", b.max))
		return ErrFull
	}
	return nil
}

// Exit 释放并发槽。计数降为负值说明 Enter/Exit 配对被破坏，
// 复位为 0 并告警。
func (b *Bulkhead) Exit(ctx context.Context) {
	n, err := b.kv.IncrBy(ctx, b.key(), -1)
	if err != nil {
		b.logger.Warn("bulkhead release failed", zap.Error(err))
		return
	}
	if n < 0 {
		b.logger.Warn("bulkhead counter went negative, resetting",
			zap.Int64("counter", n))
		_ = b.kv.Set(ctx, b.key(), "0", 0)
	}
}

// InFlight 返回当前并发数（监控用）。
func (b *Bulkhead) InFlight(ctx context.Context) int64 {
	v, found, err := b.kv.Get(ctx, b.key())
	if err != nil || !found {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	if n < 0 {
		return 0
	}
	return n
}

// Max 返回并发上限。
func (b *Bulkhead) Max() int64 { return b.max }
