package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/internal/store"
)

// budgetTTL 预算键保留 7 天，便于事后审计用量。
const budgetTTL = 7 * 24 * time.Hour

// Budget 每客户端每日 token 预算。计数按 UTC 日期分键
// （token_budget:<client>:<YYYY-MM-DD>），跨副本共享。
// dailyLimit <= 0 表示不启用预算。
type Budget struct {
	kv     store.KV
	limit  int64
	logger *zap.Logger
	clock  func() time.Time
}

// NewBudget 创建预算计数器。
func NewBudget(kv store.KV, dailyLimit int64, logger *zap.Logger, clock func() time.Time) *Budget {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Budget{
		kv:     kv,
		limit:  dailyLimit,
		logger: logger.With(zap.String("component", "budget")),
		clock:  clock,
	}
}

// Enabled 返回预算是否启用。
func (b *Budget) Enabled() bool { return b.limit > 0 }

func (b *Budget) key(clientKey string) string {
	return fmt.Sprintf("token_budget:%s:%s", clientKey, b.clock().UTC().Format("2006-01-02"))
}

// Debit 扣减用量。只在请求成功完成后调用；失败的请求不消耗预算。
func (b *Budget) Debit(ctx context.Context, clientKey string, tokens int64) error {
	if !b.Enabled() || tokens <= 0 {
		return nil
	}
	key := b.key(clientKey)
	n, err := b.kv.IncrBy(ctx, key, tokens)
	if err != nil {
		b.logger.Warn("token budget debit failed", zap.Error(err))
		return err
	}
	if n == tokens {
		_ = b.kv.Expire(ctx, key, budgetTTL)
	}
	return nil
}

// Exhausted 返回客户端当日预算是否耗尽。存储故障按未耗尽处理。
func (b *Budget) Exhausted(ctx context.Context, clientKey string) (bool, error) {
	if !b.Enabled() {
		return false, nil
	}
	v, found, err := b.kv.Get(ctx, b.key(clientKey))
	if err != nil {
		b.logger.Warn("token budget read failed, allowing request", zap.Error(err))
		return false, err
	}
	if !found {
		return false, nil
	}
	used, _ := strconv.ParseInt(v, 10, 64)
	return used >= b.limit, nil
}

// ResetIn 返回距预算刷新（下一个 UTC 日界）的时长。
func (b *Budget) ResetIn() time.Duration {
	now := b.clock().UTC()
	next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}

// Used 返回客户端当日已用 token 数（监控用）。
func (b *Budget) Used(ctx context.Context, clientKey string) int64 {
	v, found, err := b.kv.Get(ctx, b.key(clientKey))
	if err != nil || !found {
		return 0
	}
	used, _ := strconv.ParseInt(v, 10, 64)
	return used
}
