package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, found, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	v, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestMemoryTTL(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	_, found, _ := m.Get(ctx, "k")
	require.True(t, found)

	now = now.Add(61 * time.Second)
	_, found, _ = m.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemorySetNX(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "a", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "k", "b", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "a", v)
}

func TestMemoryIncrBy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	n, err := m.IncrBy(ctx, "c", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, _ = m.IncrBy(ctx, "c", -1)
	assert.Equal(t, int64(2), n)
}

func TestMemoryIncrCapped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, ok, err := m.IncrCapped(ctx, "c", 3)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, n)
	}
	n, ok, err := m.IncrCapped(ctx, "c", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestMemoryCompareAndSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// 空串 old 匹配不存在的键
	ok, err := m.CompareAndSet(ctx, "k", "", "first", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.CompareAndSet(ctx, "k", "wrong", "x", 0)
	assert.False(t, ok)

	ok, _ = m.CompareAndSet(ctx, "k", "first", "second", 0)
	assert.True(t, ok)

	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "second", v)
}

func TestMemoryExpireAndDel(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", 0))
	require.NoError(t, m.Expire(ctx, "a", time.Second))
	now = now.Add(2 * time.Second)
	_, found, _ := m.Get(ctx, "a")
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "b", "1", 0))
	require.NoError(t, m.Del(ctx, "b"))
	_, found, _ = m.Get(ctx, "b")
	assert.False(t, found)
}
