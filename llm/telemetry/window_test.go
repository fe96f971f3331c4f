package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var t0 = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestWindowEvictsOldEvents(t *testing.T) {
	w := NewRollingWindow(time.Minute)

	w.Add(t0, 1)
	w.Add(t0.Add(30*time.Second), 2)
	assert.Equal(t, 2, w.Count(t0.Add(30*time.Second)))

	// first event ages out at t0+61s
	assert.Equal(t, 1, w.Count(t0.Add(61*time.Second)))
	assert.Equal(t, 0, w.Count(t0.Add(2*time.Minute)))
}

func TestWindowCountSince(t *testing.T) {
	w := NewRollingWindow(time.Hour)
	for i := 0; i < 10; i++ {
		w.Add(t0.Add(time.Duration(i)*time.Minute), 1)
	}
	now := t0.Add(9 * time.Minute)

	assert.Equal(t, 10, w.CountSince(now, time.Hour))
	assert.Equal(t, 5, w.CountSince(now, 4*time.Minute+30*time.Second))
	assert.Equal(t, 1, w.CountSince(now, 30*time.Second))
}

func TestWindowAverageAndSum(t *testing.T) {
	w := NewRollingWindow(time.Hour)
	w.Add(t0, 100)
	w.Add(t0, 200)
	w.Add(t0, 300)

	assert.InDelta(t, 600, w.Sum(t0), 1e-9)
	assert.InDelta(t, 200, w.Average(t0), 1e-9)
}

func TestWindowEmptyReads(t *testing.T) {
	w := NewRollingWindow(time.Hour)

	assert.Equal(t, 0, w.Count(t0))
	assert.Zero(t, w.Average(t0))
	assert.Zero(t, w.P95(t0))
	_, ok := w.Newest(t0)
	assert.False(t, ok)
}

func TestWindowP95NearestRank(t *testing.T) {
	w := NewRollingWindow(time.Hour)
	for i := 1; i <= 100; i++ {
		w.Add(t0, float64(i))
	}
	assert.InDelta(t, 95, w.P95(t0), 1e-9)

	single := NewRollingWindow(time.Hour)
	single.Add(t0, 42)
	assert.InDelta(t, 42, single.P95(t0), 1e-9)
}

func TestWindowRate(t *testing.T) {
	w := NewRollingWindow(time.Minute)
	for i := 0; i < 30; i++ {
		w.Add(t0.Add(time.Duration(i)*time.Second), 1)
	}
	now := t0.Add(29 * time.Second)

	assert.InDelta(t, 0.5, w.Rate(now), 1e-9) // 30 events / 60 s
	assert.InDelta(t, 1.0, w.RateSince(now, 10*time.Second), 1e-9)
}

// 属性测试：任意时间递增的写入序列下，计数永远等于仍在窗口期内的
// 事件数，且 Percentile 的返回值必然是某个仍在窗口内的事件值。
func TestWindowProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		extentSec := rapid.IntRange(1, 3600).Draw(t, "extentSec")
		extent := time.Duration(extentSec) * time.Second
		w := NewRollingWindow(extent)

		now := t0
		type ev struct {
			at    time.Time
			value float64
		}
		var all []ev

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			advance := rapid.Int64Range(0, int64(extentSec)*2).Draw(t, "advance")
			now = now.Add(time.Duration(advance) * time.Second)
			v := rapid.Float64Range(0, 10000).Draw(t, "value")
			w.Add(now, v)
			all = append(all, ev{at: now, value: v})
		}

		cutoff := now.Add(-extent)
		inWindow := map[float64]bool{}
		expected := 0
		for _, e := range all {
			if e.at.After(cutoff) {
				expected++
				inWindow[e.value] = true
			}
		}

		if got := w.Count(now); got != expected {
			t.Fatalf("count = %d, want %d", got, expected)
		}
		if expected > 0 {
			p95 := w.P95(now)
			if !inWindow[p95] {
				t.Fatalf("p95 %v is not a value inside the window", p95)
			}
		}
	})
}
