package telemetry

import (
	"sort"
	"sync"
	"time"
)

type event struct {
	at    time.Time
	value float64
}

// RollingWindow is a time-ordered deque of (timestamp, value) events with a
// fixed temporal extent. Events older than the extent are evicted lazily on
// read or write, so the amortised cost per operation is constant.
//
// All methods are safe for concurrent use; the internal mutex is held only
// for the duration of the deque operation, never across I/O.
type RollingWindow struct {
	mu     sync.Mutex
	extent time.Duration
	events []event
}

// NewRollingWindow creates a window with the given temporal extent.
func NewRollingWindow(extent time.Duration) *RollingWindow {
	if extent <= 0 {
		extent = time.Hour
	}
	return &RollingWindow{extent: extent}
}

// Extent returns the window's temporal extent.
func (w *RollingWindow) Extent() time.Duration { return w.extent }

// Add records an event with value v at time now.
func (w *RollingWindow) Add(now time.Time, v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	w.events = append(w.events, event{at: now, value: v})
}

// Count returns the number of events within the window.
func (w *RollingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	return len(w.events)
}

// CountSince returns the number of events newer than now-d. When d exceeds
// the extent the full window count is returned.
func (w *RollingWindow) CountSince(now time.Time, d time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	cutoff := now.Add(-d)
	// Events are time-ordered; binary search for the cutoff.
	i := sort.Search(len(w.events), func(i int) bool {
		return w.events[i].at.After(cutoff)
	})
	return len(w.events) - i
}

// Sum returns the sum of event values within the window.
func (w *RollingWindow) Sum(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	var total float64
	for _, e := range w.events {
		total += e.value
	}
	return total
}

// Rate returns events per second over the window extent.
func (w *RollingWindow) Rate(now time.Time) float64 {
	return w.RateSince(now, w.extent)
}

// RateSince returns events per second over the trailing duration d.
func (w *RollingWindow) RateSince(now time.Time, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(w.CountSince(now, d)) / d.Seconds()
}

// Average returns the mean event value, or 0 for an empty window.
func (w *RollingWindow) Average(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	if len(w.events) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.events {
		total += e.value
	}
	return total / float64(len(w.events))
}

// P95 returns the 95th-percentile event value, or 0 for an empty window.
func (w *RollingWindow) P95(now time.Time) float64 {
	return w.Percentile(now, 0.95)
}

// Percentile returns the p-quantile (p in (0, 1]) of event values using the
// nearest-rank method.
func (w *RollingWindow) Percentile(now time.Time, p float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	n := len(w.events)
	if n == 0 {
		return 0
	}
	values := make([]float64, n)
	for i, e := range w.events {
		values[i] = e.value
	}
	sort.Float64s(values)
	rank := int(p*float64(n)+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= n {
		rank = n - 1
	}
	return values[rank]
}

// Newest returns the timestamp of the most recent event. The second return
// is false for an empty window.
func (w *RollingWindow) Newest(now time.Time) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	if len(w.events) == 0 {
		return time.Time{}, false
	}
	return w.events[len(w.events)-1].at, true
}

// evict drops events older than the extent. Caller must hold the mutex.
func (w *RollingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.extent)
	i := 0
	for i < len(w.events) && !w.events[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}
