package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// GlobalKey is the pseudo-provider key used for process-wide request counts
// (admission-level spike detection).
const GlobalKey = "_global"

const (
	// DefaultWindow is the rolling-window extent for metrics queries.
	DefaultWindow = time.Hour
	// baselineFactor sizes the spike-detection baseline window relative to
	// the metrics window.
	baselineFactor = 4
	// DefaultMinSLASamples is the minimum sample size below which SLA
	// compliance is never asserted.
	DefaultMinSLASamples = 20
)

// ProviderMetrics is a point-in-time summary derived from the windows.
type ProviderMetrics struct {
	RequestsPerHour float64 `json:"requests_per_hour"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	P95LatencyMs    float64 `json:"p95_latency_ms"`
	// SuccessRate is the share of completed calls (outcome recorded) that
	// succeeded. ErrorRate divides errors by all requests in the window,
	// including admission-only events with no outcome yet, so the two are
	// not complements of each other.
	SuccessRate  float64   `json:"success_rate"`
	ErrorRate    float64   `json:"error_rate"`
	SampleSize   int       `json:"sample_size"`
	LastSampleAt time.Time `json:"last_sample_at,omitempty"`
}

// SLAReport is the result of an SLA compliance query.
type SLAReport struct {
	Compliant    bool    `json:"compliant"`
	CurrentP95   float64 `json:"current_p95_ms"`
	TargetMs     float64 `json:"target_ms"`
	SampleSize   int     `json:"sample_size"`
	EnoughSample bool    `json:"enough_samples"`
}

// HealthSample is the most recent health-check outcome for a provider.
type HealthSample struct {
	State     string    `json:"state"`
	CheckedAt time.Time `json:"checked_at"`
}

type providerWindows struct {
	requests *RollingWindow // request timestamps, baseline extent for spike detection
	latency  *RollingWindow // latency samples in milliseconds
	errors   *RollingWindow // error events
	health   *RollingWindow // health outcomes (1 healthy, 0 otherwise)

	mu         sync.Mutex
	lastHealth HealthSample
}

// Store is the process-local telemetry store: one set of rolling windows per
// provider. Writes never block longer than an amortised-constant eviction
// and never fail; the store is the single feeding point for scoring and SLA
// checks.
type Store struct {
	mu        sync.RWMutex
	window    time.Duration
	minSample int
	providers map[string]*providerWindows
	logger    *zap.Logger
	clock     func() time.Time
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Window        time.Duration
	MinSLASamples int
	Logger        *zap.Logger
	Clock         func() time.Time // test hook
}

// NewStore creates a Store with the given options.
func NewStore(opts StoreOptions) *Store {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MinSLASamples <= 0 {
		opts.MinSLASamples = DefaultMinSLASamples
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{
		window:    opts.Window,
		minSample: opts.MinSLASamples,
		providers: make(map[string]*providerWindows),
		logger:    opts.Logger.With(zap.String("component", "telemetry")),
		clock:     opts.Clock,
	}
}

func (s *Store) windows(provider string) *providerWindows {
	s.mu.RLock()
	pw, ok := s.providers[provider]
	s.mu.RUnlock()
	if ok {
		return pw
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pw, ok = s.providers[provider]; ok {
		return pw
	}
	pw = &providerWindows{
		requests: NewRollingWindow(s.window * baselineFactor),
		latency:  NewRollingWindow(s.window),
		errors:   NewRollingWindow(s.window),
		health:   NewRollingWindow(s.window),
	}
	s.providers[provider] = pw
	return pw
}

// RecordRequest records one request event for the provider.
func (s *Store) RecordRequest(provider string) {
	s.windows(provider).requests.Add(s.clock(), 1)
}

// RecordOutcome records a completed call: one request event, one latency
// sample, and an error event on failure.
func (s *Store) RecordOutcome(provider string, latencyMs float64, success bool) {
	now := s.clock()
	pw := s.windows(provider)
	pw.requests.Add(now, 1)
	pw.latency.Add(now, latencyMs)
	if !success {
		pw.errors.Add(now, 1)
	}
}

// RecordHealth records a health-check outcome. state is one of the
// llm.HealthState string values; anything other than "healthy" counts as 0
// in the health window.
func (s *Store) RecordHealth(provider, state string) {
	now := s.clock()
	pw := s.windows(provider)
	v := 0.0
	if state == "healthy" {
		v = 1
	}
	pw.health.Add(now, v)
	pw.mu.Lock()
	pw.lastHealth = HealthSample{State: state, CheckedAt: now}
	pw.mu.Unlock()
}

// LastHealth returns the most recent health-check outcome for the provider.
// ok is false when no health check has ever been recorded.
func (s *Store) LastHealth(provider string) (HealthSample, bool) {
	s.mu.RLock()
	pw, exists := s.providers[provider]
	s.mu.RUnlock()
	if !exists {
		return HealthSample{}, false
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.lastHealth.CheckedAt.IsZero() {
		return HealthSample{}, false
	}
	return pw.lastHealth, true
}

// Metrics derives the per-provider summary from the windows. An empty window
// yields zero sample size and zero rates, never an error.
func (s *Store) Metrics(provider string) ProviderMetrics {
	now := s.clock()
	pw := s.windows(provider)

	m := ProviderMetrics{
		RequestsPerHour: pw.requests.RateSince(now, s.window) * 3600,
		AvgLatencyMs:    pw.latency.Average(now),
		P95LatencyMs:    pw.latency.P95(now),
		SampleSize:      pw.latency.Count(now),
	}
	errs := pw.errors.Count(now)
	requests := pw.requests.CountSince(now, s.window)
	if requests > 0 {
		m.ErrorRate = float64(errs) / float64(requests)
		if m.ErrorRate > 1 {
			m.ErrorRate = 1
		}
	}
	m.SuccessRate = 1
	if m.SampleSize > 0 {
		m.SuccessRate = float64(m.SampleSize-errs) / float64(m.SampleSize)
		if m.SuccessRate < 0 {
			m.SuccessRate = 0
		}
	}
	if newest, ok := pw.latency.Newest(now); ok {
		m.LastSampleAt = newest
	}
	return m
}

// SLACompliance reports whether the provider's current p95 meets targetMs.
// Compliance is only asserted once the sample size exceeds the configured
// minimum; below it the report carries EnoughSample=false.
func (s *Store) SLACompliance(provider, model string, targetMs float64) SLAReport {
	now := s.clock()
	pw := s.windows(provider)
	_ = model // reported per provider; per-model windows are not maintained

	p95 := pw.latency.P95(now)
	n := pw.latency.Count(now)
	report := SLAReport{
		CurrentP95:   p95,
		TargetMs:     targetMs,
		SampleSize:   n,
		EnoughSample: n >= s.minSample,
	}
	report.Compliant = report.EnoughSample && p95 <= targetMs
	return report
}

// DetectSpike compares the current request rate over the trailing window
// (in seconds) to the baseline rate over the long window. Returns true when
// current > baseline * multiplier and the baseline holds at least the
// minimum sample size; sparse traffic never registers as a spike.
func (s *Store) DetectSpike(provider string, multiplier float64, windowSeconds int) bool {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	now := s.clock()
	pw := s.windows(provider)

	if pw.requests.Count(now) < s.minSample {
		return false
	}
	baseline := pw.requests.Rate(now)
	if baseline <= 0 {
		return false
	}
	current := pw.requests.RateSince(now, time.Duration(windowSeconds)*time.Second)
	return current > baseline*multiplier
}
