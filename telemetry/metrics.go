package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a minimal counter/histogram registry. It intentionally doesn't
// pull in the full OTel metrics SDK (exporters, views, readers) — nothing in
// this engine's hot path needs more than named counters and duration
// observations, and the hosting application is free to bridge Snapshot()
// into Prometheus/OTLP itself.
type Metrics struct {
	mu         sync.Mutex
	counters   map[string]*int64
	durations  map[string][]time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		durations: make(map[string][]time.Duration),
	}
}

// Inc increments a named counter by delta.
func (m *Metrics) Inc(name string, delta int64) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var zero int64
		c = &zero
		m.counters[name] = c
	}
	m.mu.Unlock()
	atomic.AddInt64(c, delta)
}

// Observe records a duration sample under name (e.g. step execution time).
func (m *Metrics) Observe(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[name] = append(m.durations[name], d)
}

// Snapshot returns a point-in-time copy of all counters and computed
// percentiles for durations, suitable for exposing on a /metrics-style
// endpoint or bridging into another metrics system.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]int64, len(m.counters)),
		Percentile: make(map[string]DurationStats, len(m.durations)),
	}
	for k, v := range m.counters {
		snap.Counters[k] = atomic.LoadInt64(v)
	}
	for k, v := range m.durations {
		snap.Percentile[k] = computeStats(v)
	}
	return snap
}

// MetricsSnapshot is a frozen view of the registry's state.
type MetricsSnapshot struct {
	Counters   map[string]int64
	Percentile map[string]DurationStats
}

// DurationStats summarizes a set of duration samples.
type DurationStats struct {
	Count   int
	Average time.Duration
	P50     time.Duration
	P99     time.Duration
}

func computeStats(samples []time.Duration) DurationStats {
	if len(samples) == 0 {
		return DurationStats{}
	}
	sorted := append([]time.Duration(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	idx := func(p float64) time.Duration {
		i := int(p * float64(len(sorted)-1))
		return sorted[i]
	}
	return DurationStats{
		Count:   len(sorted),
		Average: total / time.Duration(len(sorted)),
		P50:     idx(0.50),
		P99:     idx(0.99),
	}
}
