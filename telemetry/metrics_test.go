package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsIncAccumulates(t *testing.T) {
	m := NewMetrics()
	m.Inc("steps.completed", 1)
	m.Inc("steps.completed", 2)
	m.Inc("steps.failed", 1)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Counters["steps.completed"])
	assert.Equal(t, int64(1), snap.Counters["steps.failed"])
}

func TestMetricsObserveComputesPercentiles(t *testing.T) {
	m := NewMetrics()
	for _, ms := range []int{10, 20, 30, 40, 50} {
		m.Observe("step.duration", time.Duration(ms)*time.Millisecond)
	}

	snap := m.Snapshot()
	stats := snap.Percentile["step.duration"]
	assert.Equal(t, 5, stats.Count)
	assert.Equal(t, 30*time.Millisecond, stats.Average)
	assert.Equal(t, 30*time.Millisecond, stats.P50)
	assert.Equal(t, 40*time.Millisecond, stats.P99)
}

func TestMetricsObserveEmptyIsZeroValue(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	assert.Empty(t, snap.Percentile)
	assert.Empty(t, snap.Counters)
}

func TestMetricsConcurrentIncIsRaceFree(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc("concurrent", 1)
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(50), snap.Counters["concurrent"])
}
