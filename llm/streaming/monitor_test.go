package streaming

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to, making throughput math exact.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor() (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor()
	m.now = clock.now
	m.start = clock.t
	m.lastRead = clock.t
	return m, clock
}

func TestMonitorThroughputIsInstantaneous(t *testing.T) {
	m, clock := newTestMonitor()

	for i := 0; i < 100; i++ {
		m.RecordChunk(50, time.Millisecond)
	}
	clock.advance(2 * time.Second)

	got := m.GetMetrics()
	assert.InDelta(t, 50.0, got.ChunksPerSecond, 0.01)
	assert.InDelta(t, 2500.0, got.BytesPerSecond, 0.01)
	assert.Equal(t, int64(100), got.TotalChunks)

	// Reading advanced the cursor: no new chunks means zero instantaneous
	// throughput, while totals keep accumulating.
	clock.advance(time.Second)
	got = m.GetMetrics()
	assert.Zero(t, got.ChunksPerSecond)
	assert.Equal(t, int64(100), got.TotalChunks)
}

func TestMonitorLatencyPercentiles(t *testing.T) {
	m, _ := newTestMonitor()

	// 99 fast chunks and one slow outlier.
	for i := 0; i < 99; i++ {
		m.RecordChunk(10, 2*time.Millisecond)
	}
	m.RecordChunk(10, 500*time.Millisecond)

	got := m.GetMetrics()
	assert.Greater(t, got.P99ProcessingMs, got.P95ProcessingMs)
	assert.InDelta(t, 500.0, got.P99ProcessingMs, 1.0)
	assert.Less(t, got.AvgProcessingMs, 10.0)
}

func TestMonitorInsightSlowProcessing(t *testing.T) {
	m, clock := newTestMonitor()

	// 100 chunks at 100ms each trips the slow-processing rule.
	for i := 0; i < 100; i++ {
		m.RecordChunk(100, 100*time.Millisecond)
	}
	clock.advance(time.Second)

	insights := m.GetInsights()
	require.NotEmpty(t, insights)
	found := false
	for _, s := range insights {
		if strings.Contains(s, "high average processing time") {
			found = true
		}
	}
	assert.True(t, found, "expected slow-processing insight, got %v", insights)
}

func TestMonitorInsightHealthy(t *testing.T) {
	m, clock := newTestMonitor()

	for i := 0; i < 1000; i++ {
		m.RecordChunk(100, time.Millisecond)
	}
	clock.advance(time.Second) // 1000 chunks/s, 1ms latency

	insights := m.GetInsights()
	require.Len(t, insights, 1)
	assert.Equal(t, "stream performance looks good", insights[0])
}

func TestMonitorInsightOverflowAndBackpressure(t *testing.T) {
	m, clock := newTestMonitor()

	for i := 0; i < 10; i++ {
		m.RecordChunk(100, time.Millisecond)
	}
	m.RecordBufferOverflow()
	for i := 0; i < 5; i++ {
		m.RecordBackpressure()
	}
	clock.advance(10 * time.Millisecond)

	joined := strings.Join(m.GetInsights(), "\n")
	assert.Contains(t, joined, "dropped to overflow")
	assert.Contains(t, joined, "frequent backpressure")
}

func TestMonitorReset(t *testing.T) {
	m, clock := newTestMonitor()

	m.RecordChunk(100, time.Millisecond)
	m.RecordError()
	m.RecordBufferOverflow()
	m.RecordBufferUtilization(90)
	clock.advance(time.Minute)

	m.Reset()

	got := m.GetMetrics()
	assert.Zero(t, got.TotalChunks)
	assert.Zero(t, got.TotalErrors)
	assert.Zero(t, got.BufferOverflows)
	assert.Zero(t, got.AvgBufferUtilization)
	assert.Zero(t, got.SessionDuration)
}

func TestSampleWindowEvictsOldest(t *testing.T) {
	w := newSampleWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.add(v)
	}
	assert.Equal(t, []float64{3, 4, 5}, w.values())
	assert.InDelta(t, 4.0, w.mean(), 1e-9)
}
