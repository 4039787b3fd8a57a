package streaming

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// windowSize caps each sliding sample window.
const windowSize = 1000

// sampleWindow is a fixed-capacity ring of float64 samples with O(1)
// oldest-sample eviction.
type sampleWindow struct {
	buf  []float64
	head int
	size int
}

func newSampleWindow(capacity int) *sampleWindow {
	return &sampleWindow{buf: make([]float64, capacity)}
}

func (w *sampleWindow) add(v float64) {
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

func (w *sampleWindow) values() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

func (w *sampleWindow) mean() float64 {
	if w.size == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.values() {
		sum += v
	}
	return sum / float64(w.size)
}

func (w *sampleWindow) clear() {
	w.head = 0
	w.size = 0
}

// Metrics is a computed snapshot of pipeline performance. Throughput fields
// are instantaneous (delta since the previous Metrics call), not lifetime
// averages.
type Metrics struct {
	ChunksPerSecond float64 `json:"chunks_per_second"`
	BytesPerSecond  float64 `json:"bytes_per_second"`

	AvgProcessingMs float64 `json:"avg_processing_ms"`
	P95ProcessingMs float64 `json:"p95_processing_ms"`
	P99ProcessingMs float64 `json:"p99_processing_ms"`

	AvgChunkBytes        float64 `json:"avg_chunk_bytes"`
	AvgBufferUtilization float64 `json:"avg_buffer_utilization"`

	TotalChunks        int64 `json:"total_chunks"`
	TotalBytes         int64 `json:"total_bytes"`
	TotalErrors        int64 `json:"total_errors"`
	BufferOverflows    int64 `json:"buffer_overflows"`
	BackpressureEvents int64 `json:"backpressure_events"`

	SessionDuration time.Duration `json:"session_duration"`
}

// Monitor records per-chunk and buffer observations into bounded sliding
// windows and derives throughput, percentile latency and tuning insights on
// demand. All methods are safe for concurrent use.
//
// Metrics resets the "since last call" throughput cursor as a side effect of
// reading: two independent readers must each own a Monitor instance.
type Monitor struct {
	mu sync.Mutex

	start time.Time
	now   func() time.Time // test hook

	totalChunks        int64
	totalBytes         int64
	totalErrors        int64
	bufferOverflows    int64
	backpressureEvents int64

	procTimes    *sampleWindow // milliseconds
	utilizations *sampleWindow // percent
	chunkSizes   *sampleWindow // bytes

	lastRead       time.Time
	lastReadChunks int64
	lastReadBytes  int64
}

// NewMonitor creates a monitor. The session clock starts now.
func NewMonitor() *Monitor {
	now := time.Now
	return &Monitor{
		start:        now(),
		now:          now,
		procTimes:    newSampleWindow(windowSize),
		utilizations: newSampleWindow(windowSize),
		chunkSizes:   newSampleWindow(windowSize),
		lastRead:     now(),
	}
}

// RecordChunk records one processed chunk's size and processing latency.
func (m *Monitor) RecordChunk(sizeBytes int, processingTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalChunks++
	m.totalBytes += int64(sizeBytes)
	m.procTimes.add(float64(processingTime.Microseconds()) / 1000)
	m.chunkSizes.add(float64(sizeBytes))
}

// RecordBufferUtilization records a buffer fill-level sample (percent).
func (m *Monitor) RecordBufferUtilization(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utilizations.add(percent)
}

// RecordBufferOverflow counts one dropped chunk.
func (m *Monitor) RecordBufferOverflow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferOverflows++
}

// RecordBackpressure counts one producer pause.
func (m *Monitor) RecordBackpressure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backpressureEvents++
}

// RecordError counts one stream error.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalErrors++
}

// GetMetrics computes a snapshot. Reading advances the throughput cursor.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	elapsed := now.Sub(m.lastRead).Seconds()

	var chunksPerSec, bytesPerSec float64
	if elapsed > 0 {
		chunksPerSec = float64(m.totalChunks-m.lastReadChunks) / elapsed
		bytesPerSec = float64(m.totalBytes-m.lastReadBytes) / elapsed
	}
	m.lastRead = now
	m.lastReadChunks = m.totalChunks
	m.lastReadBytes = m.totalBytes

	avg, p95, p99 := percentiles(m.procTimes.values())

	return Metrics{
		ChunksPerSecond:      chunksPerSec,
		BytesPerSecond:       bytesPerSec,
		AvgProcessingMs:      avg,
		P95ProcessingMs:      p95,
		P99ProcessingMs:      p99,
		AvgChunkBytes:        m.chunkSizes.mean(),
		AvgBufferUtilization: m.utilizations.mean(),
		TotalChunks:          m.totalChunks,
		TotalBytes:           m.totalBytes,
		TotalErrors:          m.totalErrors,
		BufferOverflows:      m.bufferOverflows,
		BackpressureEvents:   m.backpressureEvents,
		SessionDuration:      now.Sub(m.start),
	}
}

// GetInsights evaluates rule-based thresholds against the current windows and
// returns one recommendation per firing rule, or a single healthy message.
// Unlike GetMetrics it does not advance the throughput cursor; throughput
// rules use the lifetime average instead.
func (m *Monitor) GetInsights() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var insights []string

	elapsed := m.now().Sub(m.start).Seconds()
	if elapsed > 0 && m.totalChunks > 0 {
		rate := float64(m.totalChunks) / elapsed
		if rate < 10 {
			insights = append(insights, fmt.Sprintf(
				"low throughput (%.1f chunks/s): consider larger batch sizes or a faster consumer", rate))
		}
	}

	avg, _, p99 := percentiles(m.procTimes.values())
	if avg > 50 {
		insights = append(insights, fmt.Sprintf(
			"high average processing time (%.1fms): consumer callbacks may be doing too much work inline", avg))
	}
	if avg > 0 && p99 > 3*avg {
		insights = append(insights, fmt.Sprintf(
			"latency spikes detected (p99 %.1fms vs avg %.1fms): check for GC pauses or blocking handlers", p99, avg))
	}

	if util := m.utilizations.mean(); util > 80 {
		insights = append(insights, fmt.Sprintf(
			"buffer utilization high (%.0f%%): increase buffer capacity or flush more often", util))
	}

	if m.bufferOverflows > 0 {
		insights = append(insights, fmt.Sprintf(
			"%d chunk(s) dropped to overflow: enable compression or raise max buffer size", m.bufferOverflows))
	}

	if m.totalChunks > 0 && float64(m.backpressureEvents) > float64(m.totalChunks)*0.1 {
		insights = append(insights, fmt.Sprintf(
			"frequent backpressure (%d events over %d chunks): the consumer cannot keep pace", m.backpressureEvents, m.totalChunks))
	}

	if m.totalChunks > 0 && float64(m.totalErrors) > float64(m.totalChunks)*0.01 {
		insights = append(insights, fmt.Sprintf(
			"error rate above 1%% (%d errors over %d chunks)", m.totalErrors, m.totalChunks))
	}

	if size := m.chunkSizes.mean(); m.totalChunks > 0 && size > 0 && size < 10 {
		insights = append(insights, fmt.Sprintf(
			"very small chunks (avg %.1f bytes): provider-side batching may reduce overhead", size))
	}

	if len(insights) == 0 {
		insights = append(insights, "stream performance looks good")
	}
	return insights
}

// Reset zeroes all accumulators and windows, including the session start
// time: after Reset the monitor behaves as if freshly constructed.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.start = now
	m.lastRead = now
	m.lastReadChunks = 0
	m.lastReadBytes = 0
	m.totalChunks = 0
	m.totalBytes = 0
	m.totalErrors = 0
	m.bufferOverflows = 0
	m.backpressureEvents = 0
	m.procTimes.clear()
	m.utilizations.clear()
	m.chunkSizes.clear()
}

// percentiles returns mean, p95 and p99 of the samples via sort-then-index.
// Acceptable given the bounded window size.
func percentiles(samples []float64) (avg, p95, p99 float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	avg = sum / float64(len(sorted))

	idx := func(q float64) float64 {
		i := int(q * float64(len(sorted)))
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}
	return avg, idx(0.95), idx(0.99)
}
