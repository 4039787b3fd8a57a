package streaming

import "time"

// BufferConfig configures StreamBuffer and BufferedProcessor.
type BufferConfig struct {
	// MaxSize is the circular buffer capacity in chunks.
	MaxSize int `json:"max_size"`
	// BatchSize is the number of chunks delivered per flush batch.
	BatchSize int `json:"batch_size"`
	// FlushInterval drives the periodic flush timer.
	FlushInterval time.Duration `json:"flush_interval"`
	// EnableCompression allows merging runs of text-only delta chunks when
	// the buffer overflows.
	EnableCompression bool `json:"enable_compression"`
	// CompressionThreshold is the minimum buffer size before compression is
	// attempted on overflow.
	CompressionThreshold int `json:"compression_threshold"`
}

// DefaultBufferConfig returns defaults suitable for interactive chat streams.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MaxSize:              256,
		BatchSize:            16,
		FlushInterval:        50 * time.Millisecond,
		EnableCompression:    true,
		CompressionThreshold: 64,
	}
}

// Normalize clamps invalid values to defaults.
func (c BufferConfig) Normalize() BufferConfig {
	d := DefaultBufferConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchSize > c.MaxSize {
		c.BatchSize = c.MaxSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = c.MaxSize / 4
	}
	return c
}

// StreamConfig configures the pull-side pipeline (AddBackpressure,
// TransformStream). The four knobs trade memory for latency; the named
// presets below are convenience values, not distinct behaviors.
type StreamConfig struct {
	// MaxBufferSize is the hard cap on queued-but-unconsumed chunks.
	MaxBufferSize int `json:"max_buffer_size"`
	// BackpressureThreshold pauses the producer when the queue reaches it.
	// Must be below MaxBufferSize.
	BackpressureThreshold int `json:"backpressure_threshold"`
	// BatchSize bounds how many chunks each drain tick moves downstream.
	BatchSize int `json:"batch_size"`
	// FlushInterval drives the drain timer.
	FlushInterval time.Duration `json:"flush_interval"`
	// EnableMetrics turns Monitor recording on.
	EnableMetrics bool `json:"enable_metrics"`
}

// DefaultStreamConfig returns balanced defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxBufferSize:         1000,
		BackpressureThreshold: 800,
		BatchSize:             20,
		FlushInterval:         20 * time.Millisecond,
		EnableMetrics:         true,
	}
}

// OptimizedStreamConfig favors throughput and latency over memory.
func OptimizedStreamConfig() StreamConfig {
	return StreamConfig{
		MaxBufferSize:         2000,
		BackpressureThreshold: 1600,
		BatchSize:             50,
		FlushInterval:         5 * time.Millisecond,
		EnableMetrics:         true,
	}
}

// MemoryEfficientStreamConfig favors a small footprint over latency.
func MemoryEfficientStreamConfig() StreamConfig {
	return StreamConfig{
		MaxBufferSize:         200,
		BackpressureThreshold: 150,
		BatchSize:             10,
		FlushInterval:         50 * time.Millisecond,
		EnableMetrics:         false,
	}
}

// DebugStreamConfig keeps small batches and metrics on; pair it with
// WithDebugLogging to get periodic pipeline stats in the log.
func DebugStreamConfig() StreamConfig {
	return StreamConfig{
		MaxBufferSize:         500,
		BackpressureThreshold: 400,
		BatchSize:             10,
		FlushInterval:         25 * time.Millisecond,
		EnableMetrics:         true,
	}
}

// Normalize clamps invalid values to defaults and enforces
// BackpressureThreshold < MaxBufferSize.
func (c StreamConfig) Normalize() StreamConfig {
	d := DefaultStreamConfig()
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = d.MaxBufferSize
	}
	if c.BackpressureThreshold <= 0 || c.BackpressureThreshold >= c.MaxBufferSize {
		c.BackpressureThreshold = c.MaxBufferSize * 4 / 5
		if c.BackpressureThreshold == 0 {
			c.BackpressureThreshold = 1
		}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	return c
}
