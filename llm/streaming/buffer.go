package streaming

import (
	"strings"
	"sync"

	"github.com/BaSui01/streamflow/types"
)

// StreamBuffer is a fixed-capacity circular buffer of stream chunks with an
// explicit overflow policy:
//
//  1. Terminal chunks (finish/error) are always admitted; the oldest chunk is
//     evicted to make room if necessary.
//  2. If compression is enabled and the buffer is above the compression
//     threshold, maximal runs of consecutive text-only delta chunks are merged
//     by concatenation and the push is retried once.
//  3. Otherwise the push is rejected and counted as an overflow. This is
//     deliberate lossy backpressure, not an error.
//
// All methods are safe for concurrent use.
type StreamBuffer struct {
	mu   sync.Mutex
	buf  []types.StreamChunk
	head int // index of oldest chunk
	size int
	cfg  BufferConfig

	overflows    int64
	compressions int64
}

// BufferStats is a point-in-time snapshot of buffer state.
type BufferStats struct {
	Size         int     `json:"size"`
	MaxSize      int     `json:"max_size"`
	Utilization  float64 `json:"utilization"` // percent, 0-100
	Overflows    int64   `json:"overflows"`
	Compressions int64   `json:"compressions"`
}

// NewStreamBuffer creates a buffer with the given configuration.
func NewStreamBuffer(cfg BufferConfig) *StreamBuffer {
	cfg = cfg.Normalize()
	return &StreamBuffer{
		buf: make([]types.StreamChunk, cfg.MaxSize),
		cfg: cfg,
	}
}

// Push admits a chunk, invoking the overflow policy at capacity. It reports
// whether the chunk was ultimately admitted.
func (b *StreamBuffer) Push(chunk types.StreamChunk) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < b.cfg.MaxSize {
		b.pushLocked(chunk)
		return true
	}

	// Terminal chunks must never be dropped: evict the oldest to make room.
	if chunk.Terminal() {
		b.shiftLocked()
		b.pushLocked(chunk)
		return true
	}

	if b.cfg.EnableCompression && b.size > b.cfg.CompressionThreshold {
		b.compressLocked()
		if b.size < b.cfg.MaxSize {
			b.pushLocked(chunk)
			return true
		}
	}

	b.overflows++
	return false
}

// Shift removes and returns the oldest chunk.
func (b *StreamBuffer) Shift() (types.StreamChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return types.StreamChunk{}, false
	}
	return b.shiftLocked(), true
}

// ShiftBatch removes and returns up to count oldest chunks in push order.
// count <= 0 means the configured batch size.
func (b *StreamBuffer) ShiftBatch(count int) []types.StreamChunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	if count <= 0 {
		count = b.cfg.BatchSize
	}
	if count > b.size {
		count = b.size
	}
	if count == 0 {
		return nil
	}

	out := make([]types.StreamChunk, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, b.shiftLocked())
	}
	return out
}

// Peek returns the oldest chunk without removing it.
func (b *StreamBuffer) Peek() (types.StreamChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return types.StreamChunk{}, false
	}
	return b.buf[b.head], true
}

// IsEmpty reports whether the buffer holds no chunks.
func (b *StreamBuffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size == 0
}

// IsFull reports whether the buffer is at capacity.
func (b *StreamBuffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size == b.cfg.MaxSize
}

// Size returns the current number of buffered chunks.
func (b *StreamBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Utilization returns buffer fill level as a percentage (0-100).
func (b *StreamBuffer) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.size) / float64(b.cfg.MaxSize) * 100
}

// Clear removes all chunks and releases their payload references.
func (b *StreamBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.buf {
		b.buf[i] = types.StreamChunk{}
	}
	b.head = 0
	b.size = 0
}

// Stats returns a snapshot of buffer state and counters.
func (b *StreamBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Size:         b.size,
		MaxSize:      b.cfg.MaxSize,
		Utilization:  float64(b.size) / float64(b.cfg.MaxSize) * 100,
		Overflows:    b.overflows,
		Compressions: b.compressions,
	}
}

func (b *StreamBuffer) pushLocked(chunk types.StreamChunk) {
	tail := (b.head + b.size) % b.cfg.MaxSize
	b.buf[tail] = chunk
	b.size++
}

func (b *StreamBuffer) shiftLocked() types.StreamChunk {
	chunk := b.buf[b.head]
	b.buf[b.head] = types.StreamChunk{} // release the vacated slot
	b.head = (b.head + 1) % b.cfg.MaxSize
	b.size--
	return chunk
}

// compressLocked drains the buffer and merges every maximal run of
// consecutive text-only delta chunks into a single delta. Tool-call and
// terminal chunks are untouched, and ordering across runs is preserved.
func (b *StreamBuffer) compressLocked() {
	if b.size == 0 {
		return
	}

	drained := make([]types.StreamChunk, 0, b.size)
	for b.size > 0 {
		drained = append(drained, b.shiftLocked())
	}

	var run strings.Builder
	inRun := false
	flushRun := func() {
		if inRun {
			b.pushLocked(types.NewDeltaChunk(run.String()))
			run.Reset()
			inRun = false
		}
	}

	for _, chunk := range drained {
		if chunk.TextOnly() {
			run.WriteString(chunk.Content)
			inRun = true
			continue
		}
		flushRun()
		b.pushLocked(chunk)
	}
	flushRun()

	b.compressions++
}
