package streaming

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/streamflow/internal/metrics"
	"github.com/BaSui01/streamflow/types"
)

// BatchFunc consumes one flushed batch of chunks, in push order.
type BatchFunc func(batch []types.StreamChunk)

// BufferedProcessor is the push-side stream consumer: a producer calls
// AddChunk, and batches are delivered to the batch callback either on a
// periodic timer or eagerly when a terminal chunk arrives.
//
// Stop must be called exactly once when the processor is no longer needed;
// otherwise the flush timer goroutine leaks.
type BufferedProcessor struct {
	buffer  *StreamBuffer
	onBatch BatchFunc
	cfg     BufferConfig

	monitor   *Monitor
	collector *metrics.Collector
	logger    *zap.Logger

	flushing atomic.Bool // reentrancy guard
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ProcessorOption customizes a BufferedProcessor.
type ProcessorOption func(*BufferedProcessor)

// WithMonitor attaches a performance monitor.
func WithMonitor(m *Monitor) ProcessorOption {
	return func(p *BufferedProcessor) { p.monitor = m }
}

// WithCollector attaches a prometheus collector.
func WithCollector(c *metrics.Collector) ProcessorOption {
	return func(p *BufferedProcessor) { p.collector = c }
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(l *zap.Logger) ProcessorOption {
	return func(p *BufferedProcessor) { p.logger = l }
}

// NewBufferedProcessor creates a processor and starts its flush timer.
func NewBufferedProcessor(onBatch BatchFunc, cfg BufferConfig, opts ...ProcessorOption) *BufferedProcessor {
	cfg = cfg.Normalize()
	p := &BufferedProcessor{
		buffer:  NewStreamBuffer(cfg),
		onBatch: onBatch,
		cfg:     cfg,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// AddChunk pushes a chunk into the buffer. A rejected push forces an
// immediate flush and one retry; a terminal chunk triggers an eager flush so
// it reaches the consumer without waiting for the timer.
func (p *BufferedProcessor) AddChunk(chunk types.StreamChunk) {
	start := time.Now()

	admitted := p.buffer.Push(chunk)
	if !admitted {
		p.flush()
		admitted = p.buffer.Push(chunk)
	}
	if !admitted {
		// Lossy backpressure: the chunk is dropped and accounted for.
		if p.monitor != nil {
			p.monitor.RecordBufferOverflow()
		}
		if p.collector != nil {
			p.collector.RecordOverflow()
		}
		p.logger.Warn("chunk dropped on buffer overflow",
			zap.String("code", string(types.ErrStreamOverflow)),
			zap.String("kind", chunk.Kind.String()),
			zap.Int("buffer_size", p.buffer.Size()),
		)
		return
	}

	if p.monitor != nil {
		p.monitor.RecordChunk(chunk.Size(), time.Since(start))
		p.monitor.RecordBufferUtilization(p.buffer.Utilization())
	}
	if p.collector != nil {
		p.collector.RecordChunk(chunk.Size())
		p.collector.SetBufferUtilization(p.buffer.Utilization())
	}

	if chunk.Terminal() {
		p.flush()
	}
}

// Stats returns the internal buffer's stats snapshot.
func (p *BufferedProcessor) Stats() BufferStats {
	return p.buffer.Stats()
}

// Stop cancels the flush timer, performs a final flush, and clears the
// buffer. Safe to call once per processor lifetime.
func (p *BufferedProcessor) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.flush()
		p.buffer.Clear()
	})
}

func (p *BufferedProcessor) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if !p.buffer.IsEmpty() {
				p.flush()
			}
		}
	}
}

// flush drains the buffer in batch-sized slices. A flush already in progress
// is not re-entered.
func (p *BufferedProcessor) flush() {
	if !p.flushing.CompareAndSwap(false, true) {
		return
	}
	defer p.flushing.Store(false)

	for {
		batch := p.buffer.ShiftBatch(p.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		p.onBatch(batch)
		if p.collector != nil {
			p.collector.ObserveFlush(len(batch), time.Since(start))
		}
	}
}
