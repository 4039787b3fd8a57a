package streaming

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

// maxAdaptivePause caps the producer-side backpressure sleep.
const maxAdaptivePause = 200 * time.Millisecond

// BackpressureOption customizes AddBackpressure.
type BackpressureOption func(*backpressureOptions)

type backpressureOptions struct {
	monitor     *Monitor
	logger      *zap.Logger
	logInterval time.Duration
}

// WithBackpressureMonitor attaches a performance monitor.
func WithBackpressureMonitor(m *Monitor) BackpressureOption {
	return func(o *backpressureOptions) { o.monitor = m }
}

// WithDebugLogging periodically logs pipeline metrics, as used by the debug
// preset. interval <= 0 disables it.
func WithDebugLogging(logger *zap.Logger, interval time.Duration) BackpressureOption {
	return func(o *backpressureOptions) {
		o.logger = logger
		o.logInterval = interval
	}
}

// AddBackpressure re-emits upstream chunks through a bounded internal queue.
//
// When the queued-but-unconsumed count reaches cfg.BackpressureThreshold the
// producer pauses for an adaptively scaling, capped duration before resuming
// reads. When the queue reaches cfg.MaxBufferSize the oldest ~10% of queued
// chunks are evicted and an overflow is recorded — terminal chunks get no
// special protection on this path, since the adaptive pause throttles
// producers well before hard overflow under normal load. A fixed-interval
// timer drains the queue downstream in BatchSize slices.
//
// Closing the returned stream stops both worker goroutines and closes the
// upstream.
func AddBackpressure(ctx context.Context, upstream llm.ChunkStream, cfg StreamConfig, opts ...BackpressureOption) llm.ChunkStream {
	cfg = cfg.Normalize()
	o := backpressureOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.EnableMetrics {
		o.monitor = nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &backpressuredStream{
		upstream: upstream,
		cfg:      cfg,
		opts:     o,
		out:      make(chan types.StreamChunk, cfg.BatchSize),
		cancel:   cancel,
	}

	s.wg.Add(2)
	go s.produce(ctx)
	go s.drain(ctx)
	if o.logInterval > 0 {
		s.wg.Add(1)
		go s.logLoop(ctx)
	}
	return s
}

type backpressuredStream struct {
	upstream llm.ChunkStream
	cfg      StreamConfig
	opts     backpressureOptions

	mu           sync.Mutex
	queue        []types.StreamChunk
	upstreamDone bool
	dropped      int64

	out       chan types.StreamChunk
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *backpressuredStream) Recv(ctx context.Context) (types.StreamChunk, error) {
	select {
	case <-ctx.Done():
		return types.StreamChunk{}, ctx.Err()
	case chunk, ok := <-s.out:
		if !ok {
			return types.StreamChunk{}, io.EOF
		}
		return chunk, nil
	}
}

func (s *backpressuredStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.upstream.Close()
		s.wg.Wait()
	})
	return nil
}

// produce reads the upstream, applying the adaptive pause above the
// backpressure threshold and oldest-10% eviction at the hard cap.
func (s *backpressuredStream) produce(ctx context.Context) {
	defer s.wg.Done()

	for {
		if n := s.queueLen(); n >= s.cfg.BackpressureThreshold {
			// Pause proportional to how far over threshold we are, capped.
			over := n - s.cfg.BackpressureThreshold
			pause := time.Duration(over+1) * 2 * time.Millisecond
			if pause > maxAdaptivePause {
				pause = maxAdaptivePause
			}
			if s.opts.monitor != nil {
				s.opts.monitor.RecordBackpressure()
			}
			select {
			case <-ctx.Done():
				s.finishProduce()
				return
			case <-time.After(pause):
			}
		}

		chunk, err := s.upstream.Recv(ctx)
		if err != nil {
			if err != io.EOF && s.opts.monitor != nil {
				s.opts.monitor.RecordError()
			}
			s.finishProduce()
			return
		}

		start := time.Now()
		s.enqueue(chunk)
		if s.opts.monitor != nil {
			s.opts.monitor.RecordChunk(chunk.Size(), time.Since(start))
			s.opts.monitor.RecordBufferUtilization(
				float64(s.queueLen()) / float64(s.cfg.MaxBufferSize) * 100)
		}
	}
}

func (s *backpressuredStream) enqueue(chunk types.StreamChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, chunk)
	if len(s.queue) >= s.cfg.MaxBufferSize {
		evict := s.cfg.MaxBufferSize / 10
		if evict < 1 {
			evict = 1
		}
		s.queue = append(s.queue[:0:0], s.queue[evict:]...)
		s.dropped += int64(evict)
		if s.opts.monitor != nil {
			s.opts.monitor.RecordBufferOverflow()
		}
		s.opts.logger.Warn("backpressure queue overflow, oldest chunks evicted",
			zap.String("code", string(types.ErrStreamOverflow)),
			zap.Int("evicted", evict),
			zap.Int("queue_size", len(s.queue)),
		)
	}
}

func (s *backpressuredStream) finishProduce() {
	s.mu.Lock()
	s.upstreamDone = true
	s.mu.Unlock()
}

func (s *backpressuredStream) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// drain moves batches from the queue into the output channel on a timer.
// drain is the sole writer and sole closer of out; closing it on every exit
// path (upstream exhausted or context canceled via Close) guarantees a
// subsequent Recv observes io.EOF instead of blocking.
func (s *backpressuredStream) drain(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.out)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, done := s.dequeueBatch()
			for _, chunk := range batch {
				select {
				case <-ctx.Done():
					return
				case s.out <- chunk:
				}
			}
			if done && len(batch) == 0 {
				return
			}
		}
	}
}

func (s *backpressuredStream) dequeueBatch() ([]types.StreamChunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.cfg.BatchSize
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := make([]types.StreamChunk, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	return batch, s.upstreamDone && len(s.queue) == 0
}

func (s *backpressuredStream) logLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			queued, dropped := len(s.queue), s.dropped
			s.mu.Unlock()
			fields := []zap.Field{
				zap.Int("queued", queued),
				zap.Int64("dropped", dropped),
			}
			if s.opts.monitor != nil {
				m := s.opts.monitor.GetMetrics()
				fields = append(fields,
					zap.Float64("chunks_per_sec", m.ChunksPerSecond),
					zap.Float64("avg_processing_ms", m.AvgProcessingMs),
				)
			}
			s.opts.logger.Debug("stream pipeline stats", fields...)
		}
	}
}
