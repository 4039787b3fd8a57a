package streaming

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

// FanOut broadcasts a single upstream to multiple consumers. Each consumer
// owns a bounded channel: a consumer that falls behind loses non-terminal
// chunks (counted per consumer), while terminal chunks are always delivered
// blocking so no consumer misses end-of-stream.
//
// Add all consumers before calling Start; consumers added later see nothing.
type FanOut struct {
	upstream llm.ChunkStream

	mu        sync.Mutex
	consumers []*FanOutConsumer
	started   bool

	g      *errgroup.Group
	cancel context.CancelFunc
}

// NewFanOut wraps the upstream for broadcasting.
func NewFanOut(upstream llm.ChunkStream) *FanOut {
	return &FanOut{upstream: upstream}
}

// AddConsumer registers a consumer with the given channel capacity.
func (f *FanOut) AddConsumer(bufferSize int) *FanOutConsumer {
	if bufferSize < 1 {
		bufferSize = 1
	}
	c := &FanOutConsumer{ch: make(chan types.StreamChunk, bufferSize)}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumers = append(f.consumers, c)
	return c
}

// Start launches the pump goroutine. Calling Start twice is a no-op.
func (f *FanOut) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true

	ctx, f.cancel = context.WithCancel(ctx)
	f.g, ctx = errgroup.WithContext(ctx)
	f.g.Go(func() error { return f.pump(ctx) })
}

// Wait blocks until the upstream is exhausted and all consumer channels are
// closed. It returns the pump's transport error, if any.
func (f *FanOut) Wait() error {
	f.mu.Lock()
	g := f.g
	f.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Close stops the pump and closes the upstream. Consumer channels are closed
// by the exiting pump.
func (f *FanOut) Close() error {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return f.upstream.Close()
}

func (f *FanOut) pump(ctx context.Context) error {
	defer f.closeConsumers()

	for {
		chunk, err := f.upstream.Recv(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.broadcast(ctx, chunk)
	}
}

func (f *FanOut) broadcast(ctx context.Context, chunk types.StreamChunk) {
	f.mu.Lock()
	consumers := f.consumers
	f.mu.Unlock()

	for _, c := range consumers {
		if chunk.Terminal() {
			select {
			case <-ctx.Done():
				return
			case c.ch <- chunk:
			}
			continue
		}
		select {
		case c.ch <- chunk:
		default:
			c.dropped.Add(1)
		}
	}
}

func (f *FanOut) closeConsumers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.consumers {
		c.closeOnce.Do(func() { close(c.ch) })
	}
}

// FanOutConsumer is one subscriber's view of the broadcast.
type FanOutConsumer struct {
	ch        chan types.StreamChunk
	dropped   atomic.Int64
	closeOnce sync.Once
}

func (c *FanOutConsumer) Recv(ctx context.Context) (types.StreamChunk, error) {
	select {
	case <-ctx.Done():
		return types.StreamChunk{}, ctx.Err()
	case chunk, ok := <-c.ch:
		if !ok {
			return types.StreamChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Close detaches the consumer from further reads. The broadcast side keeps
// running for the remaining consumers.
func (c *FanOutConsumer) Close() error {
	return nil
}

// Dropped reports how many non-terminal chunks this consumer missed.
func (c *FanOutConsumer) Dropped() int64 {
	return c.dropped.Load()
}
