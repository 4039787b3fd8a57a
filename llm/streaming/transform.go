package streaming

import (
	"context"
	"io"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

// TransformFunc maps one chunk to at most one chunk. Returning nil drops the
// chunk from the output.
type TransformFunc func(chunk types.StreamChunk) *types.StreamChunk

// TransformOption customizes TransformStream.
type TransformOption func(*transformOptions)

type transformOptions struct {
	monitor *Monitor
}

// WithTransformMonitor attaches a performance monitor to the transformed
// stream. Dropped chunks count as overflow events.
func WithTransformMonitor(m *Monitor) TransformOption {
	return func(o *transformOptions) { o.monitor = m }
}

// TransformStream applies fn to every chunk of the upstream. The transform is
// applied lazily, one chunk per Recv, so it adds no goroutines or buffering of
// its own.
//
// fn receives terminal chunks too and may rewrite them, but dropping a
// terminal chunk leaves the consumer without an end-of-stream signal other
// than io.EOF.
func TransformStream(upstream llm.ChunkStream, fn TransformFunc, opts ...TransformOption) llm.ChunkStream {
	var o transformOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &transformedStream{upstream: upstream, fn: fn, opts: o}
}

type transformedStream struct {
	upstream llm.ChunkStream
	fn       TransformFunc
	opts     transformOptions
}

func (s *transformedStream) Recv(ctx context.Context) (types.StreamChunk, error) {
	for {
		chunk, err := s.upstream.Recv(ctx)
		if err != nil {
			if err != io.EOF && s.opts.monitor != nil {
				s.opts.monitor.RecordError()
			}
			return types.StreamChunk{}, err
		}

		out := s.fn(chunk)
		if out == nil {
			if s.opts.monitor != nil {
				s.opts.monitor.RecordBufferOverflow()
			}
			continue
		}
		if s.opts.monitor != nil {
			s.opts.monitor.RecordChunk(out.Size(), 0)
		}
		return *out, nil
	}
}

func (s *transformedStream) Close() error {
	return s.upstream.Close()
}
