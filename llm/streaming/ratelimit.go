package streaming

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

// RateLimitStream caps delivery at chunksPerSec with the given burst. Recv
// blocks on the limiter before reading the upstream, so a slow token bucket
// translates directly into producer backpressure.
//
// chunksPerSec <= 0 returns the upstream unchanged.
func RateLimitStream(upstream llm.ChunkStream, chunksPerSec float64, burst int) llm.ChunkStream {
	if chunksPerSec <= 0 {
		return upstream
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedStream{
		upstream: upstream,
		limiter:  rate.NewLimiter(rate.Limit(chunksPerSec), burst),
	}
}

type rateLimitedStream struct {
	upstream llm.ChunkStream
	limiter  *rate.Limiter
}

func (s *rateLimitedStream) Recv(ctx context.Context) (types.StreamChunk, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return types.StreamChunk{}, err
	}
	return s.upstream.Recv(ctx)
}

func (s *rateLimitedStream) Close() error {
	return s.upstream.Close()
}
