package llm

import (
	"context"
	"io"
	"sync"

	"github.com/BaSui01/streamflow/types"
)

// ChunkStream 拉取式 chunk 序列：由消费方驱动迭代。
// Recv 在序列自然结束时返回 io.EOF；终止 chunk（finish/error）之后
// 下一次 Recv 必然是 io.EOF。与推送式的 streaming.BufferedProcessor 相对。
type ChunkStream interface {
	// Recv 阻塞读取下一个 chunk；序列结束返回 io.EOF
	Recv(ctx context.Context) (types.StreamChunk, error)

	// Close 释放流资源。重复调用安全。
	Close() error
}

// --- channel 适配器 ---

type channelStream struct {
	ch        <-chan types.StreamChunk
	closeOnce sync.Once
	done      chan struct{}
}

// StreamFromChannel 将 channel 包装为拉取式序列。
// channel 关闭即视为序列自然结束。
func StreamFromChannel(ch <-chan types.StreamChunk) ChunkStream {
	return &channelStream{ch: ch, done: make(chan struct{})}
}

func (s *channelStream) Recv(ctx context.Context) (types.StreamChunk, error) {
	select {
	case <-ctx.Done():
		return types.StreamChunk{}, ctx.Err()
	case <-s.done:
		return types.StreamChunk{}, io.EOF
	case chunk, ok := <-s.ch:
		if !ok {
			return types.StreamChunk{}, io.EOF
		}
		return chunk, nil
	}
}

func (s *channelStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// --- slice 适配器（测试与重放场景）---

type sliceStream struct {
	mu     sync.Mutex
	chunks []types.StreamChunk
	pos    int
	closed bool
}

// StreamFromSlice 将固定 chunk 列表包装为拉取式序列。
func StreamFromSlice(chunks []types.StreamChunk) ChunkStream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Recv(ctx context.Context) (types.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return types.StreamChunk{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.chunks) {
		return types.StreamChunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CollectStream 读空整个序列并返回所有 chunk。主要用于测试与非流式聚合。
func CollectStream(ctx context.Context, s ChunkStream) ([]types.StreamChunk, error) {
	var out []types.StreamChunk
	for {
		chunk, err := s.Recv(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk)
	}
}
