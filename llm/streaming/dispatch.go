package streaming

import (
	"fmt"

	"github.com/BaSui01/streamflow/types"
)

// Handlers routes chunks to typed callbacks. Any nil handler is skipped.
type Handlers struct {
	OnTextDelta func(content string) error
	OnToolCalls func(calls []types.ToolCall) error
	OnFinish    func(reason string, usage *types.Usage) error
	OnError     func(err *types.Error)
}

// ProcessChunk dispatches a chunk to the matching handlers. A delta carrying
// both content and tool calls invokes both callbacks, content first.
//
// Handler errors and panics are redirected to OnError instead of propagating:
// a consumer bug must not break stream iteration.
func ProcessChunk(chunk types.StreamChunk, h Handlers) {
	defer func() {
		if r := recover(); r != nil {
			h.emitError(types.NewError(types.ErrInternalError,
				fmt.Sprintf("stream handler panic: %v", r)))
		}
	}()

	switch chunk.Kind {
	case types.KindDelta:
		if chunk.Content != "" && h.OnTextDelta != nil {
			if err := h.OnTextDelta(chunk.Content); err != nil {
				h.emitError(types.NewError(types.ErrInternalError, "text handler failed").WithCause(err))
				return
			}
		}
		if len(chunk.ToolCalls) > 0 && h.OnToolCalls != nil {
			if err := h.OnToolCalls(chunk.ToolCalls); err != nil {
				h.emitError(types.NewError(types.ErrInternalError, "tool call handler failed").WithCause(err))
			}
		}

	case types.KindFinish:
		if h.OnFinish != nil {
			if err := h.OnFinish(chunk.FinishReason, chunk.Usage); err != nil {
				h.emitError(types.NewError(types.ErrInternalError, "finish handler failed").WithCause(err))
			}
		}

	case types.KindError:
		h.emitError(chunk.Err)
	}
}

func (h Handlers) emitError(err *types.Error) {
	if h.OnError != nil && err != nil {
		h.OnError(err)
	}
}
