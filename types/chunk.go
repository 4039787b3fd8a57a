package types

// ChunkKind discriminates the StreamChunk union. Every dispatch site must
// switch over all three kinds; there is no fourth shape.
type ChunkKind int

const (
	// KindDelta carries incremental output: text content, tool calls, or both.
	KindDelta ChunkKind = iota
	// KindFinish terminates the stream successfully.
	KindFinish
	// KindError terminates the stream with a failure.
	KindError
)

func (k ChunkKind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindFinish:
		return "finish"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Usage reports token consumption for one request. Present only on finish
// chunks.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one unit of a model's streamed output. It is a tagged union:
// Kind selects which fields are meaningful. Once a finish or error chunk has
// been observed no further chunks are produced for the same request.
type StreamChunk struct {
	Kind ChunkKind `json:"kind"`

	// KindDelta fields.
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// KindFinish fields.
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`

	// KindError field.
	Err *Error `json:"error,omitempty"`
}

// NewDeltaChunk creates a text delta chunk.
func NewDeltaChunk(content string) StreamChunk {
	return StreamChunk{Kind: KindDelta, Content: content}
}

// NewToolCallChunk creates a delta chunk carrying tool calls.
func NewToolCallChunk(calls []ToolCall) StreamChunk {
	return StreamChunk{Kind: KindDelta, ToolCalls: calls}
}

// NewFinishChunk creates a terminal success chunk.
func NewFinishChunk(reason string, usage *Usage) StreamChunk {
	return StreamChunk{Kind: KindFinish, FinishReason: reason, Usage: usage}
}

// NewErrorChunk creates a terminal failure chunk.
func NewErrorChunk(err *Error) StreamChunk {
	return StreamChunk{Kind: KindError, Err: err}
}

// Terminal reports whether the chunk ends the stream (finish or error).
func (c StreamChunk) Terminal() bool {
	return c.Kind == KindFinish || c.Kind == KindError
}

// TextOnly reports whether the chunk is a delta carrying content and no tool
// calls. Only such chunks are eligible for overflow compression.
func (c StreamChunk) TextOnly() bool {
	return c.Kind == KindDelta && len(c.ToolCalls) == 0
}

// Size returns the chunk's approximate payload size in bytes, used for
// throughput accounting.
func (c StreamChunk) Size() int {
	n := len(c.Content) + len(c.FinishReason)
	for _, tc := range c.ToolCalls {
		n += len(tc.ID) + len(tc.Name) + len(tc.Arguments)
	}
	if c.Err != nil {
		n += len(c.Err.Message)
	}
	return n
}
