package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamChunk_Terminal(t *testing.T) {
	assert.False(t, NewDeltaChunk("hi").Terminal())
	assert.False(t, NewToolCallChunk([]ToolCall{{ID: "1", Name: "search"}}).Terminal())
	assert.True(t, NewFinishChunk("stop", nil).Terminal())
	assert.True(t, NewErrorChunk(NewError(ErrUpstreamError, "boom")).Terminal())
}

func TestStreamChunk_TextOnly(t *testing.T) {
	assert.True(t, NewDeltaChunk("hi").TextOnly())
	assert.False(t, NewToolCallChunk([]ToolCall{{ID: "1", Name: "search"}}).TextOnly())

	mixed := NewDeltaChunk("hi")
	mixed.ToolCalls = []ToolCall{{ID: "1", Name: "search"}}
	assert.False(t, mixed.TextOnly())

	assert.False(t, NewFinishChunk("stop", nil).TextOnly())
}

func TestStreamChunk_Size(t *testing.T) {
	assert.Equal(t, 5, NewDeltaChunk("hello").Size())

	tc := NewToolCallChunk([]ToolCall{{
		ID:        "id1",
		Name:      "search",
		Arguments: json.RawMessage(`{"q":"go"}`),
	}})
	assert.Equal(t, len("id1")+len("search")+len(`{"q":"go"}`), tc.Size())
}

func TestChunkKind_String(t *testing.T) {
	assert.Equal(t, "delta", KindDelta.String())
	assert.Equal(t, "finish", KindFinish.String())
	assert.Equal(t, "error", KindError.String())
	assert.Equal(t, "unknown", ChunkKind(42).String())
}

func TestFinishChunk_CarriesUsage(t *testing.T) {
	usage := &Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}
	chunk := NewFinishChunk("stop", usage)
	assert.Equal(t, KindFinish, chunk.Kind)
	assert.Equal(t, "stop", chunk.FinishReason)
	assert.Equal(t, 13, chunk.Usage.TotalTokens)
}
