package streaming

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

func TestAccumulateText(t *testing.T) {
	s := llm.StreamFromSlice([]types.StreamChunk{
		types.NewDeltaChunk("Hello"),
		types.NewDeltaChunk(" "),
		types.NewDeltaChunk("world"),
		types.NewFinishChunk("stop", &types.Usage{PromptTokens: 5, CompletionTokens: 8, TotalTokens: 13}),
	})

	res, err := AccumulateText(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Content)
	assert.Equal(t, "stop", res.FinishReason)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 13, res.Usage.TotalTokens)
}

func TestAccumulateTextCollectsToolCalls(t *testing.T) {
	s := llm.StreamFromSlice([]types.StreamChunk{
		types.NewDeltaChunk("calling "),
		types.NewToolCallChunk([]types.ToolCall{{ID: "t1", Name: "search"}}),
		types.NewToolCallChunk([]types.ToolCall{{ID: "t2", Name: "fetch"}}),
		types.NewFinishChunk("tool_calls", nil),
	})

	res, err := AccumulateText(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "calling ", res.Content)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "search", res.ToolCalls[0].Name)
	assert.Equal(t, "fetch", res.ToolCalls[1].Name)
}

func TestAccumulateTextErrorChunkReturnsPartial(t *testing.T) {
	streamErr := types.NewError(types.ErrModelOverloaded, "overloaded")
	s := llm.StreamFromSlice([]types.StreamChunk{
		types.NewDeltaChunk("partial "),
		types.NewDeltaChunk("answer"),
		types.NewErrorChunk(streamErr),
	})

	res, err := AccumulateText(context.Background(), s)
	require.Error(t, err)
	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrModelOverloaded, typed.Code)
	assert.Equal(t, "partial answer", res.Content)
}

func TestAccumulateTextEOFWithoutFinish(t *testing.T) {
	s := llm.StreamFromSlice([]types.StreamChunk{
		types.NewDeltaChunk("truncated"),
	})

	res, err := AccumulateText(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "truncated", res.Content)
	assert.Empty(t, res.FinishReason)
	assert.Nil(t, res.Usage)
}

type fixedEstimator struct{ n int }

func (e fixedEstimator) CountTokens(string) (int, error) { return e.n, nil }

func TestAccumulateTextBackfillsUsage(t *testing.T) {
	s := llm.StreamFromSlice([]types.StreamChunk{
		types.NewDeltaChunk("four words of text"),
		types.NewFinishChunk("stop", nil), // provider sent no usage
	})

	res, err := AccumulateText(context.Background(), s, WithUsageEstimator(fixedEstimator{n: 4}))
	require.NoError(t, err)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 4, res.Usage.CompletionTokens)
}

func TestAccumulateTextKeepsProviderUsage(t *testing.T) {
	s := llm.StreamFromSlice([]types.StreamChunk{
		types.NewDeltaChunk("text"),
		types.NewFinishChunk("stop", &types.Usage{CompletionTokens: 7, TotalTokens: 7}),
	})

	res, err := AccumulateText(context.Background(), s, WithUsageEstimator(fixedEstimator{n: 99}))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Usage.CompletionTokens)
}

// Property: accumulated content equals the concatenation of the deltas, no
// matter how the text was split across chunks.
func TestAccumulateTextSplitInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pieces := rapid.SliceOfN(rapid.String(), 0, 50).Draw(t, "pieces")

		chunks := make([]types.StreamChunk, 0, len(pieces)+1)
		for _, p := range pieces {
			chunks = append(chunks, types.NewDeltaChunk(p))
		}
		chunks = append(chunks, types.NewFinishChunk("stop", nil))

		res, err := AccumulateText(context.Background(), llm.StreamFromSlice(chunks))
		require.NoError(t, err)
		require.Equal(t, strings.Join(pieces, ""), res.Content)
	})
}
