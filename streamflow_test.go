package streamflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/testutil/mocks"
	"github.com/BaSui01/streamflow/types"
)

func TestNewRequiresModels(t *testing.T) {
	_, err := New(mocks.NewMockProvider())
	assert.Error(t, err)
}

func TestClientChat(t *testing.T) {
	c, err := New(mocks.NewMockProvider().WithResponse("pong"),
		WithModel("model-a"))
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), &llm.ChatRequest{
		Model:    "default",
		Messages: []types.Message{types.NewUserMessage("ping")},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content)
}

func TestClientChatText(t *testing.T) {
	p := mocks.NewMockProvider().
		WithStreamChunks("streamed ", "answer").
		WithUsage(nil) // provider omits usage, tokenizer backfills
	c, err := New(p, WithModel("model-a"))
	require.NoError(t, err)

	res, err := c.ChatText(context.Background(), &llm.ChatRequest{
		Model:    "default",
		Messages: []types.Message{types.NewUserMessage("q")},
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed answer", res.Content)
	require.NotNil(t, res.Usage)
	assert.Greater(t, res.Usage.CompletionTokens, 0)
}

func TestClientWithConfigFile(t *testing.T) {
	yaml := `
models:
  - name: default
    model: model-a
  - name: fallback
    model: model-b
retry:
  max_retries: 1
  initial_delay_ms: 1
  max_delay_ms: 2
  multiplier: 2.0
`
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	p := mocks.NewMockProvider().
		WithResponse("ok").
		WithErrorScript("model-a",
			types.NewError(types.ErrModelOverloaded, "busy").WithRetryable(true),
			types.NewError(types.ErrModelOverloaded, "busy").WithRetryable(true))
	c, err := New(p, WithConfigFile(path))
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), &llm.ChatRequest{
		Model:    "default",
		Messages: []types.Message{types.NewUserMessage("q")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	// max_retries=1 → model-a 两次后切换 fallback
	assert.Equal(t, 2, p.CallCount("model-a"))
	assert.Equal(t, 1, p.CallCount("model-b"))
}
