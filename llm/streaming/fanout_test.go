package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

func TestFanOutBroadcastsToAllConsumers(t *testing.T) {
	chunks := []types.StreamChunk{
		types.NewDeltaChunk("a"),
		types.NewDeltaChunk("b"),
		types.NewFinishChunk("stop", nil),
	}

	f := NewFanOut(llm.StreamFromSlice(chunks))
	c1 := f.AddConsumer(10)
	c2 := f.AddConsumer(10)
	f.Start(context.Background())

	got1 := drainAll(t, c1)
	got2 := drainAll(t, c2)
	require.NoError(t, f.Wait())

	require.Len(t, got1, 3)
	require.Len(t, got2, 3)
	assert.Equal(t, types.KindFinish, got1[2].Kind)
	assert.Equal(t, types.KindFinish, got2[2].Kind)
	assert.Zero(t, c1.Dropped())
	assert.Zero(t, c2.Dropped())
}

func TestFanOutSlowConsumerDropsNonTerminal(t *testing.T) {
	var chunks []types.StreamChunk
	for i := 0; i < 50; i++ {
		chunks = append(chunks, types.NewDeltaChunk("x"))
	}

	f := NewFanOut(llm.StreamFromSlice(chunks))
	slow := f.AddConsumer(2) // room for 2 chunks, reads nothing until done
	f.Start(context.Background())
	require.NoError(t, f.Wait())

	got := drainAll(t, slow)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(48), slow.Dropped())
}

func TestFanOutTerminalDeliveredBlocking(t *testing.T) {
	f := NewFanOut(llm.StreamFromSlice([]types.StreamChunk{
		types.NewDeltaChunk("x"),
		types.NewFinishChunk("stop", nil),
	}))
	// Capacity one: the terminal chunk cannot fit until the consumer reads,
	// forcing the blocking delivery path.
	c := f.AddConsumer(1)
	f.Start(context.Background())

	done := make(chan []types.StreamChunk, 1)
	go func() { done <- drainAll(t, c) }()

	require.NoError(t, f.Wait())
	got := <-done
	require.Len(t, got, 2)
	assert.Equal(t, types.KindFinish, got[1].Kind)
	assert.Zero(t, c.Dropped())
}

func TestFanOutCloseUnblocks(t *testing.T) {
	ch := make(chan types.StreamChunk) // upstream never produces
	f := NewFanOut(llm.StreamFromChannel(ch))
	c := f.AddConsumer(1)
	f.Start(context.Background())

	require.NoError(t, f.Close())
	require.NoError(t, f.Wait())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Recv(ctx)
	assert.Error(t, err) // io.EOF after the pump shut the channel
}
