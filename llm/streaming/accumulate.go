package streaming

import (
	"context"
	"io"
	"strings"

	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/types"
)

// Result is the fully assembled output of one streamed response.
type Result struct {
	Content      string           `json:"content"`
	ToolCalls    []types.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        *types.Usage     `json:"usage,omitempty"`
}

// UsageEstimator backfills token usage when a finish chunk arrives without
// one. Implemented by the tokenizer package.
type UsageEstimator interface {
	CountTokens(text string) (int, error)
}

// AccumulateOption customizes AccumulateText.
type AccumulateOption func(*accumulateOptions)

type accumulateOptions struct {
	estimator UsageEstimator
}

// WithUsageEstimator estimates completion tokens from the accumulated content
// when the provider's finish chunk carries no usage.
func WithUsageEstimator(est UsageEstimator) AccumulateOption {
	return func(o *accumulateOptions) { o.estimator = est }
}

// AccumulateText drains the sequence and assembles the final result: all text
// deltas concatenated in arrival order, all tool calls concatenated in
// arrival order, plus the finish reason and usage from the terminal chunk.
//
// The stream ends at the first terminal chunk or at io.EOF. An error chunk
// returns the partial result alongside the chunk's error; a transport error
// from Recv is returned as-is.
func AccumulateText(ctx context.Context, s llm.ChunkStream, opts ...AccumulateOption) (*Result, error) {
	var o accumulateOptions
	for _, opt := range opts {
		opt(&o)
	}

	var content strings.Builder
	res := &Result{}

	for {
		chunk, err := s.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Content = content.String()
			return res, err
		}

		switch chunk.Kind {
		case types.KindDelta:
			content.WriteString(chunk.Content)
			if len(chunk.ToolCalls) > 0 {
				res.ToolCalls = append(res.ToolCalls, chunk.ToolCalls...)
			}

		case types.KindFinish:
			res.FinishReason = chunk.FinishReason
			res.Usage = chunk.Usage
			res.Content = content.String()
			fillUsage(res, o.estimator)
			return res, nil

		case types.KindError:
			res.Content = content.String()
			return res, chunk.Err
		}
	}

	res.Content = content.String()
	fillUsage(res, o.estimator)
	return res, nil
}

func fillUsage(res *Result, est UsageEstimator) {
	if est == nil || res.Usage != nil || res.Content == "" {
		return
	}
	n, err := est.CountTokens(res.Content)
	if err != nil {
		return // estimation is best-effort
	}
	res.Usage = &types.Usage{CompletionTokens: n, TotalTokens: n}
}
