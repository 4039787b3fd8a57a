// Package tokenizer counts and estimates tokens for usage backfill on
// streams whose providers omit usage data.
package tokenizer

import "github.com/BaSui01/streamflow/types"

// Tokenizer counts tokens for plain text and message lists. CountTokens
// satisfies streaming.UsageEstimator.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	CountMessages(messages []types.Message) (int, error)
	MaxTokens() int
	Name() string
}

// ForModel returns a tiktoken-backed tokenizer for known OpenAI-family
// models and a character-ratio estimator for everything else.
func ForModel(model string) Tokenizer {
	if _, ok := lookupEncoding(model); ok {
		t, err := NewTiktokenTokenizer(model)
		if err == nil {
			return t
		}
	}
	return NewEstimatorTokenizer(model, 0)
}
