// Package tokenizer provides deterministic token counting for chunk budget
// arithmetic. Counts come from a fixed tiktoken encoding so that byte-equal
// text always yields the same count; the counter is never used for semantic
// decisions.
package tokenizer

import (
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a text.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a named tiktoken encoding.
// Special tokens are disallowed: input is treated as arbitrary text.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the given encoding name
// (e.g. "cl100k_base"). When the encoding is unknown it falls back to a
// whitespace counter with a logged warning rather than failing startup.
func NewTiktokenCounter(encoding string) Counter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tokenizer: unknown encoding, falling back to whitespace counting",
			"encoding", encoding, "error", err)
		return WordCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// WordCounter counts whitespace-separated words. It exists as the encoding
// fallback and as the deterministic counter used by chunker tests.
type WordCounter struct{}

// Count returns the number of whitespace-separated fields in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}
