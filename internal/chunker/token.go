package chunker

import (
	"fmt"
	"strings"
)

// Tokenizer counts model tokens. Callers own its lifetime and must Close it.
type Tokenizer interface {
	Count(text string) int
	Close() error
}

// EstimateTokens gives a rough token count of 1.33 tokens per word.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 && strings.TrimSpace(text) != "" {
		tokens = 1
	}
	return tokens
}

// Estimate is the heuristic tokenizer. It holds no resources.
type Estimate struct{}

func (Estimate) Count(text string) int { return EstimateTokens(text) }
func (Estimate) Close() error          { return nil }

// NewTokenizer returns the tokenizer named by kind: "estimate" or
// "tiktoken".
func NewTokenizer(kind string) (Tokenizer, error) {
	switch kind {
	case "", "estimate":
		return Estimate{}, nil
	case "tiktoken":
		return NewTiktoken(DefaultEncoding)
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", kind)
	}
}
