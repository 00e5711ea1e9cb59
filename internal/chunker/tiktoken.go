package chunker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding matches current Claude and GPT-4 class token counts
// closely enough for chunk sizing.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// Tiktoken counts BPE tokens with an embedded vocabulary, so no network
// access is needed.
type Tiktoken struct {
	mu  sync.RWMutex
	enc *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count falls back to EstimateTokens after Close.
func (t *Tiktoken) Count(text string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.enc == nil {
		return EstimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enc == nil {
		return errors.New("tokenizer already closed")
	}
	t.enc = nil
	return nil
}
