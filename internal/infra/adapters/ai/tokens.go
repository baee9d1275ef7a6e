package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the prompt size of text for the given model.
type TokenCounter func(model, text string) int

type tiktokenCounter struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
}

// NewTiktokenCounter counts with the model's BPE encoding, falling back to
// cl100k_base and then to a length estimate when no encoding can be loaded.
func NewTiktokenCounter() TokenCounter {
	c := &tiktokenCounter{encs: map[string]*tiktoken.Tiktoken{}}
	return c.count
}

func (c *tiktokenCounter) count(model, text string) int {
	enc := c.encoding(model)
	if enc == nil {
		return estimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encs[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		enc = nil
	}
	c.encs[model] = enc
	return enc
}

// roughly four bytes per token for English text
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
