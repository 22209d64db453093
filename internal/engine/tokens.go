package engine

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with the cl100k_base encoding. When the codec
// cannot be loaded it falls back to a words * 1.3 estimate.
type TokenCounter struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewTokenCounter returns a lazily initialized counter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) load() {
	c.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warnf("token counter: falling back to word estimate: %v", err)
			return
		}
		c.codec = codec
	})
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.load()
	if c.codec != nil {
		ids, _, err := c.codec.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	return EstimateTokens(text)
}

// EstimateTokens approximates tokens as words * 1.3.
func EstimateTokens(text string) int {
	return int(float64(countWords(text)) * 1.3)
}

func countWords(content string) int {
	count := 0
	inWord := false
	for _, r := range content {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inWord = false
		} else if !inWord {
			count++
			inWord = true
		}
	}
	return count
}
