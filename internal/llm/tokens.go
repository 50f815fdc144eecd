package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for text.
// Falls back to a rough four-bytes-per-token guess if the codec is unavailable.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	c, err := getCodec()
	if err != nil {
		return (len(text) + 3) / 4
	}

	ids, _, err := c.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// EstimateMessages sums the token estimates of a conversation
func EstimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
