// Package tokencount estimates prompt token counts before LLM calls.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library. Gemini ships
// its own tokenizer, but cl100k_base tracks it closely enough for budget
// metrics, which is all these counts feed.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// imageTokens is the flat per-image charge Gemini applies to inline images
// at default resolution.
const imageTokens = 258

// Counter provides thread-safe token counting with cached encodings.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{
		encodingCache: make(map[string]*tiktoken.Tiktoken),
	}
}

// getEncodingForModel returns the tiktoken encoding for a model, caching it
// for reuse.
func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalized := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalized]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if enc, ok := c.encodingCache[normalized]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalized)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", normalized),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encodingCache[normalized] = enc
	return enc, nil
}

// normalizeModelName maps model IDs onto tiktoken-known names. Gemini and
// other non-OpenAI families approximate with the gpt-4 encoding.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)

	// Strip provider prefixes like "google/gemini-..."
	if strings.Contains(model, "/") {
		parts := strings.Split(model, "/")
		model = parts[len(parts)-1]
	}

	switch {
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// gemini-* and everything else
		return "gpt-4"
	}
}

// CountTokens counts the tokens in one text for the given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	tokens := enc.Encode(text, nil, nil)
	return len(tokens), nil
}

// CountPrompt estimates the full prompt size of one verification call: the
// system instruction, the user text, and the flat charge per page image.
func (c *Counter) CountPrompt(system, user string, imageCount int, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		// Rough estimate: ~4 chars per token
		return (len(system)+len(user))/4 + imageCount*imageTokens, nil
	}

	n := len(enc.Encode(system, nil, nil))
	n += len(enc.Encode(user, nil, nil))
	n += imageCount * imageTokens
	return n, nil
}
