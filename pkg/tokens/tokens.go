// Package tokens provides tiktoken-based token counting for prompt budgeting.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with the GPT-4 encoding, which is a close enough approximation
// for every provider we talk to.
type Counter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // Codec construction is expensive; share one
var (
	defaultOnce    sync.Once
	defaultCounter *Counter
)

// NewCounter creates a counter. A nil codec falls back to a 4-chars-per-token estimate.
func NewCounter() *Counter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &Counter{}
	}
	return &Counter{codec: codec}
}

// Default returns a process-wide counter.
func Default() *Counter {
	defaultOnce.Do(func() { defaultCounter = NewCounter() })
	return defaultCounter
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return len(text) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Count counts with the default counter.
func Count(text string) int {
	return Default().Count(text)
}

// Truncate shortens text to roughly fit within limit tokens.
func (c *Counter) Truncate(text string, limit int) string {
	current := c.Count(text)
	if current <= limit || current == 0 {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	if charLimit < 0 {
		charLimit = 0
	}
	return text[:charLimit] + "..."
}

// FitTail returns the longest suffix of items whose combined token count stays within
// budget. Used to keep the most recent transcript turns in a prompt.
func (c *Counter) FitTail(items []string, budget int) []string {
	total := 0
	start := len(items)
	for i := len(items) - 1; i >= 0; i-- {
		n := c.Count(items[i])
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	return items[start:]
}
