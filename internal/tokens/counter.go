// Package tokens provides token counting for strings and message lists.
// An exact tokenizer can be plugged in; without one a character heuristic
// is used (4 chars per token for most text, 2 for CJK scripts).
package tokens

import "github.com/scrypster/mneme/pkg/types"

// Tokenizer counts tokens exactly for a given model's vocabulary.
type Tokenizer interface {
	CountTokens(text string) int
}

// Per-message overhead covering role framing, and the fixed priming cost
// of a message list. These match common chat-format accounting.
const (
	messageOverhead = 4
	listPriming     = 2
)

// Counter counts tokens for strings and message lists.
type Counter struct {
	tokenizer Tokenizer // nil means heuristic fallback
}

// NewCounter creates a counter backed by the given tokenizer.
// Pass nil to use the character heuristic.
func NewCounter(tokenizer Tokenizer) *Counter {
	return &Counter{tokenizer: tokenizer}
}

// Count returns the token count for a string.
func (c *Counter) Count(text string) int {
	if c.tokenizer != nil {
		return c.tokenizer.CountTokens(text)
	}
	return heuristicCount(text)
}

// CountMessage returns the token count for a single message including
// its per-message overhead.
func (c *Counter) CountMessage(m types.Message) int {
	return c.Count(m.Content) + messageOverhead
}

// CountMessages returns the token count for a message list including
// per-message overhead and list priming.
func (c *Counter) CountMessages(messages []types.Message) int {
	total := listPriming
	for _, m := range messages {
		total += c.CountMessage(m)
	}
	return total
}

// heuristicCount estimates tokens from character counts: CJK scripts run
// roughly 2 characters per token, everything else roughly 4.
func heuristicCount(text string) int {
	cjk := 0
	total := 0
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	return (total-cjk)/4 + cjk/2
}

// isCJK reports whether r falls in the CJK ideograph, Hangul, Hiragana,
// or Katakana blocks.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul Syllables
		return true
	case r >= 0x3040 && r <= 0x309F: // Hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // Katakana
		return true
	}
	return false
}
