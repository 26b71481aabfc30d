package tokens

import (
	"strings"
	"testing"

	"github.com/scrypster/mneme/pkg/types"
)

func TestCountASCII(t *testing.T) {
	c := NewCounter(nil)

	// 40 ASCII chars / 4 = 10 tokens.
	text := strings.Repeat("abcd", 10)
	if got := c.Count(text); got != 10 {
		t.Errorf("Count(%q) = %d, want 10", text, got)
	}
}

func TestCountCJK(t *testing.T) {
	c := NewCounter(nil)

	// 10 Hangul syllables / 2 = 5 tokens.
	text := strings.Repeat("안", 10)
	if got := c.Count(text); got != 5 {
		t.Errorf("Count(hangul) = %d, want 5", got)
	}

	// Mixed: 8 ASCII (2 tokens) + 4 ideographs (2 tokens).
	mixed := "abcdefgh" + strings.Repeat("中", 4)
	if got := c.Count(mixed); got != 4 {
		t.Errorf("Count(mixed) = %d, want 4", got)
	}
}

func TestCountEmpty(t *testing.T) {
	c := NewCounter(nil)
	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestCountMessageOverhead(t *testing.T) {
	c := NewCounter(nil)
	m := types.Message{Role: "user", Content: strings.Repeat("x", 8)}
	// 8/4 = 2 tokens content + 4 overhead.
	if got := c.CountMessage(m); got != 6 {
		t.Errorf("CountMessage = %d, want 6", got)
	}
}

func TestCountMessagesPriming(t *testing.T) {
	c := NewCounter(nil)
	msgs := []types.Message{
		{Role: "user", Content: strings.Repeat("x", 8)},
		{Role: "assistant", Content: strings.Repeat("y", 4)},
	}
	// 2 priming + (2+4) + (1+4) = 13.
	if got := c.CountMessages(msgs); got != 13 {
		t.Errorf("CountMessages = %d, want 13", got)
	}
}

type fixedTokenizer struct{ n int }

func (f fixedTokenizer) CountTokens(string) int { return f.n }

func TestPluggableTokenizer(t *testing.T) {
	c := NewCounter(fixedTokenizer{n: 42})
	if got := c.Count("anything"); got != 42 {
		t.Errorf("Count with tokenizer = %d, want 42", got)
	}
	m := types.Message{Content: "anything"}
	if got := c.CountMessage(m); got != 46 {
		t.Errorf("CountMessage with tokenizer = %d, want 46", got)
	}
}
