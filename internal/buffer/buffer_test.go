package buffer

import (
	"strings"
	"testing"

	"github.com/scrypster/mneme/internal/tokens"
	"github.com/scrypster/mneme/pkg/types"
)

func newTestBuffer(maxTokens int) *WorkingMemory {
	return New(tokens.NewCounter(nil), maxTokens)
}

func msg(role, content string) types.Message {
	return types.Message{Role: role, Content: content}
}

func TestAddWithinBudget(t *testing.T) {
	w := newTestBuffer(1000)

	evicted := w.Add(msg("user", "hello there"))
	if evicted != nil {
		t.Errorf("evicted = %v, want nil within budget", evicted)
	}
	if w.Len() != 1 {
		t.Errorf("len = %d, want 1", w.Len())
	}
	if w.TokenCount() == 0 {
		t.Error("token count not tracked")
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	// Each message is ~4 overhead + content/4 tokens; a tight budget
	// forces eviction on the third add.
	w := newTestBuffer(30)

	w.Add(msg("user", strings.Repeat("a", 40)))
	w.Add(msg("assistant", strings.Repeat("b", 40)))
	evicted := w.Add(msg("user", strings.Repeat("c", 40)))

	if len(evicted) == 0 {
		t.Fatal("expected eviction over budget")
	}
	if evicted[0].Content != strings.Repeat("a", 40) {
		t.Errorf("evicted %q first, want oldest", evicted[0].Content)
	}
	remaining := w.Messages()
	if remaining[len(remaining)-1].Content != strings.Repeat("c", 40) {
		t.Error("newest message must survive eviction")
	}
}

func TestEvictionSkipsImportant(t *testing.T) {
	w := newTestBuffer(30)

	important := msg("user", strings.Repeat("a", 40))
	important.Important = true
	w.Add(important)
	w.Add(msg("assistant", strings.Repeat("b", 40)))
	evicted := w.Add(msg("user", strings.Repeat("c", 40)))

	if len(evicted) == 0 {
		t.Fatal("expected eviction over budget")
	}
	if evicted[0].Important {
		t.Error("important message evicted while unimportant ones remained")
	}
	for _, m := range w.Messages() {
		if m.Content == strings.Repeat("b", 40) {
			t.Error("unimportant older message survived over important one")
		}
	}
}

func TestEvictionAllImportantFallsBackToOldest(t *testing.T) {
	w := newTestBuffer(30)

	for _, content := range []string{"first", "second", "third"} {
		m := msg("user", strings.Repeat(content, 10))
		m.Important = true
		w.Add(m)
	}

	// Every message is important; budget still forces the oldest out.
	if w.TokenCount() > 30 && w.Len() >= 3 {
		t.Error("buffer exceeded budget without evicting")
	}
}

func TestSoleMessageNeverEvicted(t *testing.T) {
	w := newTestBuffer(5)

	evicted := w.Add(msg("user", strings.Repeat("x", 400)))
	if evicted != nil {
		t.Errorf("sole message evicted: %v", evicted)
	}
	if w.Len() != 1 {
		t.Errorf("len = %d, want 1 even over budget", w.Len())
	}
}

func TestHandleInterrupt(t *testing.T) {
	w := newTestBuffer(1000)

	w.Add(msg("user", "tell me a story"))
	w.Add(msg("assistant", "once upon a time there was a long story that never finished"))

	before := w.TokenCount()
	w.HandleInterrupt("once upon a")

	msgs := w.Messages()
	got := msgs[len(msgs)-1].Content
	want := "once upon a <INTERRUPTED>"
	if got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
	if w.TokenCount() >= before {
		t.Errorf("token count %d not reduced from %d after truncation", w.TokenCount(), before)
	}
}

func TestHandleInterruptIgnoresUserMessage(t *testing.T) {
	w := newTestBuffer(1000)

	w.Add(msg("user", "hello"))
	w.HandleInterrupt("hel")

	if got := w.Messages()[0].Content; got != "hello" {
		t.Errorf("user message modified: %q", got)
	}
}

func TestSetFromHistory(t *testing.T) {
	w := newTestBuffer(1000)
	w.Add(msg("user", "stale"))

	history := []types.Message{
		msg("user", "restored one"),
		msg("assistant", "restored two"),
	}
	w.SetFromHistory(history)

	msgs := w.Messages()
	if len(msgs) != 2 || msgs[0].Content != "restored one" {
		t.Errorf("messages = %v, want restored history", msgs)
	}
	if w.TokenCount() == 0 {
		t.Error("token count not recomputed")
	}
}

func TestSetFromHistoryTrimsToBudget(t *testing.T) {
	w := newTestBuffer(30)

	history := []types.Message{
		msg("user", strings.Repeat("a", 60)),
		msg("assistant", strings.Repeat("b", 60)),
		msg("user", strings.Repeat("c", 60)),
	}
	evicted := w.SetFromHistory(history)

	msgs := w.Messages()
	if len(msgs) == 3 {
		t.Error("oversized history not trimmed")
	}
	if msgs[len(msgs)-1].Content != strings.Repeat("c", 60) {
		t.Error("newest message must survive trim")
	}
	if len(evicted) == 0 {
		t.Fatal("trimmed messages not returned")
	}
	if evicted[0].Content != strings.Repeat("a", 60) {
		t.Errorf("evicted %q first, want oldest", evicted[0].Content)
	}
	if len(evicted)+len(msgs) != 3 {
		t.Errorf("evicted %d + kept %d, want all 3 accounted for", len(evicted), len(msgs))
	}
}

func TestSetFromHistorySparesImportant(t *testing.T) {
	w := newTestBuffer(30)

	pinned := msg("user", strings.Repeat("a", 60))
	pinned.Important = true
	history := []types.Message{
		pinned,
		msg("assistant", strings.Repeat("b", 60)),
		msg("user", strings.Repeat("c", 60)),
	}
	evicted := w.SetFromHistory(history)

	for _, m := range evicted {
		if m.Important {
			t.Error("important message evicted while unimportant ones remained")
		}
	}
	found := false
	for _, m := range w.Messages() {
		if m.Important {
			found = true
		}
	}
	if !found {
		t.Error("important message missing from window after trim")
	}
}

func TestClear(t *testing.T) {
	w := newTestBuffer(1000)
	w.Add(msg("user", "hello"))
	w.Clear()

	if w.Len() != 0 || w.TokenCount() != 0 {
		t.Errorf("clear left len=%d tokens=%d", w.Len(), w.TokenCount())
	}
}
