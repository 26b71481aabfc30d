// Package buffer holds the short-term conversation window: the recent
// messages an agent keeps verbatim, bounded by a token budget. When the
// budget overflows, the oldest unimportant messages are evicted first so
// they can be handed to long-term extraction instead of being lost.
package buffer

import (
	"strings"
	"sync"
	"time"

	"github.com/scrypster/mneme/internal/tokens"
	"github.com/scrypster/mneme/pkg/types"
)

const interruptedMarker = " <INTERRUPTED>"

// WorkingMemory is a token-bounded message window. Safe for concurrent
// use.
type WorkingMemory struct {
	mu        sync.Mutex
	messages  []types.Message
	counter   *tokens.Counter
	maxTokens int
	curTokens int
}

// New creates a working memory bounded by maxTokens.
func New(counter *tokens.Counter, maxTokens int) *WorkingMemory {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &WorkingMemory{
		counter:   counter,
		maxTokens: maxTokens,
	}
}

// Add appends a message and evicts old messages until the window fits
// the budget again. Evicted messages are returned oldest-first so the
// caller can feed them to extraction. Eviction prefers the oldest
// message not marked important; when every message is important, the
// oldest goes anyway. The sole remaining message is never evicted even
// if it alone exceeds the budget.
func (w *WorkingMemory) Add(msg types.Message) []types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	w.messages = append(w.messages, msg)
	w.curTokens += w.counter.CountMessage(msg)

	var evicted []types.Message
	for w.curTokens > w.maxTokens && len(w.messages) > 1 {
		idx := w.evictionIndex()
		victim := w.messages[idx]
		w.messages = append(w.messages[:idx], w.messages[idx+1:]...)
		w.curTokens -= w.counter.CountMessage(victim)
		evicted = append(evicted, victim)
	}
	return evicted
}

// evictionIndex picks the oldest non-important message, falling back to
// the oldest overall. Callers hold the lock.
func (w *WorkingMemory) evictionIndex() int {
	for i, m := range w.messages {
		if !m.Important {
			return i
		}
	}
	return 0
}

// HandleInterrupt truncates the last assistant message to what was
// actually heard and appends an interruption marker, so later extraction
// never attributes unspoken content to the conversation. No-op when the
// last message is not from the assistant.
func (w *WorkingMemory) HandleInterrupt(heardContent string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.messages) == 0 {
		return
	}
	last := &w.messages[len(w.messages)-1]
	if last.Role != "assistant" {
		return
	}

	w.curTokens -= w.counter.CountMessage(*last)
	last.Content = strings.TrimRight(heardContent, " ") + interruptedMarker
	w.curTokens += w.counter.CountMessage(*last)
}

// SetFromHistory replaces the window contents with the given messages,
// recomputing token usage. Used when resuming a session from persisted
// history. Messages over the budget are evicted with the same
// importance-aware policy as Add and returned oldest-first so the
// caller can route them to extraction.
func (w *WorkingMemory) SetFromHistory(messages []types.Message) []types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.messages = nil
	w.curTokens = 0
	for _, m := range messages {
		w.messages = append(w.messages, m)
		w.curTokens += w.counter.CountMessage(m)
	}

	var evicted []types.Message
	for w.curTokens > w.maxTokens && len(w.messages) > 1 {
		idx := w.evictionIndex()
		victim := w.messages[idx]
		w.messages = append(w.messages[:idx], w.messages[idx+1:]...)
		w.curTokens -= w.counter.CountMessage(victim)
		evicted = append(evicted, victim)
	}
	return evicted
}

// Messages returns a copy of the current window, oldest first.
func (w *WorkingMemory) Messages() []types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]types.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// TokenCount returns the current token usage of the window.
func (w *WorkingMemory) TokenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.curTokens
}

// Len returns the number of messages in the window.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// Clear empties the window.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = nil
	w.curTokens = 0
}
