package assembler

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	streamEventCapacity = 20
	viewerTimeout       = 300 * time.Second
	viewerPruneInterval = 50 // messages between activity-map prunes
)

type streamEvent struct {
	eventType   string
	description string
	at          time.Time
}

// StreamContext tracks live-stream ambience for the prompt: recent
// stream events (raids, follows, scene changes) in a fixed-size ring,
// and which viewers are currently active in chat. Safe for concurrent
// use.
type StreamContext struct {
	mu           sync.Mutex
	events       []streamEvent
	viewers      map[string]time.Time
	messageCount int
}

// NewStreamContext creates an empty stream context.
func NewStreamContext() *StreamContext {
	return &StreamContext{viewers: make(map[string]time.Time)}
}

// AddEvent records one stream event. The oldest event falls out once the
// ring is full.
func (s *StreamContext) AddEvent(eventType, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, streamEvent{eventType: eventType, description: description, at: time.Now().UTC()})
	if len(s.events) > streamEventCapacity {
		s.events = s.events[len(s.events)-streamEventCapacity:]
	}
}

// NoteViewer marks a viewer as active. The activity map is pruned of
// timed-out viewers every viewerPruneInterval messages so it can't grow
// with drive-by chatters.
func (s *StreamContext) NoteViewer(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewers[name] = time.Now().UTC()
	s.messageCount++
	if s.messageCount%viewerPruneInterval == 0 {
		s.pruneLocked()
	}
}

func (s *StreamContext) pruneLocked() {
	cutoff := time.Now().UTC().Add(-viewerTimeout)
	for name, seen := range s.viewers {
		if seen.Before(cutoff) {
			delete(s.viewers, name)
		}
	}
}

// ActiveViewers returns the number of viewers seen within the timeout.
func (s *StreamContext) ActiveViewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-viewerTimeout)
	count := 0
	for _, seen := range s.viewers {
		if !seen.Before(cutoff) {
			count++
		}
	}
	return count
}

// FormatBlock renders the stream status as a prompt block. Returns ""
// when there is nothing to report.
func (s *StreamContext) FormatBlock() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-viewerTimeout)
	active := 0
	for _, seen := range s.viewers {
		if !seen.Before(cutoff) {
			active++
		}
	}

	if len(s.events) == 0 && active == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[Current Stream Status]")
	if active > 0 {
		fmt.Fprintf(&b, "\nActive viewers: %d", active)
	}
	for _, e := range s.events {
		fmt.Fprintf(&b, "\n- %s: %s", e.eventType, e.description)
	}
	return b.String()
}
