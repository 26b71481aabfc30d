package types

import (
	"fmt"
	"strings"
	"time"
)

// EntityProfile aggregates relationship quality and interaction patterns
// for one conversation partner. Rows are maintained by an idempotent
// "touch" upsert at session boundaries.
type EntityProfile struct {
	EntityID          string     `json:"entity_id"`
	Name              string     `json:"name"`
	Platform          string     `json:"platform"`
	FirstSeen         *time.Time `json:"first_seen,omitempty"`
	LastSeen          *time.Time `json:"last_seen,omitempty"`
	TotalInteractions int        `json:"total_interactions"`
	AffinityScore     float64    `json:"affinity_score"`
	AverageSentiment  float64    `json:"average_sentiment"`
	KnownFactsCount   int        `json:"known_facts_count"`
	TopTopics         []string   `json:"top_topics,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// FormatForContext renders the profile as a compact single-line block for
// injection into an LLM prompt.
func (p *EntityProfile) FormatForContext() string {
	parts := []string{fmt.Sprintf("Name: %s", p.Name)}
	parts = append(parts, fmt.Sprintf("Interactions: %d", p.TotalInteractions))
	if len(p.TopTopics) > 0 {
		n := len(p.TopTopics)
		if n > 5 {
			n = 5
		}
		parts = append(parts, fmt.Sprintf("Topics: %s", strings.Join(p.TopTopics[:n], ", ")))
	}
	if p.AverageSentiment != 0 {
		tone := "neutral"
		if p.AverageSentiment > 0.2 {
			tone = "positive"
		} else if p.AverageSentiment < -0.2 {
			tone = "negative"
		}
		parts = append(parts, fmt.Sprintf("Tone: %s", tone))
	}
	if p.KnownFactsCount > 0 {
		parts = append(parts, fmt.Sprintf("Known facts: %d", p.KnownFactsCount))
	}
	return strings.Join(parts, " | ")
}

// SentimentEntry is one append-only sentiment reading for an entity.
type SentimentEntry struct {
	EntityID    string    `json:"entity_id"`
	Sentiment   float64   `json:"sentiment"` // -1.0 .. 1.0
	TriggerText string    `json:"trigger_text,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}
