package types

import "time"

// Session is one conversation session. A session is created open by
// StartSession and closed exactly once by EndSession; once ended it is
// immutable except for the append-only consolidation log.
type Session struct {
	SessionID    string     `json:"session_id"`
	EntityID     string     `json:"entity_id,omitempty"`
	Platform     string     `json:"platform"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `json:"message_count"`
	Sentiment    float64    `json:"sentiment"`
	Topics       []string   `json:"topics,omitempty"`
	Summary      string     `json:"summary,omitempty"`
}

// ConsolidationLogEntry records the outcome of one session-end
// consolidation pass.
type ConsolidationLogEntry struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	NodesCreated int       `json:"nodes_created"`
	EdgesCreated int       `json:"edges_created"`
	NodesMerged  int       `json:"nodes_merged"`
	NodesPruned  int       `json:"nodes_pruned"`
	Summary      string    `json:"summary,omitempty"`
}

// ProceduralRule is a learned behavior pattern. Rules are loaded at
// session start and injected into the assembled context as a grouped
// text block.
type ProceduralRule struct {
	ID         string    `json:"id"`
	RuleType   string    `json:"rule_type"` // e.g. "persona", "style", "general"
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"` // "learned", "configured"
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
