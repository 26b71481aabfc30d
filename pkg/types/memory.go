// Package types defines the shared data contracts of the memory system:
// conversation messages, semantic memories, knowledge graph nodes/edges,
// entity profiles, sessions, and retrieval results.
package types

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies a semantic memory.
type MemoryType string

const (
	MemoryTypeAtomicFact  MemoryType = "atomic_fact"
	MemoryTypeTriple      MemoryType = "triple"
	MemoryTypePreference  MemoryType = "preference"
	MemoryTypeEpisode     MemoryType = "episode"
	MemoryTypeMetaSummary MemoryType = "meta_summary"
)

// ParseMemoryType maps a raw type string onto a known MemoryType.
// Unknown values coerce to MemoryTypeAtomicFact rather than failing,
// because extraction output is untrusted LLM text.
func ParseMemoryType(s string) MemoryType {
	switch MemoryType(s) {
	case MemoryTypeAtomicFact, MemoryTypeTriple, MemoryTypePreference,
		MemoryTypeEpisode, MemoryTypeMetaSummary:
		return MemoryType(s)
	default:
		return MemoryTypeAtomicFact
	}
}

// Message is a single conversation message. Messages have no identity
// beyond their position in the working-memory buffer.
type Message struct {
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name,omitempty"`     // speaker display name
	Platform  string    `json:"platform,omitempty"` // originating platform
	Important bool      `json:"important"`          // protected from eviction
}

// SemanticMemory is an extracted long-term memory: an atomic fact, a
// stated preference, or a subject-predicate-object triple.
type SemanticMemory struct {
	ID              string     `json:"id"`
	EntityID        string     `json:"entity_id,omitempty"`
	MemoryType      MemoryType `json:"memory_type"`
	Content         string     `json:"content"`
	Subject         string     `json:"subject,omitempty"`
	Predicate       string     `json:"predicate,omitempty"`
	Object          string     `json:"object,omitempty"`
	Category        string     `json:"category,omitempty"`
	Confidence      float64    `json:"confidence"` // [0,1]
	Importance      float64    `json:"importance"` // [0,1]
	SourceEpisodeID string     `json:"source_episode_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastAccessedAt  *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount     int        `json:"access_count"`
	Embedding       []float32  `json:"embedding,omitempty"`
}

// NewSemanticMemory creates a memory with a fresh ID and timestamps.
func NewSemanticMemory(memoryType MemoryType, content string) *SemanticMemory {
	now := time.Now().UTC()
	return &SemanticMemory{
		ID:         uuid.NewString(),
		MemoryType: memoryType,
		Content:    content,
		Confidence: 0.8,
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RetrievalResult is a single ranked hit from hybrid retrieval.
type RetrievalResult struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	MemoryType string                 `json:"memory_type"`
	Score      float64                `json:"score"`
	Source     string                 `json:"source"` // "vector", "fts", "graph", or "+"-joined
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ExtractionResult carries the output of one extraction pass.
type ExtractionResult struct {
	Memories []*SemanticMemory `json:"memories"`
}

// Clamp01 clamps v into [0,1]. Importance, confidence, and edge strength
// values must always stay inside that range.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
