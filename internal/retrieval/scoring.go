package retrieval

import (
	"math"
	"time"

	"github.com/scrypster/mneme/pkg/types"
)

// Three-factor score weights (recency / relevance / importance), after
// the generative-agents memory architecture.
const (
	recencyWeight    = 0.3
	relevanceWeight  = 0.5
	importanceWeight = 0.2
)

// neverAccessedRecency is the recency assigned to nodes that have never
// been retrieved. Non-zero so fresh memories aren't buried, below 0.5 so
// they don't outrank recently-used ones.
const neverAccessedRecency = 0.3

// recencyScore computes exponential decay over hours since last access:
// 2^(-hours/halfLife). A node accessed now scores 1.0 and halves every
// halfLifeHours.
func recencyScore(lastAccessedAt *time.Time, now time.Time, halfLifeHours float64) float64 {
	if lastAccessedAt == nil || lastAccessedAt.IsZero() {
		return neverAccessedRecency
	}
	if halfLifeHours <= 0 {
		halfLifeHours = 720
	}
	hours := now.Sub(*lastAccessedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp2(-hours / halfLifeHours)
}

// ftsRelevance normalizes an FTS5-style rank (negative, more negative is
// better) into [0,1].
func ftsRelevance(rank float64) float64 {
	return math.Min(1.0, math.Abs(rank)/10.0)
}

// combinedScore blends recency, relevance, and importance for one node
// as seen through one retrieval source.
func combinedScore(node *types.KnowledgeNode, relevance float64, now time.Time, halfLifeHours float64) float64 {
	return recencyWeight*recencyScore(node.LastAccessedAt, now, halfLifeHours) +
		relevanceWeight*types.Clamp01(relevance) +
		importanceWeight*types.Clamp01(node.Importance)
}
