// Package storage provides composable storage interfaces for the memory
// system. The interfaces are small and focused so backends can implement
// them independently; Store composes them into the full contract the
// retriever, evolver, and service depend on.
package storage

import (
	"context"

	"github.com/scrypster/mneme/pkg/types"
)

// FTSMatch is one full-text search hit with its source-defined rank.
// SQLite FTS5 ranks are negative (more negative == better match);
// consumers normalize ranks themselves.
type FTSMatch struct {
	Node types.KnowledgeNode
	Rank float64
}

// Neighbor is one depth-1 graph neighbor of a seed node.
type Neighbor struct {
	Node     types.KnowledgeNode
	EdgeType string
	Strength float64
}

// NodeStore provides CRUD and access bookkeeping for knowledge nodes.
type NodeStore interface {
	// PutNode creates or updates a node (upsert semantics).
	PutNode(ctx context.Context, node *types.KnowledgeNode) error

	// GetNode retrieves a node by ID. Returns ErrNotFound if missing.
	GetNode(ctx context.Context, nodeID string) (*types.KnowledgeNode, error)

	// DeleteNode removes a node. Dependent edges cascade-delete.
	// Returns ErrNotFound if the node doesn't exist.
	DeleteNode(ctx context.Context, nodeID string) error

	// ListNodes returns all nodes, filtered by entity when entityID is
	// non-empty, ordered by creation time descending.
	ListNodes(ctx context.Context, entityID string) ([]types.KnowledgeNode, error)

	// DeleteAllNodes removes every node (for one entity when entityID is
	// non-empty) and returns the number deleted.
	DeleteAllNodes(ctx context.Context, entityID string) (int, error)

	// TouchNode increments access_count and refreshes last_accessed_at.
	// Returns ErrNotFound if the node doesn't exist.
	TouchNode(ctx context.Context, nodeID string) error

	// UpdateMention records a repeated mention: mention_count increments
	// and importance gains 0.05, capped at 1.0.
	UpdateMention(ctx context.Context, nodeID string) error

	// RecentNodes returns up to limit nodes ordered by last_accessed_at
	// descending (never-accessed nodes sort last).
	RecentNodes(ctx context.Context, entityID string, limit int) ([]types.KnowledgeNode, error)
}

// EdgeStore manages typed links between knowledge nodes.
type EdgeStore interface {
	// PutEdge creates or updates an edge. Both endpoints must exist.
	PutEdge(ctx context.Context, edge *types.KnowledgeEdge) error

	// EdgesForNode returns all edges touching nodeID in either direction.
	EdgesForNode(ctx context.Context, nodeID string) ([]types.KnowledgeEdge, error)

	// InsertSupersedesEdge records that newNodeID supersedes oldNodeID
	// and closes the old node's validity window.
	InsertSupersedesEdge(ctx context.Context, newNodeID, oldNodeID string) error
}

// SearchProvider exposes the three search primitives hybrid retrieval
// depends on. Full-text index maintenance is the store's responsibility.
type SearchProvider interface {
	// FullTextSearch searches node content with a sanitized query and
	// returns matches with their source-defined relevance rank.
	FullTextSearch(ctx context.Context, query, entityID string, limit int) ([]FTSMatch, error)

	// EmbeddedNodes returns all nodes that have a stored embedding,
	// filtered by entity when entityID is non-empty.
	EmbeddedNodes(ctx context.Context, entityID string) ([]types.KnowledgeNode, error)

	// ConnectedNodes returns the direct graph neighbors (both edge
	// directions) of a seed node, ordered by edge strength descending.
	ConnectedNodes(ctx context.Context, nodeID string) ([]Neighbor, error)
}

// ScoredNode is a node paired with a backend-computed similarity score.
type ScoredNode struct {
	Node       types.KnowledgeNode
	Similarity float64
}

// VectorSearcher is an optional interface for backends with native
// nearest-neighbor support (e.g. pgvector). The retriever type-asserts
// for it and falls back to scanning EmbeddedNodes when absent.
type VectorSearcher interface {
	// NearestNodes returns the limit nodes closest to the query embedding
	// by cosine similarity, best first.
	NearestNodes(ctx context.Context, embedding []float32, entityID string, limit int) ([]ScoredNode, error)
}

// EntityStore maintains entity profiles and sentiment history.
type EntityStore interface {
	// TouchEntity upserts the profile row for entityID: first call
	// creates it, every call increments total_interactions and refreshes
	// last_seen. Idempotent with respect to row existence.
	TouchEntity(ctx context.Context, entityID, name, platform string) error

	// GetEntity retrieves a profile. Returns ErrNotFound if missing.
	GetEntity(ctx context.Context, entityID string) (*types.EntityProfile, error)

	// UpdateEntityStats refreshes the aggregate columns maintained at
	// session end.
	UpdateEntityStats(ctx context.Context, entityID string, knownFacts int, avgSentiment float64) error

	// RecordSentiment appends one sentiment reading.
	RecordSentiment(ctx context.Context, entry *types.SentimentEntry) error
}

// SessionStore manages session rows and the append-only consolidation log.
type SessionStore interface {
	// CreateSession inserts a new open session.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session. Returns ErrNotFound if missing.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// CloseSession sets ended_at and final counters exactly once.
	// Returns ErrSessionEnded if the session was already closed.
	CloseSession(ctx context.Context, sessionID string, messageCount int, summary string) error

	// AppendConsolidationLog appends one consolidation log entry.
	AppendConsolidationLog(ctx context.Context, entry *types.ConsolidationLogEntry) error
}

// RuleStore persists learned procedural rules.
type RuleStore interface {
	// PutRule creates or updates a rule.
	PutRule(ctx context.Context, rule *types.ProceduralRule) error

	// ActiveRules returns all active rules ordered by creation time.
	ActiveRules(ctx context.Context) ([]types.ProceduralRule, error)
}

// Store is the full storage contract. Alternative backends implement
// this interface so the retriever and evolver never touch a driver.
type Store interface {
	NodeStore
	EdgeStore
	SearchProvider
	EntityStore
	SessionStore
	RuleStore

	// Close releases the underlying connection.
	Close() error
}
