package types

import "time"

// Reserved edge types. EdgeType is otherwise a free string.
const (
	EdgeTypeMergedFrom = "merged_from" // provenance: keeper → discarded duplicate
	EdgeTypeSupersedes = "supersedes"  // newer fact → invalidated older fact
	EdgeTypeDerivedOf  = "derived_of"  // meta-summary → source node
)

// KnowledgeNode is the persisted form of a semantic memory or episode.
// Nodes live in the knowledge graph and carry the access statistics that
// drive recency scoring and pruning.
type KnowledgeNode struct {
	NodeID         string                 `json:"node_id"`
	EntityID       string                 `json:"entity_id,omitempty"`
	NodeType       string                 `json:"node_type"`
	Content        string                 `json:"content"`
	Importance     float64                `json:"importance"` // [0,1]
	Embedding      []float32              `json:"embedding,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAccessedAt *time.Time             `json:"last_accessed_at,omitempty"`
	AccessCount    int                    `json:"access_count"`
	MentionCount   int                    `json:"mention_count"`
	ValidAt        *time.Time             `json:"valid_at,omitempty"`
	InvalidAt      *time.Time             `json:"invalid_at,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// KnowledgeEdge is a typed, weighted link between two knowledge nodes.
// Edges are cascade-deleted with either endpoint.
type KnowledgeEdge struct {
	EdgeID       string    `json:"edge_id"`
	SourceNodeID string    `json:"source_node_id"`
	TargetNodeID string    `json:"target_node_id"`
	EdgeType     string    `json:"edge_type"`
	Strength     float64   `json:"strength"` // [0,1]
	CreatedAt    time.Time `json:"created_at"`
}

// NodeFromMemory converts a semantic memory into its persisted node form.
func NodeFromMemory(m *SemanticMemory) *KnowledgeNode {
	node := &KnowledgeNode{
		NodeID:         m.ID,
		EntityID:       m.EntityID,
		NodeType:       string(m.MemoryType),
		Content:        m.Content,
		Importance:     Clamp01(m.Importance),
		Embedding:      m.Embedding,
		CreatedAt:      m.CreatedAt,
		LastAccessedAt: m.LastAccessedAt,
		AccessCount:    m.AccessCount,
	}
	meta := map[string]interface{}{}
	if m.Subject != "" {
		meta["subject"] = m.Subject
	}
	if m.Predicate != "" {
		meta["predicate"] = m.Predicate
	}
	if m.Object != "" {
		meta["object"] = m.Object
	}
	if m.Category != "" {
		meta["category"] = m.Category
	}
	if m.Confidence != 0 {
		meta["confidence"] = m.Confidence
	}
	if m.SourceEpisodeID != "" {
		meta["source_episode_id"] = m.SourceEpisodeID
	}
	if len(meta) > 0 {
		node.Metadata = meta
	}
	return node
}

// MemoryFromNode converts a persisted node back into a semantic memory.
func MemoryFromNode(n *KnowledgeNode) *SemanticMemory {
	m := &SemanticMemory{
		ID:             n.NodeID,
		EntityID:       n.EntityID,
		MemoryType:     ParseMemoryType(n.NodeType),
		Content:        n.Content,
		Importance:     n.Importance,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.CreatedAt,
		LastAccessedAt: n.LastAccessedAt,
		AccessCount:    n.AccessCount,
		Embedding:      n.Embedding,
		Confidence:     0.8,
	}
	if n.Metadata != nil {
		if s, ok := n.Metadata["subject"].(string); ok {
			m.Subject = s
		}
		if s, ok := n.Metadata["predicate"].(string); ok {
			m.Predicate = s
		}
		if s, ok := n.Metadata["object"].(string); ok {
			m.Object = s
		}
		if s, ok := n.Metadata["category"].(string); ok {
			m.Category = s
		}
		if c, ok := n.Metadata["confidence"].(float64); ok {
			m.Confidence = c
		}
		if s, ok := n.Metadata["source_episode_id"].(string); ok {
			m.SourceEpisodeID = s
		}
	}
	return m
}
