// Package evolution maintains long-term memory health: near-duplicate
// facts are merged, stale unused facts are pruned, and (optionally)
// clusters of related facts are reflected into meta-summaries. It runs
// at session end, never on the conversation hot path.
package evolution

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/embedding"
	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

// Evolver runs consolidation passes against a storage backend.
type Evolver struct {
	store storage.Store
	cfg   config.ConsolidationConfig
}

// Stats summarizes one consolidation pass.
type Stats struct {
	Merged    int
	Pruned    int
	Reflected int
}

// New creates an evolver.
func New(store storage.Store, cfg config.ConsolidationConfig) *Evolver {
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = 0.85
	}
	if cfg.MaxMergeCandidates <= 0 {
		cfg.MaxMergeCandidates = 500
	}
	if cfg.PruningThreshold <= 0 {
		cfg.PruningThreshold = 0.1
	}
	if cfg.DecayHalfLifeDays <= 0 {
		cfg.DecayHalfLifeDays = 30
	}
	return &Evolver{store: store, cfg: cfg}
}

// Consolidate runs merge, prune, and (when enabled) reflection for one
// entity. Each phase failure is logged and the remaining phases still
// run; consolidation is maintenance, not a transaction.
func (e *Evolver) Consolidate(ctx context.Context, entityID string) Stats {
	var stats Stats

	merged, err := e.MergeDuplicates(ctx, entityID)
	if err != nil {
		log.Printf("evolution: merge pass failed: %v", err)
	}
	stats.Merged = merged

	pruned, err := e.Prune(ctx, entityID)
	if err != nil {
		log.Printf("evolution: prune pass failed: %v", err)
	}
	stats.Pruned = pruned

	if e.cfg.EnableReflection {
		reflected, err := e.Reflect(ctx, entityID)
		if err != nil {
			log.Printf("evolution: reflection pass failed: %v", err)
		}
		stats.Reflected = reflected
	}

	return stats
}

// MergeDuplicates finds pairs of embedded nodes whose cosine similarity
// meets the merge threshold and collapses each pair: the higher-
// importance node survives, the other is invalidated and linked with a
// merged_from provenance edge whose strength records the similarity.
// Candidates are capped at the most recently accessed nodes so the
// pairwise comparison stays bounded.
func (e *Evolver) MergeDuplicates(ctx context.Context, entityID string) (int, error) {
	nodes, err := e.store.EmbeddedNodes(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("load merge candidates: %w", err)
	}

	// Most recently accessed first; never-accessed nodes sort by age.
	sort.Slice(nodes, func(i, j int) bool {
		ti := nodeActivity(&nodes[i])
		tj := nodeActivity(&nodes[j])
		return ti.After(tj)
	})
	if len(nodes) > e.cfg.MaxMergeCandidates {
		nodes = nodes[:e.cfg.MaxMergeCandidates]
	}

	invalidated := make(map[string]bool)
	merged := 0

	for i := 0; i < len(nodes); i++ {
		if invalidated[nodes[i].NodeID] || nodes[i].InvalidAt != nil {
			continue
		}
		for j := i + 1; j < len(nodes); j++ {
			if invalidated[nodes[j].NodeID] || nodes[j].InvalidAt != nil {
				continue
			}

			sim := embedding.CosineSimilarity(nodes[i].Embedding, nodes[j].Embedding)
			if sim < e.cfg.MergeThreshold {
				continue
			}

			keep, discard := &nodes[i], &nodes[j]
			if discard.Importance > keep.Importance {
				keep, discard = discard, keep
			}

			if err := e.mergePair(ctx, keep, discard, sim); err != nil {
				log.Printf("evolution: merge of %s into %s failed: %v", discard.NodeID, keep.NodeID, err)
				continue
			}
			invalidated[discard.NodeID] = true
			merged++

			if invalidated[nodes[i].NodeID] {
				break // the outer node lost; move on
			}
		}
	}
	return merged, nil
}

// mergePair invalidates the discarded node and records provenance.
// The discarded row stays in place (retrieval skips invalidated nodes)
// so the merged_from edge keeps a valid endpoint.
func (e *Evolver) mergePair(ctx context.Context, keep, discard *types.KnowledgeNode, similarity float64) error {
	now := time.Now().UTC()
	discard.InvalidAt = &now
	if err := e.store.PutNode(ctx, discard); err != nil {
		return fmt.Errorf("invalidate discarded node: %w", err)
	}

	edge := &types.KnowledgeEdge{
		EdgeID:       fmt.Sprintf("merge_%s_%s", keep.NodeID, discard.NodeID),
		SourceNodeID: keep.NodeID,
		TargetNodeID: discard.NodeID,
		EdgeType:     types.EdgeTypeMergedFrom,
		Strength:     similarity,
	}
	if err := e.store.PutEdge(ctx, edge); err != nil {
		return fmt.Errorf("record provenance edge: %w", err)
	}
	return nil
}

// Prune deletes nodes that have decayed out of usefulness: importance at
// or below the pruning threshold, never retrieved, and older than twice
// the decay half-life. All three conditions must hold; an important or
// ever-used fact is never pruned no matter its age. Invalidated nodes
// (superseded or merged away) are pruned on the same age schedule
// counted from invalid_at, regardless of importance or use — they are
// kept that long only so provenance edges retain their endpoint.
func (e *Evolver) Prune(ctx context.Context, entityID string) (int, error) {
	nodes, err := e.store.ListNodes(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("load prune candidates: %w", err)
	}

	cutoff := time.Now().UTC().Add(-time.Duration(2*e.cfg.DecayHalfLifeDays*24) * time.Hour)
	pruned := 0

	for _, node := range nodes {
		if node.InvalidAt != nil {
			if node.InvalidAt.Before(cutoff) {
				if err := e.store.DeleteNode(ctx, node.NodeID); err != nil {
					log.Printf("evolution: failed to prune node %s: %v", node.NodeID, err)
					continue
				}
				pruned++
			}
			continue
		}
		if node.Importance > e.cfg.PruningThreshold {
			continue
		}
		if node.AccessCount > 0 {
			continue
		}
		if !node.CreatedAt.Before(cutoff) {
			continue
		}

		if err := e.store.DeleteNode(ctx, node.NodeID); err != nil {
			log.Printf("evolution: failed to prune node %s: %v", node.NodeID, err)
			continue
		}
		pruned++
	}
	return pruned, nil
}

// nodeActivity returns the timestamp that orders merge candidates:
// last access when present, creation time otherwise.
func nodeActivity(n *types.KnowledgeNode) time.Time {
	if n.LastAccessedAt != nil {
		return *n.LastAccessedAt
	}
	return n.CreatedAt
}
