package evolution

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/mneme/pkg/types"
)

// Minimum cluster size before a meta-summary is worth creating.
const reflectionMinGroup = 3

// Reflect groups an entity's valid facts by triple subject and distills
// each group of three or more into a meta_summary node linked back to
// its sources with derived_of edges. Rule-based: no LLM call, so it can
// run unconditionally at session end.
func (e *Evolver) Reflect(ctx context.Context, entityID string) (int, error) {
	nodes, err := e.store.ListNodes(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("load reflection candidates: %w", err)
	}

	groups := make(map[string][]types.KnowledgeNode)
	summarized := make(map[string]bool)
	for _, node := range nodes {
		if node.InvalidAt != nil {
			continue
		}
		if node.NodeType == string(types.MemoryTypeMetaSummary) {
			// Remember which subjects already have a summary so repeated
			// reflection passes stay idempotent.
			if subj, ok := node.Metadata["subject"].(string); ok {
				summarized[subj] = true
			}
			continue
		}
		subj, ok := node.Metadata["subject"].(string)
		if !ok || subj == "" {
			continue
		}
		groups[subj] = append(groups[subj], node)
	}

	created := 0
	for subject, members := range groups {
		if len(members) < reflectionMinGroup || summarized[subject] {
			continue
		}

		sort.Slice(members, func(i, j int) bool {
			return members[i].Importance > members[j].Importance
		})

		contents := make([]string, 0, len(members))
		for _, m := range members {
			contents = append(contents, m.Content)
		}

		importance := 0.3 + float64(len(members))*0.05
		if importance > 0.8 {
			importance = 0.8
		}

		summary := &types.KnowledgeNode{
			NodeID:     uuid.New().String(),
			EntityID:   entityID,
			NodeType:   string(types.MemoryTypeMetaSummary),
			Content:    fmt.Sprintf("About %s: %s", subject, strings.Join(contents, " | ")),
			Importance: importance,
			Metadata:   map[string]interface{}{"subject": subject, "source_count": len(members)},
		}
		if err := e.store.PutNode(ctx, summary); err != nil {
			return created, fmt.Errorf("store meta-summary for %q: %w", subject, err)
		}

		for _, m := range members {
			edge := &types.KnowledgeEdge{
				SourceNodeID: summary.NodeID,
				TargetNodeID: m.NodeID,
				EdgeType:     types.EdgeTypeDerivedOf,
				Strength:     0.8,
			}
			if err := e.store.PutEdge(ctx, edge); err != nil {
				return created, fmt.Errorf("link meta-summary source: %w", err)
			}
		}
		created++
	}
	return created, nil
}
