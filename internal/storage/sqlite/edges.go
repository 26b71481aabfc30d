package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

// PutEdge creates or updates an edge. Both endpoint nodes must already
// exist (enforced by foreign keys).
func (s *Store) PutEdge(ctx context.Context, edge *types.KnowledgeEdge) error {
	if edge == nil {
		return storage.ErrInvalidInput
	}
	if edge.SourceNodeID == "" || edge.TargetNodeID == "" {
		return fmt.Errorf("%w: edge endpoints are required", storage.ErrInvalidInput)
	}
	if edge.EdgeID == "" {
		edge.EdgeID = uuid.New().String()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_edges (edge_id, source_node_id, target_node_id, edge_type, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(edge_id) DO UPDATE SET
			edge_type = excluded.edge_type,
			strength = excluded.strength
	`, edge.EdgeID, edge.SourceNodeID, edge.TargetNodeID, edge.EdgeType, edge.Strength, edge.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store edge: %w", err)
	}
	return nil
}

// EdgesForNode returns all edges touching nodeID in either direction.
func (s *Store) EdgesForNode(ctx context.Context, nodeID string) ([]types.KnowledgeEdge, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT edge_id, source_node_id, target_node_id, edge_type, strength, created_at
		FROM knowledge_edges
		WHERE source_node_id = ? OR target_node_id = ?
		ORDER BY created_at
	`, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []types.KnowledgeEdge
	for rows.Next() {
		var e types.KnowledgeEdge
		if err := rows.Scan(&e.EdgeID, &e.SourceNodeID, &e.TargetNodeID, &e.EdgeType, &e.Strength, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge row: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return edges, nil
}

// InsertSupersedesEdge links newNodeID to oldNodeID with a supersedes
// edge and closes the old node's validity window. The two writes happen
// in one transaction so a crash can't leave a superseded node without
// its invalid_at stamp.
func (s *Store) InsertSupersedesEdge(ctx context.Context, newNodeID, oldNodeID string) error {
	if newNodeID == "" || oldNodeID == "" {
		return fmt.Errorf("%w: both node IDs are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO knowledge_edges (edge_id, source_node_id, target_node_id, edge_type, strength, created_at)
		VALUES (?, ?, ?, ?, 1.0, ?)
	`, uuid.New().String(), newNodeID, oldNodeID, types.EdgeTypeSupersedes, now)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert supersedes edge: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE knowledge_nodes SET invalid_at = ? WHERE node_id = ?", now, oldNodeID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to invalidate node: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit transaction: %w", err)
	}
	return nil
}
