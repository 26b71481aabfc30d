package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/scrypster/mneme/internal/embedding"
	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

// FullTextSearch searches node content via the tsvector index. Ranks are
// reported on the same scale as the SQLite backend (negative, with
// magnitude/10 approximating relevance) so consumers normalize both
// backends identically.
func (s *Store) FullTextSearch(ctx context.Context, query, entityID string, limit int) ([]storage.FTSMatch, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT ` + nodeColumns + `, ts_rank(content_tsv, plainto_tsquery('simple', $1)) AS rank
		FROM knowledge_nodes
		WHERE content_tsv @@ plainto_tsquery('simple', $1)
	`
	args := []interface{}{query}
	if entityID != "" {
		sqlQuery += " AND entity_id = $2"
		args = append(args, entityID)
	}
	sqlQuery += fmt.Sprintf(" ORDER BY rank DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: full-text search failed: %w", err)
	}
	defer rows.Close()

	var matches []storage.FTSMatch
	for rows.Next() {
		var match storage.FTSMatch
		var tsRank float64
		node, err := scanMatchRow(rows, &tsRank)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan search row: %w", err)
		}
		match.Node = *node
		match.Rank = -tsRank * 10
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating search rows: %w", err)
	}
	return matches, nil
}

// scanMatchRow scans nodeColumns plus one trailing float column.
func scanMatchRow(rows *sql.Rows, trailing *float64) (*types.KnowledgeNode, error) {
	var node types.KnowledgeNode
	var entityID, metadataJSON sql.NullString
	var embeddingBlob []byte
	var lastAccessedAt, validAt, invalidAt sql.NullTime

	err := rows.Scan(
		&node.NodeID,
		&entityID,
		&node.NodeType,
		&node.Content,
		&node.Importance,
		&embeddingBlob,
		&node.CreatedAt,
		&lastAccessedAt,
		&node.AccessCount,
		&node.MentionCount,
		&validAt,
		&invalidAt,
		&metadataJSON,
		trailing,
	)
	if err != nil {
		return nil, err
	}

	if entityID.Valid {
		node.EntityID = entityID.String
	}
	if len(embeddingBlob) > 0 {
		node.Embedding = embedding.Deserialize(embeddingBlob)
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		node.LastAccessedAt = &t
	}
	if validAt.Valid {
		t := validAt.Time
		node.ValidAt = &t
	}
	if invalidAt.Valid {
		t := invalidAt.Time
		node.InvalidAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &node.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &node, nil
}

// EmbeddedNodes returns all nodes carrying a stored embedding.
func (s *Store) EmbeddedNodes(ctx context.Context, entityID string) ([]types.KnowledgeNode, error) {
	query := "SELECT " + nodeColumns + " FROM knowledge_nodes WHERE embedding IS NOT NULL"
	var args []interface{}
	if entityID != "" {
		query += " AND entity_id = $1"
		args = append(args, entityID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list embedded nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// NearestNodes returns the limit nodes closest to the query embedding by
// cosine similarity, using the pgvector <=> operator. Falls back to an
// in-process scan when the extension is unavailable.
func (s *Store) NearestNodes(ctx context.Context, queryVec []float32, entityID string, limit int) ([]storage.ScoredNode, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	if !s.pgvectorAvailable {
		return s.nearestNodesScan(ctx, queryVec, entityID, limit)
	}

	sqlQuery := `
		SELECT ` + nodeColumns + `, 1 - (embedding_vec <=> $1) AS similarity
		FROM knowledge_nodes
		WHERE embedding_vec IS NOT NULL
	`
	args := []interface{}{pgvector.NewVector(queryVec)}
	if entityID != "" {
		sqlQuery += " AND entity_id = $2"
		args = append(args, entityID)
	}
	sqlQuery += fmt.Sprintf(" ORDER BY embedding_vec <=> $1 LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search failed: %w", err)
	}
	defer rows.Close()

	var scored []storage.ScoredNode
	for rows.Next() {
		var sn storage.ScoredNode
		node, err := scanMatchRow(rows, &sn.Similarity)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan vector row: %w", err)
		}
		sn.Node = *node
		scored = append(scored, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating vector rows: %w", err)
	}
	return scored, nil
}

// nearestNodesScan computes cosine similarity in-process over all
// embedded nodes. Correct but O(n); only used without pgvector.
func (s *Store) nearestNodesScan(ctx context.Context, queryVec []float32, entityID string, limit int) ([]storage.ScoredNode, error) {
	nodes, err := s.EmbeddedNodes(ctx, entityID)
	if err != nil {
		return nil, err
	}

	scored := make([]storage.ScoredNode, 0, len(nodes))
	for _, node := range nodes {
		sim := embedding.CosineSimilarity(queryVec, node.Embedding)
		scored = append(scored, storage.ScoredNode{Node: node, Similarity: sim})
	}
	// Selection by simple insertion keeps the top results ordered.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Similarity > scored[j-1].Similarity; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// ConnectedNodes returns depth-1 neighbors of nodeID across both edge
// directions, strongest edges first.
func (s *Store) ConnectedNodes(ctx context.Context, nodeID string) ([]storage.Neighbor, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT ` + nodeColumnsQualified + `, e.edge_type, e.strength
		FROM knowledge_edges e
		JOIN knowledge_nodes ON knowledge_nodes.node_id = e.target_node_id
		WHERE e.source_node_id = $1
		UNION ALL
		SELECT ` + nodeColumnsQualified + `, e.edge_type, e.strength
		FROM knowledge_edges e
		JOIN knowledge_nodes ON knowledge_nodes.node_id = e.source_node_id
		WHERE e.target_node_id = $1
		ORDER BY strength DESC
	`

	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query connected nodes: %w", err)
	}
	defer rows.Close()

	var neighbors []storage.Neighbor
	for rows.Next() {
		var n storage.Neighbor
		var entityID, metadataJSON sql.NullString
		var embeddingBlob []byte
		var lastAccessedAt, validAt, invalidAt sql.NullTime

		err := rows.Scan(
			&n.Node.NodeID,
			&entityID,
			&n.Node.NodeType,
			&n.Node.Content,
			&n.Node.Importance,
			&embeddingBlob,
			&n.Node.CreatedAt,
			&lastAccessedAt,
			&n.Node.AccessCount,
			&n.Node.MentionCount,
			&validAt,
			&invalidAt,
			&metadataJSON,
			&n.EdgeType,
			&n.Strength,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan neighbor: %w", err)
		}

		if entityID.Valid {
			n.Node.EntityID = entityID.String
		}
		if len(embeddingBlob) > 0 {
			n.Node.Embedding = embedding.Deserialize(embeddingBlob)
		}
		if lastAccessedAt.Valid {
			t := lastAccessedAt.Time
			n.Node.LastAccessedAt = &t
		}
		if validAt.Valid {
			t := validAt.Time
			n.Node.ValidAt = &t
		}
		if invalidAt.Valid {
			t := invalidAt.Time
			n.Node.InvalidAt = &t
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &n.Node.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating neighbors: %w", err)
	}
	return neighbors, nil
}
