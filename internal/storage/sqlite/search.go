package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/mneme/internal/embedding"
	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

// sanitizeFTSQuery converts free text into a safe FTS5 MATCH expression.
// Each whitespace-separated word is double-quoted (neutralizing FTS5
// operators and punctuation) and the words are OR-joined so any term can
// match. Returns empty string when no usable words remain.
func sanitizeFTSQuery(query string) string {
	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// FullTextSearch searches node content via the FTS5 index. Matches come
// back best-first (FTS5 rank ascending; ranks are negative).
func (s *Store) FullTextSearch(ctx context.Context, query, entityID string, limit int) ([]storage.FTSMatch, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT ` + nodeColumnsQualified + `, fts.rank
		FROM knowledge_nodes_fts fts
		JOIN knowledge_nodes ON knowledge_nodes.rowid = fts.rowid
		WHERE knowledge_nodes_fts MATCH ?
	`
	args := []interface{}{sanitized}
	if entityID != "" {
		sqlQuery += " AND knowledge_nodes.entity_id = ?"
		args = append(args, entityID)
	}
	sqlQuery += " ORDER BY fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: full-text search failed: %w", err)
	}
	defer rows.Close()

	var matches []storage.FTSMatch
	for rows.Next() {
		match, err := scanFTSMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		matches = append(matches, *match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return matches, nil
}

// scanFTSMatch scans nodeColumns plus the trailing rank column.
func scanFTSMatch(rows *sql.Rows) (*storage.FTSMatch, error) {
	var match storage.FTSMatch
	var entityID, metadataJSON sql.NullString
	var embeddingBlob []byte
	var lastAccessedAt, validAt, invalidAt sql.NullTime

	err := rows.Scan(
		&match.Node.NodeID,
		&entityID,
		&match.Node.NodeType,
		&match.Node.Content,
		&match.Node.Importance,
		&embeddingBlob,
		&match.Node.CreatedAt,
		&lastAccessedAt,
		&match.Node.AccessCount,
		&match.Node.MentionCount,
		&validAt,
		&invalidAt,
		&metadataJSON,
		&match.Rank,
	)
	if err != nil {
		return nil, err
	}

	if entityID.Valid {
		match.Node.EntityID = entityID.String
	}
	if len(embeddingBlob) > 0 {
		match.Node.Embedding = embedding.Deserialize(embeddingBlob)
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		match.Node.LastAccessedAt = &t
	}
	if validAt.Valid {
		t := validAt.Time
		match.Node.ValidAt = &t
	}
	if invalidAt.Valid {
		t := invalidAt.Time
		match.Node.InvalidAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &match.Node.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &match, nil
}

// EmbeddedNodes returns all nodes carrying a stored embedding. Vector
// similarity ranking happens in the retriever; the store only narrows
// the candidate set.
func (s *Store) EmbeddedNodes(ctx context.Context, entityID string) ([]types.KnowledgeNode, error) {
	query := "SELECT " + nodeColumns + " FROM knowledge_nodes WHERE embedding IS NOT NULL"
	var args []interface{}
	if entityID != "" {
		query += " AND entity_id = ?"
		args = append(args, entityID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list embedded nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
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
		WHERE e.source_node_id = ?
		UNION ALL
		SELECT ` + nodeColumnsQualified + `, e.edge_type, e.strength
		FROM knowledge_edges e
		JOIN knowledge_nodes ON knowledge_nodes.node_id = e.source_node_id
		WHERE e.target_node_id = ?
		ORDER BY strength DESC
	`

	rows, err := s.db.QueryContext(ctx, query, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query connected nodes: %w", err)
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
			return nil, fmt.Errorf("scan neighbor row: %w", err)
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
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return neighbors, nil
}
