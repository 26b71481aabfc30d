package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// PutEdge creates or updates an edge. Both endpoints must exist.
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
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(edge_id) DO UPDATE SET
			edge_type = EXCLUDED.edge_type,
			strength = EXCLUDED.strength
	`, edge.EdgeID, edge.SourceNodeID, edge.TargetNodeID, edge.EdgeType, edge.Strength, edge.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to store edge: %w", err)
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
		WHERE source_node_id = $1 OR target_node_id = $1
		ORDER BY created_at
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []types.KnowledgeEdge
	for rows.Next() {
		var e types.KnowledgeEdge
		if err := rows.Scan(&e.EdgeID, &e.SourceNodeID, &e.TargetNodeID, &e.EdgeType, &e.Strength, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating edges: %w", err)
	}
	return edges, nil
}

// InsertSupersedesEdge links newNodeID to oldNodeID and closes the old
// node's validity window in one transaction.
func (s *Store) InsertSupersedesEdge(ctx context.Context, newNodeID, oldNodeID string) error {
	if newNodeID == "" || oldNodeID == "" {
		return fmt.Errorf("%w: both node IDs are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO knowledge_edges (edge_id, source_node_id, target_node_id, edge_type, strength, created_at)
		VALUES ($1, $2, $3, $4, 1.0, $5)
	`, uuid.New().String(), newNodeID, oldNodeID, types.EdgeTypeSupersedes, now)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert supersedes edge: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE knowledge_nodes SET invalid_at = $1 WHERE node_id = $2", now, oldNodeID)
	if err != nil {
		return fmt.Errorf("postgres: failed to invalidate node: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit transaction: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// TouchEntity upserts the profile row for entityID, bumping interaction
// counters. A non-empty name overwrites; an empty one is preserved.
func (s *Store) TouchEntity(ctx context.Context, entityID, name, platform string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if platform == "" {
		platform = "direct"
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_profiles (entity_id, name, platform, first_seen, last_seen, total_interactions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, 1, $4, $4)
		ON CONFLICT(entity_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name != '' THEN EXCLUDED.name ELSE entity_profiles.name END,
			platform = EXCLUDED.platform,
			last_seen = EXCLUDED.last_seen,
			total_interactions = entity_profiles.total_interactions + 1,
			updated_at = EXCLUDED.updated_at
	`, entityID, name, platform, now)
	if err != nil {
		return fmt.Errorf("postgres: failed to touch entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity profile.
func (s *Store) GetEntity(ctx context.Context, entityID string) (*types.EntityProfile, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, name, platform, first_seen, last_seen, total_interactions,
		       affinity_score, average_sentiment, known_facts_count, top_topics,
		       created_at, updated_at
		FROM entity_profiles WHERE entity_id = $1
	`, entityID)

	var p types.EntityProfile
	var firstSeen, lastSeen sql.NullTime
	var topTopics sql.NullString

	err := row.Scan(
		&p.EntityID, &p.Name, &p.Platform, &firstSeen, &lastSeen,
		&p.TotalInteractions, &p.AffinityScore, &p.AverageSentiment,
		&p.KnownFactsCount, &topTopics, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entity: %w", err)
	}

	if firstSeen.Valid {
		t := firstSeen.Time
		p.FirstSeen = &t
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastSeen = &t
	}
	if topTopics.Valid && topTopics.String != "" {
		if err := json.Unmarshal([]byte(topTopics.String), &p.TopTopics); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal top topics: %w", err)
		}
	}
	return &p, nil
}

// UpdateEntityStats refreshes the session-end aggregate columns.
func (s *Store) UpdateEntityStats(ctx context.Context, entityID string, knownFacts int, avgSentiment float64) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entity_profiles
		SET known_facts_count = $1, average_sentiment = $2, updated_at = $3
		WHERE entity_id = $4
	`, knownFacts, avgSentiment, time.Now().UTC(), entityID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update entity stats: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordSentiment appends one sentiment reading.
func (s *Store) RecordSentiment(ctx context.Context, entry *types.SentimentEntry) error {
	if entry == nil || entry.EntityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sentiment_history (entity_id, sentiment, trigger_text, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, entry.EntityID, entry.Sentiment, nullableString(entry.TriggerText), entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to record sentiment: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession inserts a new open session.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session == nil || session.SessionID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	if session.Platform == "" {
		session.Platform = "direct"
	}

	var topicsJSON []byte
	if len(session.Topics) > 0 {
		var err error
		topicsJSON, err = json.Marshal(session.Topics)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal topics: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, entity_id, platform, started_at, ended_at, message_count, sentiment, topics, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, session.SessionID, nullableString(session.EntityID), session.Platform,
		session.StartedAt, nullableTime(session.EndedAt), session.MessageCount,
		session.Sentiment, nullableBytes(topicsJSON), nullableString(session.Summary))
	if err != nil {
		return fmt.Errorf("postgres: failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, entity_id, platform, started_at, ended_at, message_count, sentiment, topics, summary
		FROM sessions WHERE session_id = $1
	`, sessionID)

	var sess types.Session
	var entityID, topics, summary sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&sess.SessionID, &entityID, &sess.Platform, &sess.StartedAt,
		&endedAt, &sess.MessageCount, &sess.Sentiment, &topics, &summary)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get session: %w", err)
	}

	if entityID.Valid {
		sess.EntityID = entityID.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	if topics.Valid && topics.String != "" {
		if err := json.Unmarshal([]byte(topics.String), &sess.Topics); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal topics: %w", err)
		}
	}
	if summary.Valid {
		sess.Summary = summary.String
	}
	return &sess, nil
}

// CloseSession stamps ended_at and final counters exactly once.
func (s *Store) CloseSession(ctx context.Context, sessionID string, messageCount int, summary string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET ended_at = $1, message_count = $2, summary = $3
		WHERE session_id = $4 AND ended_at IS NULL
	`, time.Now().UTC(), messageCount, nullableString(summary), sessionID)
	if err != nil {
		return fmt.Errorf("postgres: failed to close session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM sessions WHERE session_id = $1", sessionID).Scan(&exists)
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: failed to check session: %w", err)
		}
		return storage.ErrSessionEnded
	}
	return nil
}

// AppendConsolidationLog appends one consolidation outcome row.
func (s *Store) AppendConsolidationLog(ctx context.Context, entry *types.ConsolidationLogEntry) error {
	if entry == nil || entry.SessionID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidation_log (session_id, created_at, nodes_created, edges_created, nodes_merged, nodes_pruned, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.SessionID, entry.CreatedAt, entry.NodesCreated, entry.EdgesCreated,
		entry.NodesMerged, entry.NodesPruned, nullableString(entry.Summary))
	if err != nil {
		return fmt.Errorf("postgres: failed to append consolidation log: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Procedural rules
// ---------------------------------------------------------------------------

// PutRule creates or updates a learned procedural rule.
func (s *Store) PutRule(ctx context.Context, rule *types.ProceduralRule) error {
	if rule == nil || rule.Content == "" {
		return fmt.Errorf("%w: rule content is required", storage.ErrInvalidInput)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.RuleType == "" {
		rule.RuleType = "general"
	}
	if rule.Source == "" {
		rule.Source = "learned"
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO procedural_rules (id, rule_type, content, confidence, source, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO UPDATE SET
			rule_type = EXCLUDED.rule_type,
			content = EXCLUDED.content,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			active = EXCLUDED.active
	`, rule.ID, rule.RuleType, rule.Content, rule.Confidence, rule.Source, rule.Active, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to store rule: %w", err)
	}
	return nil
}

// ActiveRules returns all active rules, oldest first.
func (s *Store) ActiveRules(ctx context.Context) ([]types.ProceduralRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, content, confidence, source, active, created_at
		FROM procedural_rules
		WHERE active
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []types.ProceduralRule
	for rows.Next() {
		var r types.ProceduralRule
		if err := rows.Scan(&r.ID, &r.RuleType, &r.Content, &r.Confidence, &r.Source, &r.Active, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating rules: %w", err)
	}
	return rules, nil
}
