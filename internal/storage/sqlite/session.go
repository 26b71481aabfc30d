package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

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
			return fmt.Errorf("failed to marshal topics: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, entity_id, platform, started_at, ended_at, message_count, sentiment, topics, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.SessionID, nullableString(session.EntityID), session.Platform,
		session.StartedAt, nullableTime(session.EndedAt), session.MessageCount,
		session.Sentiment, nullableBytes(topicsJSON), nullableString(session.Summary))
	if err != nil {
		return fmt.Errorf("sqlite: failed to create session: %w", err)
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
		FROM sessions WHERE session_id = ?
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
		return nil, fmt.Errorf("sqlite: failed to get session: %w", err)
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
			return nil, fmt.Errorf("failed to unmarshal topics: %w", err)
		}
	}
	if summary.Valid {
		sess.Summary = summary.String
	}

	return &sess, nil
}

// CloseSession stamps ended_at and the final counters exactly once.
// The WHERE ended_at IS NULL guard makes a double close observable:
// zero rows affected on an existing session means it was already ended.
func (s *Store) CloseSession(ctx context.Context, sessionID string, messageCount int, summary string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET ended_at = ?, message_count = ?, summary = ?
		WHERE session_id = ? AND ended_at IS NULL
	`, time.Now().UTC(), messageCount, nullableString(summary), sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to close session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish missing from already-ended.
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM sessions WHERE session_id = ?", sessionID).Scan(&exists)
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: failed to check session: %w", err)
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.SessionID, entry.CreatedAt, entry.NodesCreated, entry.EdgesCreated,
		entry.NodesMerged, entry.NodesPruned, nullableString(entry.Summary))
	if err != nil {
		return fmt.Errorf("sqlite: failed to append consolidation log: %w", err)
	}
	return nil
}
