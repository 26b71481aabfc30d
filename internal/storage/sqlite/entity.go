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

// TouchEntity upserts the profile row for entityID. The first call
// creates it; every call bumps total_interactions and last_seen. Name
// and platform only overwrite when non-empty so a later anonymous touch
// can't erase a known name.
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
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE entity_profiles.name END,
			platform = excluded.platform,
			last_seen = excluded.last_seen,
			total_interactions = entity_profiles.total_interactions + 1,
			updated_at = excluded.updated_at
	`, entityID, name, platform, now, now, now, now)
	if err != nil {
		return fmt.Errorf("sqlite: failed to touch entity: %w", err)
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
		FROM entity_profiles WHERE entity_id = ?
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
		return nil, fmt.Errorf("sqlite: failed to get entity: %w", err)
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
			return nil, fmt.Errorf("failed to unmarshal top topics: %w", err)
		}
	}

	return &p, nil
}

// UpdateEntityStats refreshes the aggregate columns maintained at
// session end.
func (s *Store) UpdateEntityStats(ctx context.Context, entityID string, knownFacts int, avgSentiment float64) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entity_profiles
		SET known_facts_count = ?, average_sentiment = ?, updated_at = ?
		WHERE entity_id = ?
	`, knownFacts, avgSentiment, time.Now().UTC(), entityID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update entity stats: %w", err)
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
		VALUES (?, ?, ?, ?)
	`, entry.EntityID, entry.Sentiment, nullableString(entry.TriggerText), entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to record sentiment: %w", err)
	}
	return nil
}
