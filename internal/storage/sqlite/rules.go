package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

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
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_type = excluded.rule_type,
			content = excluded.content,
			confidence = excluded.confidence,
			source = excluded.source,
			active = excluded.active
	`, rule.ID, rule.RuleType, rule.Content, rule.Confidence, rule.Source, boolToInt(rule.Active), rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store rule: %w", err)
	}
	return nil
}

// ActiveRules returns all active rules, oldest first, so earlier-learned
// behavior renders first in the assembled context.
func (s *Store) ActiveRules(ctx context.Context) ([]types.ProceduralRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, content, confidence, source, active, created_at
		FROM procedural_rules
		WHERE active = 1
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []types.ProceduralRule
	for rows.Next() {
		var r types.ProceduralRule
		var active int
		if err := rows.Scan(&r.ID, &r.RuleType, &r.Content, &r.Confidence, &r.Source, &active, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		r.Active = active != 0
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return rules, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
