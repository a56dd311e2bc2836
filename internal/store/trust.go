package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
)

// RecordTrustTransition appends the append-only source-of-truth row for a
// trust-level change, inside the same transaction as the ruleset update.
func (s *Store) RecordTrustTransition(ctx context.Context, tx *sqlx.Tx, h *models.TrustHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO trust_history (id, ruleset_id, previous_level, new_level, reason, triggered_by, metrics_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now()) RETURNING created_at`
	row := tx.QueryRowxContext(ctx, q,
		h.ID, h.RulesetID, h.PreviousLevel, h.NewLevel, h.Reason, h.TriggeredBy, h.MetricsSnapshot)
	if err := row.Scan(&h.CreatedAt); err != nil {
		return errs.Wrap(errs.Database, "record trust transition", err)
	}
	return nil
}

// TrustHistoryForRuleset returns the transition log, most recent first.
func (s *Store) TrustHistoryForRuleset(ctx context.Context, rulesetID string, limit int) ([]models.TrustHistory, error) {
	var rows []models.TrustHistory
	const q = `SELECT * FROM trust_history WHERE ruleset_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, q, rulesetID, limit); err != nil {
		return nil, errs.Wrap(errs.Database, "trust history for ruleset", err)
	}
	return rows, nil
}

// LastTransitionAt returns the most recent transition time, used to
// enforce the cooldown_seconds guard between trust changes.
func (s *Store) LastTransitionAt(ctx context.Context, rulesetID string) (*models.TrustHistory, error) {
	var h models.TrustHistory
	const q = `SELECT * FROM trust_history WHERE ruleset_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &h, q, rulesetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no prior transition: no cooldown applies
		}
		return nil, errs.Wrap(errs.Database, "last transition at", err)
	}
	return &h, nil
}
