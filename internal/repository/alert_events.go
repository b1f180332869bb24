package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

// AlertEventRepository persists alert events. The table is append-only: this
// core never updates or deletes an event.
type AlertEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventRepository creates the repository.
func NewAlertEventRepository(db *sql.DB, logger *zap.Logger) *AlertEventRepository {
	return &AlertEventRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new alert event.
func (r *AlertEventRepository) Create(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.DatasetID == "" {
		return fmt.Errorf("dataset_id is required")
	}

	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	query := `
		INSERT INTO alert_events (
			id,
			dataset_id,
			rule_id,
			severity,
			title,
			message,
			payload,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.DatasetID,
		event.RuleID,
		event.Severity,
		event.Title,
		event.Message,
		[]byte(payload),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	return nil
}

// ExistsForRuleSince reports whether the given rule already produced an event
// at or after the cutoff. This is the cooldown check for rule evaluation.
func (r *AlertEventRepository) ExistsForRuleSince(ctx context.Context, datasetID, ruleID string, since time.Time) (bool, error) {
	if datasetID == "" {
		return false, fmt.Errorf("dataset_id is required")
	}
	if ruleID == "" {
		return false, fmt.Errorf("rule_id is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM alert_events
			WHERE dataset_id = $1
			  AND rule_id = $2
			  AND created_at >= $3
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, datasetID, ruleID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check rule cooldown: %w", err)
	}

	return exists, nil
}

// ExistsTitleSince reports whether a system alert with the given title fired
// for the dataset at or after the cutoff. Used by the spike detector, whose
// events carry no rule id.
func (r *AlertEventRepository) ExistsTitleSince(ctx context.Context, datasetID, title string, since time.Time) (bool, error) {
	if datasetID == "" {
		return false, fmt.Errorf("dataset_id is required")
	}
	if title == "" {
		return false, fmt.Errorf("title is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM alert_events
			WHERE dataset_id = $1
			  AND title = $2
			  AND created_at >= $3
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, datasetID, title, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check title cooldown: %w", err)
	}

	return exists, nil
}

// CountSince counts events for a dataset at or after the cutoff. The risk
// engine uses a trailing 24h count as alert pressure.
func (r *AlertEventRepository) CountSince(ctx context.Context, datasetID string, since time.Time) (int, error) {
	if datasetID == "" {
		return 0, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT COUNT(*)
		FROM alert_events
		WHERE dataset_id = $1
		  AND created_at >= $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, datasetID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alert events: %w", err)
	}

	return count, nil
}

// LatestCreatedAt returns the timestamp of the most recent alert event for a
// dataset, or nil when there are none.
func (r *AlertEventRepository) LatestCreatedAt(ctx context.Context, datasetID string) (*time.Time, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT created_at
		FROM alert_events
		WHERE dataset_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var ts time.Time
	err := r.db.QueryRowContext(ctx, query, datasetID).Scan(&ts)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest alert event timestamp: %w", err)
	}

	return &ts, nil
}
