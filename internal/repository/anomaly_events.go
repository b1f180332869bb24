package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

// AnomalyEventRepository persists z-score anomaly events, append-only.
type AnomalyEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAnomalyEventRepository creates the repository.
func NewAnomalyEventRepository(db *sql.DB, logger *zap.Logger) *AnomalyEventRepository {
	return &AnomalyEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends one anomaly event.
func (r *AnomalyEventRepository) Insert(ctx context.Context, event *models.AnomalyEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.DatasetID == "" {
		return fmt.Errorf("dataset_id is required")
	}
	if event.Metric == "" {
		return fmt.Errorf("metric is required")
	}

	query := `
		INSERT INTO dataset_anomaly_events (
			id,
			dataset_id,
			metric,
			value,
			rolling_mean,
			rolling_std,
			z_score,
			window,
			threshold,
			direction,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.DatasetID,
		event.Metric,
		event.Value,
		event.RollingMean,
		event.RollingStd,
		event.ZScore,
		event.Window,
		event.Threshold,
		event.Direction,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly event: %w", err)
	}

	return nil
}

// LatestCreatedAt returns the timestamp of the most recent anomaly event for
// a dataset+metric, or nil when none exist. The detector uses it as a
// freshness gate so an already-scored snapshot is never evaluated twice.
func (r *AnomalyEventRepository) LatestCreatedAt(ctx context.Context, datasetID, metric string) (*time.Time, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}
	if metric == "" {
		return nil, fmt.Errorf("metric is required")
	}

	query := `
		SELECT created_at
		FROM dataset_anomaly_events
		WHERE dataset_id = $1
		  AND metric = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var ts time.Time
	err := r.db.QueryRowContext(ctx, query, datasetID, metric).Scan(&ts)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest anomaly timestamp: %w", err)
	}

	return &ts, nil
}

// ExistsSince reports whether an anomaly event for the dataset+metric exists
// at or after the cutoff. This is the emission cooldown.
func (r *AnomalyEventRepository) ExistsSince(ctx context.Context, datasetID, metric string, since time.Time) (bool, error) {
	if datasetID == "" {
		return false, fmt.Errorf("dataset_id is required")
	}
	if metric == "" {
		return false, fmt.Errorf("metric is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM dataset_anomaly_events
			WHERE dataset_id = $1
			  AND metric = $2
			  AND created_at >= $3
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, datasetID, metric, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check anomaly cooldown: %w", err)
	}

	return exists, nil
}
