package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

// InsightRepository persists the insight set for each dataset. Refreshes are
// delete-then-insert inside one transaction so readers never see a partial set.
type InsightRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInsightRepository creates the repository.
func NewInsightRepository(db *sql.DB, logger *zap.Logger) *InsightRepository {
	return &InsightRepository{
		db:     db,
		logger: logger,
	}
}

// Replace atomically swaps the full insight set for a dataset.
func (r *InsightRepository) Replace(ctx context.Context, datasetID string, insights []models.Insight) error {
	if datasetID == "" {
		return fmt.Errorf("dataset_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dataset_insights WHERE dataset_id = $1`,
		datasetID,
	); err != nil {
		return fmt.Errorf("failed to delete old insights: %w", err)
	}

	insertQuery := `
		INSERT INTO dataset_insights (
			id,
			dataset_id,
			column_id,
			severity,
			code,
			title,
			message,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, ins := range insights {
		if _, err := tx.ExecContext(ctx, insertQuery,
			ins.ID,
			ins.DatasetID,
			ins.ColumnID,
			ins.Severity,
			ins.Code,
			ins.Title,
			ins.Message,
			ins.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert insight %s: %w", ins.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insights: %w", err)
	}

	return nil
}

// List returns the current insight set for a dataset.
func (r *InsightRepository) List(ctx context.Context, datasetID string) ([]models.Insight, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT
			id,
			dataset_id,
			column_id,
			severity,
			code,
			title,
			message,
			created_at
		FROM dataset_insights
		WHERE dataset_id = $1
		ORDER BY created_at ASC, code ASC
	`

	rows, err := r.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	insights := []models.Insight{}
	for rows.Next() {
		var ins models.Insight
		var columnID sql.NullString
		if err := rows.Scan(
			&ins.ID,
			&ins.DatasetID,
			&columnID,
			&ins.Severity,
			&ins.Code,
			&ins.Title,
			&ins.Message,
			&ins.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		if columnID.Valid {
			ins.ColumnID = &columnID.String
		}
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate insights: %w", err)
	}

	return insights, nil
}

// CodeExists reports whether any insight with the given code currently exists
// for the dataset.
func (r *InsightRepository) CodeExists(ctx context.Context, datasetID, code string) (bool, error) {
	if datasetID == "" {
		return false, fmt.Errorf("dataset_id is required")
	}
	if code == "" {
		return false, fmt.Errorf("code is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM dataset_insights
			WHERE dataset_id = $1 AND code = $2
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, datasetID, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check insight code: %w", err)
	}

	return exists, nil
}

// LatestCreatedAt returns the timestamp of the most recent insight for a
// dataset, or nil when the dataset has no insights.
func (r *InsightRepository) LatestCreatedAt(ctx context.Context, datasetID string) (*time.Time, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT created_at
		FROM dataset_insights
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
		return nil, fmt.Errorf("failed to get latest insight timestamp: %w", err)
	}

	return &ts, nil
}
