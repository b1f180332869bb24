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

// RiskHistoryRepository persists the append-only risk snapshot time series.
type RiskHistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRiskHistoryRepository creates the repository.
func NewRiskHistoryRepository(db *sql.DB, logger *zap.Logger) *RiskHistoryRepository {
	return &RiskHistoryRepository{
		db:     db,
		logger: logger,
	}
}

const riskSnapshotColumns = `
	id,
	dataset_id,
	risk_score,
	risk_level,
	breakdown,
	smoothed_score,
	alpha,
	delta_score,
	accel_score,
	created_at
`

// Insert appends one snapshot.
func (r *RiskHistoryRepository) Insert(ctx context.Context, snap *models.RiskSnapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}
	if snap.DatasetID == "" {
		return fmt.Errorf("dataset_id is required")
	}

	breakdown, err := json.Marshal(snap.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	query := `
		INSERT INTO dataset_risk_history (` + riskSnapshotColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		snap.ID,
		snap.DatasetID,
		snap.RiskScore,
		snap.RiskLevel,
		breakdown,
		snap.SmoothedScore,
		snap.Alpha,
		snap.DeltaScore,
		snap.AccelScore,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk snapshot: %w", err)
	}

	return nil
}

// Latest returns the most recent snapshot for a dataset, or nil when the
// dataset has no history yet.
func (r *RiskHistoryRepository) Latest(ctx context.Context, datasetID string) (*models.RiskSnapshot, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT ` + riskSnapshotColumns + `
		FROM dataset_risk_history
		WHERE dataset_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	snap, err := r.scanSnapshot(r.db.QueryRowContext(ctx, query, datasetID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return snap, nil
}

// Recent returns up to limit snapshots for a dataset, newest first.
func (r *RiskHistoryRepository) Recent(ctx context.Context, datasetID string, limit int) ([]models.RiskSnapshot, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + riskSnapshotColumns + `
		FROM dataset_risk_history
		WHERE dataset_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, datasetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []models.RiskSnapshot{}
	for rows.Next() {
		snap, err := r.scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snaps, nil
}

// LatestCreatedAt returns the timestamp of the most recent snapshot, or nil
// when no snapshot exists. The scheduler compares it against the latest
// signal timestamp to skip unchanged datasets.
func (r *RiskHistoryRepository) LatestCreatedAt(ctx context.Context, datasetID string) (*time.Time, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT created_at
		FROM dataset_risk_history
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
		return nil, fmt.Errorf("failed to get latest snapshot timestamp: %w", err)
	}

	return &ts, nil
}

// LatestPerOwner returns the latest snapshot of every dataset owned by the
// given owner. Used by the portfolio overview.
func (r *RiskHistoryRepository) LatestPerOwner(ctx context.Context, ownerID string) ([]models.RiskSnapshot, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	query := `
		SELECT ` + snapshotColumnsAliased("h") + `
		FROM dataset_risk_history h
		JOIN (
			SELECT rh.dataset_id, MAX(rh.created_at) AS max_ts
			FROM dataset_risk_history rh
			JOIN datasets d ON d.id = rh.dataset_id
			WHERE d.owner_id = $1
			GROUP BY rh.dataset_id
		) latest ON latest.dataset_id = h.dataset_id AND latest.max_ts = h.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots per owner: %w", err)
	}
	defer rows.Close()

	snaps := []models.RiskSnapshot{}
	for rows.Next() {
		snap, err := r.scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snaps, nil
}

func snapshotColumnsAliased(alias string) string {
	return fmt.Sprintf(`
		%[1]s.id,
		%[1]s.dataset_id,
		%[1]s.risk_score,
		%[1]s.risk_level,
		%[1]s.breakdown,
		%[1]s.smoothed_score,
		%[1]s.alpha,
		%[1]s.delta_score,
		%[1]s.accel_score,
		%[1]s.created_at
	`, alias)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *RiskHistoryRepository) scanSnapshot(row rowScanner) (*models.RiskSnapshot, error) {
	var snap models.RiskSnapshot
	var breakdown []byte
	var delta, accel sql.NullFloat64

	if err := row.Scan(
		&snap.ID,
		&snap.DatasetID,
		&snap.RiskScore,
		&snap.RiskLevel,
		&breakdown,
		&snap.SmoothedScore,
		&snap.Alpha,
		&delta,
		&accel,
		&snap.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &snap.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
	}
	snap.DeltaScore = nullFloat(delta)
	snap.AccelScore = nullFloat(accel)

	return &snap, nil
}
