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

// DatasetRepository reads dataset metadata, column profiles, statistics and
// preview samples. All of these tables are owned by the ingestion side; this
// service never writes them.
type DatasetRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDatasetRepository creates the repository.
func NewDatasetRepository(db *sql.DB, logger *zap.Logger) *DatasetRepository {
	return &DatasetRepository{
		db:     db,
		logger: logger,
	}
}

// GetDataset returns the dataset or models.ErrDatasetNotFound.
func (r *DatasetRepository) GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT
			id,
			owner_id,
			name,
			row_count,
			column_count,
			created_at
		FROM datasets
		WHERE id = $1
	`

	var ds models.Dataset
	err := r.db.QueryRowContext(ctx, query, datasetID).Scan(
		&ds.ID,
		&ds.OwnerID,
		&ds.Name,
		&ds.RowCount,
		&ds.ColumnCount,
		&ds.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: dataset_id=%s", models.ErrDatasetNotFound, datasetID)
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return &ds, nil
}

// ListColumns returns the column metadata for a dataset.
func (r *DatasetRepository) ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT
			id,
			dataset_id,
			name,
			dtype,
			null_count,
			distinct_count,
			created_at
		FROM dataset_columns
		WHERE dataset_id = $1
		ORDER BY created_at ASC, name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	columns := []models.DatasetColumn{}
	for rows.Next() {
		var col models.DatasetColumn
		if err := rows.Scan(
			&col.ID,
			&col.DatasetID,
			&col.Name,
			&col.Dtype,
			&col.NullCount,
			&col.DistinctCount,
			&col.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}

	return columns, nil
}

// ListColumnStats returns the per-column numeric statistics keyed by column id.
// Columns without statistics are simply absent from the map.
func (r *DatasetRepository) ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT
			cs.column_id,
			cs.mean,
			cs.std,
			cs.min,
			cs.max,
			cs.outlier_count,
			cs.outlier_ratio,
			cs.skewness,
			cs.kurtosis
		FROM column_statistics cs
		JOIN dataset_columns dc ON dc.id = cs.column_id
		WHERE dc.dataset_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query column statistics: %w", err)
	}
	defer rows.Close()

	stats := map[string]models.ColumnStat{}
	for rows.Next() {
		var st models.ColumnStat
		var mean, std, min, max, outlierRatio, skewness, kurtosis sql.NullFloat64
		var outlierCount sql.NullInt64

		if err := rows.Scan(
			&st.ColumnID,
			&mean,
			&std,
			&min,
			&max,
			&outlierCount,
			&outlierRatio,
			&skewness,
			&kurtosis,
		); err != nil {
			return nil, fmt.Errorf("failed to scan column statistics: %w", err)
		}

		st.Mean = nullFloat(mean)
		st.Std = nullFloat(std)
		st.Min = nullFloat(min)
		st.Max = nullFloat(max)
		st.OutlierRatio = nullFloat(outlierRatio)
		st.Skewness = nullFloat(skewness)
		st.Kurtosis = nullFloat(kurtosis)
		if outlierCount.Valid {
			n := int(outlierCount.Int64)
			st.OutlierCount = &n
		}

		stats[st.ColumnID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column statistics: %w", err)
	}

	return stats, nil
}

// GetPreviewRows returns the bounded preview sample, or nil when the dataset
// has no stored preview.
func (r *DatasetRepository) GetPreviewRows(ctx context.Context, datasetID string) ([]models.PreviewRow, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT rows
		FROM dataset_previews
		WHERE dataset_id = $1
	`

	var raw []byte
	err := r.db.QueryRowContext(ctx, query, datasetID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preview: %w", err)
	}

	var previewRows []models.PreviewRow
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &previewRows); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preview rows: %w", err)
		}
	}

	return previewRows, nil
}

// ListActiveDatasets returns all datasets with at least one row. The
// scheduler iterates exactly this set on each tick.
func (r *DatasetRepository) ListActiveDatasets(ctx context.Context) ([]models.Dataset, error) {
	query := `
		SELECT
			id,
			owner_id,
			name,
			row_count,
			column_count,
			created_at
		FROM datasets
		WHERE row_count > 0
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	datasets := []models.Dataset{}
	for rows.Next() {
		var ds models.Dataset
		if err := rows.Scan(
			&ds.ID,
			&ds.OwnerID,
			&ds.Name,
			&ds.RowCount,
			&ds.ColumnCount,
			&ds.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate datasets: %w", err)
	}

	return datasets, nil
}

// LatestIngestionRunAt returns the timestamp of the most recent ingestion run
// for a dataset, or nil when none exist.
func (r *DatasetRepository) LatestIngestionRunAt(ctx context.Context, datasetID string) (*time.Time, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT created_at
		FROM ingestion_runs
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
		return nil, fmt.Errorf("failed to get latest ingestion run: %w", err)
	}

	return &ts, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
