package models

import (
	"errors"
	"time"
)

// ErrDatasetNotFound is returned when an operation references a dataset
// that does not exist. Callers can test for it with errors.Is.
var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset is owned by the ingestion collaborator; this core only reads it.
type Dataset struct {
	ID          string
	OwnerID     string
	Name        string
	RowCount    int
	ColumnCount int
	CreatedAt   time.Time
}

// DatasetColumn is per-column metadata produced by the external profiler.
type DatasetColumn struct {
	ID            string
	DatasetID     string
	Name          string
	Dtype         string
	NullCount     int
	DistinctCount int
	CreatedAt     time.Time
}

// ColumnStat holds the numeric summary for one column. All measures are
// optional: the profiler leaves them NULL when there is not enough data.
type ColumnStat struct {
	ColumnID     string
	Mean         *float64
	Std          *float64
	Min          *float64
	Max          *float64
	OutlierCount *int
	OutlierRatio *float64
	Skewness     *float64
	Kurtosis     *float64
}

// PreviewRow is one sampled raw row, flat column name -> JSON-safe value.
type PreviewRow map[string]interface{}
