package models

import "time"

// Insight severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Insight codes emitted by the insight engine.
const (
	CodeHighNullRatio           = "HIGH_NULL_RATIO"
	CodeConstantColumn          = "CONSTANT_COLUMN"
	CodeLowCardinality          = "LOW_CARDINALITY"
	CodeHighCardinality         = "HIGH_CARDINALITY"
	CodeLikelyIdentifier        = "LIKELY_IDENTIFIER"
	CodeNumericAsString         = "POTENTIAL_NUMERIC_AS_STRING"
	CodeDateParseFailure        = "DATE_PARSE_FAILURE"
	CodeMixedDateFormats        = "MIXED_DATE_FORMATS"
	CodeFutureDatesInPreview    = "FUTURE_DATES_IN_PREVIEW"
	CodeDuplicateRowsInPreview  = "DUPLICATE_ROWS_IN_PREVIEW"
	CodeOutliersDetected        = "OUTLIERS_DETECTED"
	CodeSkewedDistribution      = "SKEWED_DISTRIBUTION"
	CodeNumericRangeSuspicious  = "NUMERIC_RANGE_SUSPICIOUS"
	CodeEmptyPreview            = "EMPTY_PREVIEW"
)

// Insight is one qualitative data-quality finding about a dataset or column.
// The full set for a dataset is replaced atomically on each refresh.
type Insight struct {
	ID        string
	DatasetID string
	ColumnID  *string
	Severity  string
	Code      string
	Title     string
	Message   string
	CreatedAt time.Time
}
