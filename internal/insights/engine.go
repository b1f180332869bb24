package insights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/models"
)

// Thresholds for the insight rules. Each rule is independently gated so small
// samples do not produce noise.
const (
	nullRatioWarn     = 0.20
	nullRatioCritical = 0.50

	cardinalityMinRows      = 50
	cardinalityMinDistinct  = 50
	highCardinalityRatio    = 0.50
	likelyIdentifierRatio   = 0.95
	lowCardinalityMax       = 5
	numericAsStringMinVals  = 3
	numericAsStringRatio    = 0.80
	dateCheckMinVals        = 5
	dateParseOKRatio        = 0.80
	duplicateInfoRatio      = 0.05
	outlierRatioWarn        = 0.05
	outlierRatioCritical    = 0.20
	skewMinRows             = 50
	skewInfoThreshold       = 1.0
	skewWarnThreshold       = 2.0
)

// Store is the persistence surface the engine needs.
type Store interface {
	GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error)
	ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error)
	ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error)
	GetPreviewRows(ctx context.Context, datasetID string) ([]models.PreviewRow, error)
	ReplaceInsights(ctx context.Context, datasetID string, insights []models.Insight) error
}

// Engine derives qualitative findings from column metadata, statistics and
// preview rows. A refresh fully replaces the prior insight set.
type Engine struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewEngine creates the insight engine.
func NewEngine(store Store, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// Refresh recomputes and persists the full insight set for a dataset.
func (e *Engine) Refresh(ctx context.Context, datasetID string) ([]models.Insight, error) {
	dataset, err := e.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	columns, err := e.store.ListColumns(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	stats, err := e.store.ListColumnStats(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load column statistics: %w", err)
	}
	previewRows, err := e.store.GetPreviewRows(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preview: %w", err)
	}

	var insights []models.Insight
	add := func(columnID *string, severity, code, title, message string) {
		insights = append(insights, models.Insight{
			ID:        uuid.New().String(),
			DatasetID: datasetID,
			ColumnID:  columnID,
			Severity:  severity,
			Code:      code,
			Title:     title,
			Message:   message,
			CreatedAt: e.clock.Now(),
		})
	}

	e.checkDuplicateRows(previewRows, add)

	if len(previewRows) == 0 {
		add(nil, models.SeverityWarning, models.CodeEmptyPreview,
			"No preview available",
			"No preview rows were found for this dataset. Preview-based checks were skipped.")
	}

	rowCount := dataset.RowCount
	if rowCount < 0 {
		rowCount = 0
	}

	for i := range columns {
		col := columns[i]
		colID := col.ID

		// HIGH_NULL_RATIO
		if rowCount > 0 {
			nullRatio := float64(col.NullCount) / float64(rowCount)
			if nullRatio >= nullRatioWarn {
				severity := models.SeverityWarning
				if nullRatio >= nullRatioCritical {
					severity = models.SeverityCritical
				}
				add(&colID, severity, models.CodeHighNullRatio,
					"High missing values",
					fmt.Sprintf("Column '%s' has %d/%d nulls (%.0f%%). Consider imputation or dropping.",
						col.Name, col.NullCount, rowCount, nullRatio*100))
			}
		}

		// CONSTANT_COLUMN
		if rowCount > 0 && col.DistinctCount <= 1 {
			add(&colID, models.SeverityWarning, models.CodeConstantColumn,
				"Constant column",
				fmt.Sprintf("Column '%s' is constant (distinct=%d). Consider dropping.",
					col.Name, col.DistinctCount))
		}

		numericAsString := false

		// POTENTIAL_NUMERIC_AS_STRING: mostly-numeric values stored as text.
		if len(previewRows) > 0 && isCategoricalDtype(col.Dtype) && !isDateLikeName(col.Name) {
			nonNull := collectColumnValues(previewRows, col.Name)
			if len(nonNull) >= numericAsStringMinVals {
				parsed := 0
				for _, v := range nonNull {
					if _, ok := toFloatLike(v); ok {
						parsed++
					}
				}
				ratio := float64(parsed) / float64(len(nonNull))
				if ratio >= numericAsStringRatio {
					numericAsString = true
					add(&colID, models.SeverityWarning, models.CodeNumericAsString,
						"Numeric values stored as text",
						fmt.Sprintf("Column '%s' is stored as '%s' but %d/%d preview values (%.0f%%) parse as numbers. "+
							"Consider casting/cleaning (remove separators/currency) to enable numeric analytics.",
							col.Name, col.Dtype, parsed, len(nonNull), ratio*100))
				}
			}
		}

		// LOW_CARDINALITY. Skipped for numeric-as-string columns where the
		// signal would be misleading.
		if rowCount > 0 && !numericAsString &&
			isCategoricalDtype(col.Dtype) && !isDateLikeName(col.Name) &&
			col.DistinctCount > 1 && col.DistinctCount <= lowCardinalityMax {
			add(&colID, models.SeverityInfo, models.CodeLowCardinality,
				"Low cardinality",
				fmt.Sprintf("Column '%s' has low cardinality (%d distinct). Treat as categorical/encode.",
					col.Name, col.DistinctCount))
		}

		// HIGH_CARDINALITY / LIKELY_IDENTIFIER
		if rowCount > 0 && isCategoricalDtype(col.Dtype) && !isDateLikeName(col.Name) {
			dc := col.DistinctCount
			distinctRatio := float64(dc) / float64(rowCount)

			if rowCount >= cardinalityMinRows && dc >= cardinalityMinDistinct && distinctRatio >= highCardinalityRatio {
				add(&colID, models.SeverityWarning, models.CodeHighCardinality,
					"High cardinality categorical column",
					fmt.Sprintf("Column '%s' has high cardinality (%d distinct out of %d, %.0f%%). "+
						"This can break one-hot encoding and may indicate an identifier/free-text field. "+
						"Consider hashing, target encoding, grouping rare categories, or excluding from modeling.",
						col.Name, dc, rowCount, distinctRatio*100))
			}

			if rowCount >= cardinalityMinRows && dc >= cardinalityMinDistinct && distinctRatio >= likelyIdentifierRatio {
				add(&colID, models.SeverityWarning, models.CodeLikelyIdentifier,
					"Likely identifier column",
					fmt.Sprintf("Column '%s' looks like an identifier (%d/%d distinct, %.0f%%). "+
						"Identifiers should not be treated as features; use for joins only.",
						col.Name, dc, rowCount, distinctRatio*100))
			}
		}

		// Date/time quality checks (preview-based).
		if len(previewRows) > 0 && isDateLikeName(col.Name) {
			e.checkDateColumn(previewRows, col, &colID, add)
		}

		// Statistics-based checks.
		if st, ok := stats[col.ID]; ok {
			e.checkColumnStats(col, st, rowCount, &colID, add)
		}
	}

	if err := e.store.ReplaceInsights(ctx, datasetID, insights); err != nil {
		return nil, fmt.Errorf("failed to persist insights: %w", err)
	}

	e.logger.Info("Insights refreshed",
		zap.String("dataset_id", datasetID),
		zap.Int("insight_count", len(insights)),
	)

	return insights, nil
}

type addFunc func(columnID *string, severity, code, title, message string)

// checkDuplicateRows counts repeated canonical rows in the preview. When two
// or more columns are constant across the preview, duplication may be
// expected and the severity drops to info.
func (e *Engine) checkDuplicateRows(previewRows []models.PreviewRow, add addFunc) {
	n := len(previewRows)
	if n == 0 {
		return
	}

	seen := make(map[string]struct{}, n)
	dup := 0
	for _, row := range previewRows {
		key := canonicalRow(row)
		if _, ok := seen[key]; ok {
			dup++
		} else {
			seen[key] = struct{}{}
		}
	}
	if dup == 0 {
		return
	}

	dupRatio := float64(dup) / float64(n)

	constantCols := 0
	for name := range previewRows[0] {
		distinct := map[string]struct{}{}
		nonNull := 0
		for _, row := range previewRows {
			if v, ok := row[name]; ok && !isBlank(v) {
				distinct[stringify(v)] = struct{}{}
				nonNull++
			}
		}
		if nonNull > 0 && len(distinct) <= 1 {
			constantCols++
		}
	}

	severity := models.SeverityWarning
	extra := "Consider de-duplication rules or upstream export logic."
	if constantCols >= 2 {
		severity = models.SeverityInfo
		extra = fmt.Sprintf("Duplicates may be expected because %d column(s) appear constant in preview.", constantCols)
	} else if dupRatio < duplicateInfoRatio {
		severity = models.SeverityInfo
	}

	add(nil, severity, models.CodeDuplicateRowsInPreview,
		"Duplicate rows detected (preview)",
		fmt.Sprintf("Found %d duplicate row(s) in the first %d preview rows (%.0f%%). %s",
			dup, n, dupRatio*100, extra))
}

// checkDateColumn runs the multi-format parse over a date-named column.
func (e *Engine) checkDateColumn(previewRows []models.PreviewRow, col models.DatasetColumn, colID *string, add addFunc) {
	nonNull := collectColumnValues(previewRows, col.Name)
	if len(nonNull) < dateCheckMinVals {
		return
	}

	parsedCount := 0
	var hasFuture bool
	now := e.clock.Now()
	for _, v := range nonNull {
		if t, ok := tryParseDateTime(v); ok {
			parsedCount++
			if t.After(now) {
				hasFuture = true
			}
		}
	}
	ratio := float64(parsedCount) / float64(len(nonNull))

	if ratio < dateParseOKRatio {
		add(colID, models.SeverityWarning, models.CodeDateParseFailure,
			"Date/time parse failures",
			fmt.Sprintf("Column '%s' looks like a date/time field but only %d/%d preview values (%.0f%%) could be parsed. "+
				"Standardize formats (ISO 8601 recommended) and remove invalid values.",
				col.Name, parsedCount, len(nonNull), ratio*100))
	}

	// MIXED_DATE_FORMATS only fires when parsing is mostly fine, otherwise
	// DATE_PARSE_FAILURE already covers the column.
	families := map[string]int{}
	for _, v := range nonNull {
		fam := dateFamily(v)
		if fam != "" && fam != familyUnknown {
			families[fam]++
		}
	}
	strong := map[string]int{}
	for fam, count := range families {
		if count >= 2 {
			strong[fam] = count
		}
	}
	if len(strong) >= 2 && ratio >= dateParseOKRatio {
		names := make([]string, 0, len(strong))
		for fam := range strong {
			names = append(names, fam)
		}
		// Most frequent family first, name as tiebreak.
		sort.Slice(names, func(i, j int) bool {
			if strong[names[i]] != strong[names[j]] {
				return strong[names[i]] > strong[names[j]]
			}
			return names[i] < names[j]
		})
		parts := make([]string, len(names))
		for i, fam := range names {
			parts[i] = fmt.Sprintf("%s(%d)", fam, strong[fam])
		}
		add(colID, models.SeverityWarning, models.CodeMixedDateFormats,
			"Mixed date formats detected",
			fmt.Sprintf("Column '%s' contains mixed date/time formats in preview: %s. "+
				"Normalize to a single standard (ISO 8601) to avoid sorting/aggregation issues.",
				col.Name, strings.Join(parts, ", ")))
	}

	if hasFuture && ratio >= dateParseOKRatio {
		add(colID, models.SeverityInfo, models.CodeFutureDatesInPreview,
			"Future dates found (preview)",
			fmt.Sprintf("Column '%s' contains future date/time values in preview. "+
				"Confirm whether this is expected (e.g., scheduled events) or a parsing/timezone/data-entry issue.",
				col.Name))
	}
}

// checkColumnStats runs the outlier, skewness and range rules.
func (e *Engine) checkColumnStats(col models.DatasetColumn, st models.ColumnStat, rowCount int, colID *string, add addFunc) {
	// OUTLIERS_DETECTED
	if st.OutlierRatio != nil && *st.OutlierRatio >= outlierRatioWarn {
		severity := models.SeverityWarning
		if *st.OutlierRatio >= outlierRatioCritical {
			severity = models.SeverityCritical
		}
		oc := 0
		if st.OutlierCount != nil {
			oc = *st.OutlierCount
		}
		add(colID, severity, models.CodeOutliersDetected,
			"Outliers detected",
			fmt.Sprintf("Column '%s' has %d outliers (%.0f%%). Investigate distribution / data errors.",
				col.Name, oc, *st.OutlierRatio*100))
	}

	// SKEWED_DISTRIBUTION: gated on row count, small samples skew easily.
	if st.Skewness != nil && rowCount >= skewMinRows {
		absSkew := math.Abs(*st.Skewness)
		severity := ""
		switch {
		case absSkew >= skewWarnThreshold:
			severity = models.SeverityWarning
		case absSkew >= skewInfoThreshold:
			severity = models.SeverityInfo
		}
		if severity != "" {
			add(colID, severity, models.CodeSkewedDistribution,
				"Skewed distribution",
				fmt.Sprintf("Column '%s' is skewed (skewness=%.2f). "+
					"Consider log transform, winsorization, or robust statistics for alerts/modeling.",
					col.Name, *st.Skewness))
		}
	}

	// NUMERIC_RANGE_SUSPICIOUS
	if st.Min != nil && st.Max != nil {
		if *st.Min == *st.Max {
			add(colID, models.SeverityInfo, models.CodeNumericRangeSuspicious,
				"Zero numeric range",
				fmt.Sprintf("Column '%s' has min==max (%g). It may be constant or incorrectly parsed.",
					col.Name, *st.Min))
		} else if *st.Max <= 0 && *st.Min < 0 {
			add(colID, models.SeverityWarning, models.CodeNumericRangeSuspicious,
				"All values non-positive",
				fmt.Sprintf("Column '%s' appears fully non-positive (min=%g, max=%g). Validate domain assumptions.",
					col.Name, *st.Min, *st.Max))
		}
	}
}

// collectColumnValues returns the non-null, non-blank preview values of one
// column, in row order.
func collectColumnValues(previewRows []models.PreviewRow, column string) []interface{} {
	var vals []interface{}
	for _, row := range previewRows {
		if v, ok := row[column]; ok && !isBlank(v) {
			vals = append(vals, v)
		}
	}
	return vals
}
