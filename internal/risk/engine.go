package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/models"
)

// Sub-score caps. The total is additionally capped at 100.
const (
	maxInsightScore = 40
	maxStatScore    = 30
	maxAlertScore   = 20
	maxStructScore  = 10

	alertPressureWindow = 24 * time.Hour
	fragileRowCount     = 200
	topRiskLimit        = 10
)

// insightWeights maps insight codes to their score contribution. Unknown
// codes fall back to defaultInsightWeight.
var insightWeights = map[string]int{
	models.CodeHighNullRatio:          12,
	models.CodeOutliersDetected:       10,
	models.CodeDateParseFailure:       10,
	models.CodeNumericAsString:        10,
	models.CodeSkewedDistribution:     8,
	models.CodeMixedDateFormats:       8,
	models.CodeFutureDatesInPreview:   6,
	models.CodeHighCardinality:        6,
	models.CodeLikelyIdentifier:       4,
	models.CodeNumericRangeSuspicious: 4,
	models.CodeDuplicateRowsInPreview: 4,
	models.CodeConstantColumn:         3,
	models.CodeLowCardinality:         1,
}

const defaultInsightWeight = 2

// Store is the read surface the risk engine needs.
type Store interface {
	GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error)
	ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error)
	ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error)
	ListInsights(ctx context.Context, datasetID string) ([]models.Insight, error)
	CountAlertEventsSince(ctx context.Context, datasetID string, since time.Time) (int, error)
}

// Engine aggregates insights, column statistics, recent alert pressure and
// structural signals into a bounded 0..100 score.
type Engine struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewEngine creates the risk scoring engine.
func NewEngine(store Store, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// riskLevel maps a total score onto a severity label.
func riskLevel(score int) string {
	switch {
	case score >= 80:
		return models.RiskLevelCritical
	case score >= 50:
		return models.RiskLevelHigh
	case score >= 20:
		return models.RiskLevelModerate
	default:
		return models.RiskLevelLow
	}
}

// Compute evaluates the current risk of a dataset. It reads persisted state
// only and never writes; snapshotting is the tracker's job.
func (e *Engine) Compute(ctx context.Context, datasetID string) (*models.RiskAssessment, error) {
	dataset, err := e.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	insights, err := e.store.ListInsights(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}
	columns, err := e.store.ListColumns(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	stats, err := e.store.ListColumnStats(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load column statistics: %w", err)
	}

	cutoff := e.clock.Now().Add(-alertPressureWindow)
	recentAlerts, err := e.store.CountAlertEventsSince(ctx, datasetID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent alerts: %w", err)
	}

	rowCount := dataset.RowCount
	if rowCount < 0 {
		rowCount = 0
	}

	var factors []models.RiskFactor

	// 1) Insight score: each distinct code counts once.
	insightScore := 0
	seen := map[string]struct{}{}
	for _, ins := range insights {
		code := ins.Code
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}

		w, ok := insightWeights[code]
		if !ok {
			w = defaultInsightWeight
		}
		insightScore += w

		detail := map[string]interface{}{
			"severity": ins.Severity,
			"title":    ins.Title,
			"message":  ins.Message,
		}
		if ins.ColumnID != nil {
			detail["column_id"] = *ins.ColumnID
		}
		factors = append(factors, models.RiskFactor{
			Kind:   models.RiskKindInsight,
			Code:   code,
			Weight: w,
			Detail: detail,
		})
	}
	if insightScore > maxInsightScore {
		insightScore = maxInsightScore
	}

	// 2) Statistical score: per-column outlier and skewness bands.
	colNames := make(map[string]string, len(columns))
	colOrder := make([]string, 0, len(columns))
	for _, col := range columns {
		colNames[col.ID] = col.Name
		colOrder = append(colOrder, col.ID)
	}

	statScore := 0
	for _, colID := range colOrder {
		st, ok := stats[colID]
		if !ok {
			continue
		}
		name := colNames[colID]

		if st.OutlierRatio != nil {
			switch {
			case *st.OutlierRatio >= 0.20:
				statScore += 15
				factors = append(factors, models.RiskFactor{
					Kind:   models.RiskKindStat,
					Code:   "OUTLIER_RATIO_HIGH",
					Weight: 15,
					Detail: map[string]interface{}{"column": name, "outlier_ratio": *st.OutlierRatio},
				})
			case *st.OutlierRatio >= 0.05:
				statScore += 8
				factors = append(factors, models.RiskFactor{
					Kind:   models.RiskKindStat,
					Code:   "OUTLIER_RATIO_ELEVATED",
					Weight: 8,
					Detail: map[string]interface{}{"column": name, "outlier_ratio": *st.OutlierRatio},
				})
			}
		}

		if st.Skewness != nil {
			switch abs := math.Abs(*st.Skewness); {
			case abs >= 2.0:
				statScore += 10
				factors = append(factors, models.RiskFactor{
					Kind:   models.RiskKindStat,
					Code:   "SKEWNESS_HIGH",
					Weight: 10,
					Detail: map[string]interface{}{"column": name, "skewness": *st.Skewness},
				})
			case abs >= 1.0:
				statScore += 5
				factors = append(factors, models.RiskFactor{
					Kind:   models.RiskKindStat,
					Code:   "SKEWNESS_ELEVATED",
					Weight: 5,
					Detail: map[string]interface{}{"column": name, "skewness": *st.Skewness},
				})
			}
		}
	}
	if statScore > maxStatScore {
		statScore = maxStatScore
	}

	// 3) Alert pressure over the trailing 24h.
	var alertScore int
	switch {
	case recentAlerts <= 0:
		alertScore = 0
	case recentAlerts <= 2:
		alertScore = 5
	case recentAlerts <= 5:
		alertScore = 10
	default:
		alertScore = 20
	}
	if alertScore > 0 {
		factors = append(factors, models.RiskFactor{
			Kind:   models.RiskKindAlert,
			Code:   "RECENT_ALERT_PRESSURE",
			Weight: alertScore,
			Detail: map[string]interface{}{"alerts_last_24h": recentAlerts},
		})
	}

	// 4) Structural fragility.
	structScore := 0
	constantCols := 0
	hasHighCard := false
	for _, ins := range insights {
		switch ins.Code {
		case models.CodeConstantColumn:
			constantCols++
		case models.CodeHighCardinality:
			hasHighCard = true
		}
	}
	if constantCols >= 2 {
		structScore += 5
		factors = append(factors, models.RiskFactor{
			Kind:   models.RiskKindStruct,
			Code:   "MANY_CONSTANT_COLUMNS",
			Weight: 5,
			Detail: map[string]interface{}{"constant_columns": constantCols},
		})
	}
	if hasHighCard && rowCount > 0 && rowCount < fragileRowCount {
		structScore += 5
		factors = append(factors, models.RiskFactor{
			Kind:   models.RiskKindStruct,
			Code:   "HIGH_CARDINALITY_LOW_ROWS",
			Weight: 5,
			Detail: map[string]interface{}{"row_count": rowCount},
		})
	}
	if structScore > maxStructScore {
		structScore = maxStructScore
	}

	total := insightScore + statScore + alertScore + structScore
	if total > 100 {
		total = 100
	}

	// Heaviest first; stable so equal weights keep discovery order.
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Weight > factors[j].Weight
	})
	if len(factors) > topRiskLimit {
		factors = factors[:topRiskLimit]
	}

	assessment := &models.RiskAssessment{
		DatasetID: datasetID,
		RiskScore: total,
		RiskLevel: riskLevel(total),
		Breakdown: models.RiskBreakdown{
			InsightScore: insightScore,
			StatScore:    statScore,
			AlertScore:   alertScore,
			StructScore:  structScore,
		},
		TopRisks: factors,
	}

	e.logger.Debug("Risk computed",
		zap.String("dataset_id", datasetID),
		zap.Int("risk_score", total),
		zap.String("risk_level", assessment.RiskLevel),
	)

	return assessment, nil
}
