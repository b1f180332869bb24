package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

const (
	suggestDefaultLimit = 10
	suggestMaxLimit     = 50
)

// Suggestion is a proposed alert rule derived from current dataset signals.
// Accepting one is a separate, explicit write by the caller.
type Suggestion struct {
	RuleType    models.RuleType        `json:"rule_type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Config      map[string]interface{} `json:"config"`
	Severity    string                 `json:"severity"`
	Rationale   string                 `json:"rationale"`
}

// SuggestStore is the read surface for building suggestions.
type SuggestStore interface {
	GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error)
	ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error)
	ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error)
	ListInsights(ctx context.Context, datasetID string) ([]models.Insight, error)
	ListRules(ctx context.Context, datasetID string) ([]models.AlertRule, error)
}

// Suggester proposes high-signal rules that do not already exist for the
// dataset, deduplicated by (rule_type, canonical config).
type Suggester struct {
	store  SuggestStore
	logger *zap.Logger
}

// NewSuggester creates the alert suggestion engine.
func NewSuggester(store SuggestStore, logger *zap.Logger) *Suggester {
	return &Suggester{store: store, logger: logger}
}

// insightTargets are the insight codes worth a standing INSIGHT_PRESENT rule.
var insightTargets = []struct {
	code  string
	label string
}{
	{models.CodeSkewedDistribution, "Skew detected (modeling risk)"},
	{models.CodeDateParseFailure, "Date parse failures (time series broken)"},
	{models.CodeMixedDateFormats, "Mixed date formats (parsing ambiguity)"},
	{models.CodeFutureDatesInPreview, "Future dates detected (timestamp correctness)"},
	{models.CodeLikelyIdentifier, "Identifier-like column (aggregation risk)"},
	{models.CodeHighCardinality, "High cardinality (memory/joins risk)"},
}

// Suggest builds up to limit rule proposals. limit is clamped to [1, 50];
// zero or negative means the default of 10.
func (s *Suggester) Suggest(ctx context.Context, datasetID string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = suggestDefaultLimit
	}
	if limit > suggestMaxLimit {
		limit = suggestMaxLimit
	}

	dataset, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListRules(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[dedupeKey(r.RuleType, decodeConfig(r.Config))] = struct{}{}
	}

	columns, err := s.store.ListColumns(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	stats, err := s.store.ListColumnStats(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load column statistics: %w", err)
	}
	insights, err := s.store.ListInsights(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}

	insightByCode := make(map[string]models.Insight, len(insights))
	for _, ins := range insights {
		if _, has := insightByCode[ins.Code]; !has {
			insightByCode[ins.Code] = ins
		}
	}

	rowCount := dataset.RowCount
	if rowCount < 0 {
		rowCount = 0
	}

	var suggestions []Suggestion
	add := func(sg Suggestion) {
		key := dedupeKey(sg.RuleType, sg.Config)
		if _, dup := seen[key]; dup {
			return
		}
		if len(suggestions) >= limit {
			return
		}
		suggestions = append(suggestions, sg)
		seen[key] = struct{}{}
	}

	// Outlier-ratio proposals from persisted statistics, in column order.
	for _, col := range columns {
		st, has := stats[col.ID]
		if !has || st.OutlierRatio == nil || *st.OutlierRatio < 0.05 {
			continue
		}
		severity := models.SeverityWarning
		if *st.OutlierRatio >= 0.20 {
			severity = models.SeverityCritical
		}
		rationale := fmt.Sprintf("outlier_ratio=%.2f (>= 0.05).", *st.OutlierRatio)
		if _, present := insightByCode[models.CodeOutliersDetected]; present {
			rationale += " OUTLIERS_DETECTED insight present."
		}
		add(Suggestion{
			RuleType:    models.RuleOutlierRatio,
			Name:        fmt.Sprintf("Outlier ratio high: %s", col.Name),
			Description: "Alert when outlier ratio indicates unusual distribution tail risk.",
			Config:      map[string]interface{}{"column": col.Name, "op": ">=", "threshold": 0.05},
			Severity:    severity,
			Rationale:   rationale,
		})
	}

	// Null-ratio proposals from column metadata.
	if rowCount > 0 {
		for _, col := range columns {
			nullRatio := float64(col.NullCount) / float64(rowCount)
			if nullRatio < 0.20 {
				continue
			}
			severity := models.SeverityWarning
			if nullRatio >= 0.50 {
				severity = models.SeverityCritical
			}
			add(Suggestion{
				RuleType:    models.RuleNullRatio,
				Name:        fmt.Sprintf("Missing values rising: %s", col.Name),
				Description: "Alert when missing ratio suggests ingestion/data quality regression.",
				Config:      map[string]interface{}{"column": col.Name, "op": ">=", "threshold": 0.20},
				Severity:    severity,
				Rationale:   fmt.Sprintf("null_ratio=%.0f%% (>= 20%%).", nullRatio*100),
			})
		}
	}

	// Standing watches on high-signal insight codes.
	for _, target := range insightTargets {
		exemplar, present := insightByCode[target.code]
		if !present {
			continue
		}
		severity := models.SeverityWarning
		if exemplar.Severity == models.SeverityInfo {
			severity = models.SeverityInfo
		}
		add(Suggestion{
			RuleType:    models.RuleInsightPresent,
			Name:        fmt.Sprintf("Data quality watch: %s", target.label),
			Description: "Alert when this insight appears (helps catch regressions).",
			Config:      map[string]interface{}{"code": target.code},
			Severity:    severity,
			Rationale:   fmt.Sprintf("Insight '%s' exists for this dataset right now.", target.code),
		})
	}

	return suggestions, nil
}

// dedupeKey builds a stable identity for a rule from its type and a canonical
// JSON rendering of its config.
func dedupeKey(ruleType models.RuleType, config map[string]interface{}) string {
	return string(ruleType) + "|" + canonicalConfig(config)
}

// canonicalConfig serializes a config with sorted keys so semantically equal
// configs compare equal. encoding/json sorts map keys at every level.
func canonicalConfig(config map[string]interface{}) string {
	if len(config) == 0 {
		return "{}"
	}
	b, err := json.Marshal(config)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// decodeConfig parses a stored rule config, tolerating malformed JSON.
func decodeConfig(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil
	}
	return cfg
}
