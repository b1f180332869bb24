// Package alerts evaluates user-configured alert rules against dataset
// signals and records deduplicated alert events.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/models"
)

// Supported comparison operators and evaluation scopes.
var supportedOps = map[string]struct{}{
	">": {}, ">=": {}, "<": {}, "<=": {}, "==": {}, "!=": {},
}

const (
	scopeLatest = "latest"
	scopeAny    = "any"
	scopeMean   = "mean"

	violationSampleLimit = 10
)

// Store is the persistence surface for rule evaluation.
type Store interface {
	GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error)
	ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error)
	ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error)
	GetPreviewRows(ctx context.Context, datasetID string) ([]models.PreviewRow, error)
	ListEnabledRules(ctx context.Context, datasetID string) ([]models.AlertRule, error)
	InsightCodeExists(ctx context.Context, datasetID, code string) (bool, error)
	CreateEvent(ctx context.Context, event *models.AlertEvent) error
	EventExistsForRuleSince(ctx context.Context, datasetID, ruleID string, since time.Time) (bool, error)
}

// EvalSummary reports the outcome of one evaluation pass.
type EvalSummary struct {
	CreatedEvents    int `json:"created_events"`
	EvaluatedRules   int `json:"evaluated_rules"`
	SkippedRules     int `json:"skipped_rules"`
	NoSignalRules    int `json:"no_signal_rules"`
	UnsupportedRules int `json:"unsupported_rules"`
}

// ruleContext carries the signals shared by all rule handlers for one pass.
type ruleContext struct {
	rowCount      int
	previewRows   []models.PreviewRow
	columnsByName map[string]models.DatasetColumn
	statsByColID  map[string]models.ColumnStat
}

// Engine evaluates the enabled rules of a dataset. Rule types form a closed
// enum dispatched in a switch; malformed rule configs evaluate to no-signal
// rather than errors so a single bad rule cannot wedge the pass.
type Engine struct {
	store    Store
	cooldown time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

// NewEngine creates the alert rule engine.
func NewEngine(store Store, cooldown time.Duration, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		cooldown: cooldown,
		clock:    clk,
		logger:   logger,
	}
}

// Evaluate runs every enabled rule for a dataset once, in creation order.
func (e *Engine) Evaluate(ctx context.Context, datasetID string) (*EvalSummary, error) {
	summary := &EvalSummary{}

	rules, err := e.store.ListEnabledRules(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		return summary, nil
	}

	dataset, err := e.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	previewRows, err := e.store.GetPreviewRows(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preview: %w", err)
	}
	columns, err := e.store.ListColumns(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	stats, err := e.store.ListColumnStats(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load column statistics: %w", err)
	}

	rowCount := dataset.RowCount
	if rowCount < 0 {
		rowCount = 0
	}
	rctx := &ruleContext{
		rowCount:      rowCount,
		previewRows:   previewRows,
		columnsByName: make(map[string]models.DatasetColumn, len(columns)),
		statsByColID:  stats,
	}
	for _, col := range columns {
		rctx.columnsByName[col.Name] = col
	}

	for i := range rules {
		rule := rules[i]

		switch rule.RuleType {
		case models.RuleThreshold, models.RuleNullRatio, models.RuleOutlierRatio, models.RuleInsightPresent:
		default:
			summary.UnsupportedRules++
			continue
		}

		inCooldown, err := e.inCooldown(ctx, rule.DatasetID, rule.ID)
		if err != nil {
			return nil, err
		}
		if inCooldown {
			summary.SkippedRules++
			continue
		}

		summary.EvaluatedRules++

		created, err := e.runRule(ctx, &rule, rctx)
		if err != nil {
			// A failing handler counts as no signal; the pass continues.
			summary.NoSignalRules++
			e.logger.Error("Alert rule handler failed",
				zap.String("rule_id", rule.ID),
				zap.String("rule_type", string(rule.RuleType)),
				zap.Error(err),
			)
			continue
		}
		summary.CreatedEvents += created
		if created == 0 {
			summary.NoSignalRules++
		}
	}

	return summary, nil
}

func (e *Engine) runRule(ctx context.Context, rule *models.AlertRule, rctx *ruleContext) (int, error) {
	switch rule.RuleType {
	case models.RuleThreshold:
		return e.evalThreshold(ctx, rule, rctx)
	case models.RuleNullRatio:
		return e.evalNullRatio(ctx, rule, rctx)
	case models.RuleOutlierRatio:
		return e.evalOutlierRatio(ctx, rule, rctx)
	case models.RuleInsightPresent:
		return e.evalInsightPresent(ctx, rule)
	default:
		return 0, nil
	}
}

func (e *Engine) inCooldown(ctx context.Context, datasetID, ruleID string) (bool, error) {
	since := e.clock.Now().Add(-e.cooldown)
	exists, err := e.store.EventExistsForRuleSince(ctx, datasetID, ruleID, since)
	if err != nil {
		return false, fmt.Errorf("failed to check rule cooldown: %w", err)
	}
	return exists, nil
}

// thresholdConfig is the shared shape of the comparison-based rule configs.
type thresholdConfig struct {
	Column    string      `json:"column"`
	Op        string      `json:"op"`
	Threshold interface{} `json:"threshold"`
	Scope     string      `json:"scope"`
}

// parseComparison validates the common column/op/threshold triple. Malformed
// values yield ok=false, never an error.
func parseComparison(raw json.RawMessage) (cfg thresholdConfig, threshold float64, ok bool) {
	if len(raw) == 0 {
		return cfg, 0, false
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, 0, false
	}
	cfg.Column = strings.TrimSpace(cfg.Column)
	cfg.Op = strings.TrimSpace(cfg.Op)
	if cfg.Column == "" {
		return cfg, 0, false
	}
	if _, valid := supportedOps[cfg.Op]; !valid {
		return cfg, 0, false
	}
	t, tok := toFloat(cfg.Threshold)
	if !tok {
		return cfg, 0, false
	}
	return cfg, t, true
}

func (e *Engine) evalThreshold(ctx context.Context, rule *models.AlertRule, rctx *ruleContext) (int, error) {
	cfg, threshold, ok := parseComparison(rule.Config)
	if !ok {
		return 0, nil
	}
	scope := strings.ToLower(strings.TrimSpace(cfg.Scope))
	if scope == "" {
		scope = scopeLatest
	}

	triggered := false
	evidence := map[string]interface{}{
		"scope": scope, "column": cfg.Column, "op": cfg.Op, "threshold": threshold,
	}

	switch scope {
	case scopeLatest:
		vals := collectPreviewValues(rctx.previewRows, cfg.Column)
		if len(vals) == 0 {
			return 0, nil
		}
		value := vals[len(vals)-1]
		triggered = compare(value, cfg.Op, threshold)
		evidence["value"] = value

	case scopeAny:
		vals := collectPreviewValues(rctx.previewRows, cfg.Column)
		if len(vals) == 0 {
			return 0, nil
		}
		var bad []float64
		for _, v := range vals {
			if compare(v, cfg.Op, threshold) {
				bad = append(bad, v)
			}
		}
		triggered = len(bad) > 0
		sample := bad
		if len(sample) > violationSampleLimit {
			sample = sample[:violationSampleLimit]
		}
		evidence["violations"] = sample
		evidence["violation_count"] = len(bad)
		evidence["checked_count"] = len(vals)

	case scopeMean:
		var mean *float64
		if col, found := rctx.columnsByName[cfg.Column]; found {
			if st, has := rctx.statsByColID[col.ID]; has && st.Mean != nil {
				mean = st.Mean
			}
		}
		if mean == nil {
			vals := collectPreviewValues(rctx.previewRows, cfg.Column)
			if len(vals) > 0 {
				var sum float64
				for _, v := range vals {
					sum += v
				}
				m := sum / float64(len(vals))
				mean = &m
			}
		}
		if mean == nil {
			return 0, nil
		}
		triggered = compare(*mean, cfg.Op, threshold)
		evidence["mean"] = *mean

	default:
		return 0, nil
	}

	if !triggered {
		return 0, nil
	}

	return 1, e.emit(ctx, rule,
		fmt.Sprintf("THRESHOLD rule triggered on '%s' (%s %g).", cfg.Column, cfg.Op, threshold),
		evidence)
}

func (e *Engine) evalNullRatio(ctx context.Context, rule *models.AlertRule, rctx *ruleContext) (int, error) {
	cfg, threshold, ok := parseComparison(rule.Config)
	if !ok {
		return 0, nil
	}

	col, found := rctx.columnsByName[cfg.Column]
	if !found || rctx.rowCount <= 0 {
		return 0, nil
	}

	nullRatio := float64(col.NullCount) / float64(rctx.rowCount)
	if !compare(nullRatio, cfg.Op, threshold) {
		return 0, nil
	}

	return 1, e.emit(ctx, rule,
		fmt.Sprintf("NULL_RATIO rule triggered on '%s' (%s %g).", cfg.Column, cfg.Op, threshold),
		map[string]interface{}{
			"column": cfg.Column, "null_ratio": nullRatio, "op": cfg.Op, "threshold": threshold,
		})
}

func (e *Engine) evalOutlierRatio(ctx context.Context, rule *models.AlertRule, rctx *ruleContext) (int, error) {
	cfg, threshold, ok := parseComparison(rule.Config)
	if !ok {
		return 0, nil
	}

	col, found := rctx.columnsByName[cfg.Column]
	if !found {
		return 0, nil
	}
	st, has := rctx.statsByColID[col.ID]
	if !has || st.OutlierRatio == nil {
		return 0, nil
	}

	if !compare(*st.OutlierRatio, cfg.Op, threshold) {
		return 0, nil
	}

	return 1, e.emit(ctx, rule,
		fmt.Sprintf("OUTLIER_RATIO rule triggered on '%s' (%s %g).", cfg.Column, cfg.Op, threshold),
		map[string]interface{}{
			"column": cfg.Column, "outlier_ratio": *st.OutlierRatio, "op": cfg.Op, "threshold": threshold,
		})
}

func (e *Engine) evalInsightPresent(ctx context.Context, rule *models.AlertRule) (int, error) {
	var cfg struct {
		Code string `json:"code"`
	}
	if len(rule.Config) == 0 {
		return 0, nil
	}
	if err := json.Unmarshal(rule.Config, &cfg); err != nil {
		return 0, nil
	}
	code := strings.TrimSpace(cfg.Code)
	if code == "" {
		return 0, nil
	}

	exists, err := e.store.InsightCodeExists(ctx, rule.DatasetID, code)
	if err != nil {
		return 0, fmt.Errorf("failed to check insight code: %w", err)
	}
	if !exists {
		return 0, nil
	}

	return 1, e.emit(ctx, rule,
		fmt.Sprintf("INSIGHT_PRESENT rule triggered (code='%s').", code),
		map[string]interface{}{"code": code})
}

// emit records one warning event for a triggered rule.
func (e *Engine) emit(ctx context.Context, rule *models.AlertRule, message string, evidence map[string]interface{}) error {
	payload, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	ruleID := rule.ID
	event := &models.AlertEvent{
		ID:        uuid.New().String(),
		DatasetID: rule.DatasetID,
		RuleID:    &ruleID,
		Severity:  models.SeverityWarning,
		Title:     fmt.Sprintf("Rule triggered: %s", rule.Name),
		Message:   message,
		Payload:   payload,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	e.logger.Info("Alert rule triggered",
		zap.String("dataset_id", rule.DatasetID),
		zap.String("rule_id", rule.ID),
		zap.String("rule_type", string(rule.RuleType)),
	)
	return nil
}

// compare applies one of the supported comparison operators.
func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}

// toFloat converts a decoded JSON value to a finite float64.
func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// collectPreviewValues extracts the numeric values of one column from the
// preview, in row order.
func collectPreviewValues(previewRows []models.PreviewRow, column string) []float64 {
	var vals []float64
	for _, row := range previewRows {
		raw, found := row[column]
		if !found {
			continue
		}
		if f, ok := previewFloat(raw); ok {
			vals = append(vals, f)
		}
	}
	return vals
}

// previewFloat converts a raw preview cell to a finite float64.
func previewFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
