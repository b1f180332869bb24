package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

// AlertRuleRepository reads user-defined alert rules. Rule creation and
// enable/disable live on the request-handling side; this core only evaluates.
type AlertRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRuleRepository creates the repository.
func NewAlertRuleRepository(db *sql.DB, logger *zap.Logger) *AlertRuleRepository {
	return &AlertRuleRepository{
		db:     db,
		logger: logger,
	}
}

// ListEnabled returns the enabled rules for a dataset, oldest first, which is
// the evaluation order.
func (r *AlertRuleRepository) ListEnabled(ctx context.Context, datasetID string) ([]models.AlertRule, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT
			id,
			dataset_id,
			name,
			rule_type,
			config,
			is_enabled,
			created_at
		FROM alert_rules
		WHERE dataset_id = $1
		  AND is_enabled = TRUE
		ORDER BY created_at ASC
	`

	return r.queryRules(ctx, query, datasetID)
}

// List returns all rules for a dataset regardless of enablement. Used by the
// suggestion engine for deduplication.
func (r *AlertRuleRepository) List(ctx context.Context, datasetID string) ([]models.AlertRule, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset_id is required")
	}

	query := `
		SELECT
			id,
			dataset_id,
			name,
			rule_type,
			config,
			is_enabled,
			created_at
		FROM alert_rules
		WHERE dataset_id = $1
		ORDER BY created_at ASC
	`

	return r.queryRules(ctx, query, datasetID)
}

func (r *AlertRuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	rules := []models.AlertRule{}
	for rows.Next() {
		var rule models.AlertRule
		var ruleType string
		var config []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.DatasetID,
			&rule.Name,
			&ruleType,
			&config,
			&rule.IsEnabled,
			&rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		rule.RuleType = models.RuleType(ruleType)
		if len(config) > 0 {
			rule.Config = config
		} else {
			rule.Config = json.RawMessage("{}")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rules: %w", err)
	}

	return rules, nil
}
