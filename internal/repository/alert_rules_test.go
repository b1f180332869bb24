package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

func newRuleRepo(t *testing.T) (*AlertRuleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAlertRuleRepository(db, zap.NewNop()), mock
}

func ruleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "dataset_id", "name", "rule_type", "config", "is_enabled", "created_at",
	})
}

func TestAlertRuleListEnabled(t *testing.T) {
	repo, mock := newRuleRepo(t)

	rows := ruleRows().
		AddRow("r1", "d1", "amount ceiling", "THRESHOLD",
			[]byte(`{"column":"amount","op":">","threshold":100}`), true, testNow).
		AddRow("r2", "d1", "null watch", "NULL_RATIO", nil, true, testNow)
	mock.ExpectQuery("SELECT(.|\n)*FROM alert_rules(.|\n)*is_enabled = TRUE").
		WithArgs("d1").
		WillReturnRows(rows)

	rules, err := repo.ListEnabled(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, models.RuleThreshold, rules[0].RuleType)
	assert.JSONEq(t, `{"column":"amount","op":">","threshold":100}`, string(rules[0].Config))

	// Missing config comes back as the empty JSON object.
	assert.Equal(t, json.RawMessage("{}"), rules[1].Config)
}

func TestAlertRuleListIncludesDisabled(t *testing.T) {
	repo, mock := newRuleRepo(t)

	rows := ruleRows().
		AddRow("r1", "d1", "old rule", "OUTLIER_RATIO", []byte(`{}`), false, testNow)
	mock.ExpectQuery("SELECT(.|\n)*FROM alert_rules").
		WithArgs("d1").
		WillReturnRows(rows)

	rules, err := repo.List(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].IsEnabled)
}

func TestAlertRuleListRequiresDataset(t *testing.T) {
	repo, _ := newRuleRepo(t)

	_, err := repo.ListEnabled(context.Background(), "")
	assert.EqualError(t, err, "dataset_id is required")

	_, err = repo.List(context.Background(), "")
	assert.EqualError(t, err, "dataset_id is required")
}
