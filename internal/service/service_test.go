package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/config"
	"insight-sentinel/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCore(t *testing.T) (*Core, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Risk: config.RiskConfig{
			Alpha:                0.3,
			SpikeWarnThreshold:   10,
			SpikeCritThreshold:   20,
			SpikeCooldownMinutes: 60,
		},
		Anomaly: config.AnomalyConfig{
			Window:          10,
			ZThreshold:      3.0,
			CooldownMinutes: 10,
		},
		Alerts: config.AlertsConfig{CooldownMinutes: 10},
	}
	return New(db, cfg, nil, clock.Fixed{T: testNow}, zap.NewNop()), mock
}

// expectAnomalyGate satisfies the detector's freshness check: a snapshot
// exists and no anomaly event has been recorded yet.
func expectAnomalyGate(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT created_at(.|\n)*FROM dataset_risk_history").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(testNow))
	mock.ExpectQuery("SELECT created_at(.|\n)*FROM dataset_anomaly_events").
		WithArgs("d1", models.MetricRiskScore).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
}

func snapshotColumns() []string {
	return []string{
		"id", "dataset_id", "risk_score", "risk_level", "breakdown",
		"smoothed_score", "alpha", "delta_score", "accel_score", "created_at",
	}
}

func TestDetectAnomalyWindowOverride(t *testing.T) {
	core, mock := newTestCore(t)

	expectAnomalyGate(mock)
	// The caller's window of 7 must drive the history fetch (window+1 rows),
	// not the configured default of 10.
	mock.ExpectQuery("SELECT(.|\n)*FROM dataset_risk_history(.|\n)*LIMIT \\$2").
		WithArgs("d1", 8).
		WillReturnRows(sqlmock.NewRows(snapshotColumns()))

	created, err := core.DetectAnomaly(context.Background(), "d1", models.MetricRiskScore, 7, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectAnomalyUnsupportedMetricIsNoOp(t *testing.T) {
	core, mock := newTestCore(t)

	created, err := core.DetectAnomaly(context.Background(), "d1", "row_count", 7, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineDetectAnomalyUsesConfiguredDefaults(t *testing.T) {
	core, mock := newTestCore(t)

	expectAnomalyGate(mock)
	mock.ExpectQuery("SELECT(.|\n)*FROM dataset_risk_history(.|\n)*LIMIT \\$2").
		WithArgs("d1", 11).
		WillReturnRows(sqlmock.NewRows(snapshotColumns()))

	created, err := core.Pipeline().DetectAnomaly(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}
