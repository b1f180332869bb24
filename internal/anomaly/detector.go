// Package anomaly flags statistically unusual risk snapshots with a rolling
// z-score test, independent of the threshold-based spike detector.
package anomaly

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/models"
)

const minWindow = 5

// Config carries the detection defaults.
type Config struct {
	Window     int
	ZThreshold float64
	Cooldown   time.Duration
}

// HistorySource exposes the risk time series newest first.
type HistorySource interface {
	Recent(ctx context.Context, datasetID string, limit int) ([]models.RiskSnapshot, error)
	LatestCreatedAt(ctx context.Context, datasetID string) (*time.Time, error)
}

// EventStore persists anomaly events and answers gating queries.
type EventStore interface {
	Insert(ctx context.Context, event *models.AnomalyEvent) error
	LatestCreatedAt(ctx context.Context, datasetID, metric string) (*time.Time, error)
	ExistsSince(ctx context.Context, datasetID, metric string, since time.Time) (bool, error)
}

// Detector evaluates the latest risk snapshot against a rolling baseline.
// Every guard failure is a silent no-op: callers only ever see 0 or 1 events
// emitted, and errors are reserved for storage failures.
type Detector struct {
	history HistorySource
	events  EventStore
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
}

// NewDetector creates the anomaly detector.
func NewDetector(history HistorySource, events EventStore, cfg Config, clk clock.Clock, logger *zap.Logger) *Detector {
	return &Detector{
		history: history,
		events:  events,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
	}
}

// Detect runs the z-score test for the latest snapshot of one dataset.
// window and zThreshold override the configured defaults when positive.
// Returns the number of anomaly events emitted (0 or 1).
func (d *Detector) Detect(ctx context.Context, datasetID, metric string, window int, zThreshold float64) (int, error) {
	if window <= 0 {
		window = d.cfg.Window
	}
	if zThreshold <= 0 {
		zThreshold = d.cfg.ZThreshold
	}
	if window < minWindow || math.IsNaN(zThreshold) || math.IsInf(zThreshold, 0) {
		return 0, nil
	}
	if metric != models.MetricRiskScore {
		// risk_score is the only supported metric for now.
		return 0, nil
	}

	ok, err := d.shouldEvaluate(ctx, datasetID, metric)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	// Need the baseline window plus the point under test.
	rows, err := d.history.Recent(ctx, datasetID, window+1)
	if err != nil {
		return 0, err
	}
	if len(rows) < window+1 {
		return 0, nil
	}

	// rows are newest first: rows[0] is the point under test.
	latest := rows[0]
	baseline := rows[1 : window+1]

	mean, std := populationStats(baseline)
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return 0, nil
	}

	value := float64(latest.RiskScore)
	z := (value - mean) / std
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, nil
	}
	if math.Abs(z) < zThreshold {
		return 0, nil
	}

	// Cooldown per dataset+metric to avoid spam.
	since := d.clock.Now().Add(-d.cfg.Cooldown)
	exists, err := d.events.ExistsSince(ctx, datasetID, metric, since)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	direction := models.DirectionSpike
	if z < 0 {
		direction = models.DirectionDrop
	}

	event := &models.AnomalyEvent{
		ID:          uuid.New().String(),
		DatasetID:   datasetID,
		Metric:      metric,
		Value:       value,
		RollingMean: mean,
		RollingStd:  std,
		ZScore:      z,
		Window:      window,
		Threshold:   zThreshold,
		Direction:   direction,
		CreatedAt:   d.clock.Now(),
	}
	if err := d.events.Insert(ctx, event); err != nil {
		return 0, err
	}

	d.logger.Info("Anomaly detected",
		zap.String("dataset_id", datasetID),
		zap.String("metric", metric),
		zap.Float64("z_score", z),
		zap.String("direction", direction),
	)
	return 1, nil
}

// shouldEvaluate gates on freshness: only evaluate when a risk snapshot
// exists that is strictly newer than the last anomaly event for this metric.
func (d *Detector) shouldEvaluate(ctx context.Context, datasetID, metric string) (bool, error) {
	latestRisk, err := d.history.LatestCreatedAt(ctx, datasetID)
	if err != nil {
		return false, err
	}
	if latestRisk == nil {
		return false, nil
	}

	latestAnomaly, err := d.events.LatestCreatedAt(ctx, datasetID, metric)
	if err != nil {
		return false, err
	}
	if latestAnomaly == nil {
		return true, nil
	}
	return latestRisk.After(*latestAnomaly), nil
}

// populationStats computes the population mean and standard deviation of the
// baseline scores.
func populationStats(rows []models.RiskSnapshot) (mean, std float64) {
	n := float64(len(rows))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range rows {
		sum += float64(r.RiskScore)
	}
	mean = sum / n

	var variance float64
	for _, r := range rows {
		diff := float64(r.RiskScore) - mean
		variance += diff * diff
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
