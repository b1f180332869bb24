package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/models"
)

const spikeAlertTitle = "Risk spike detected"

// TrackerConfig controls smoothing and spike detection.
type TrackerConfig struct {
	Alpha          float64
	SpikeWarnDelta int
	SpikeCritDelta int
	SpikeCooldown  time.Duration
}

// History is the snapshot persistence surface.
type History interface {
	Latest(ctx context.Context, datasetID string) (*models.RiskSnapshot, error)
	Insert(ctx context.Context, snapshot *models.RiskSnapshot) error
}

// AlertSink records spike alerts and answers cooldown queries.
type AlertSink interface {
	Create(ctx context.Context, event *models.AlertEvent) error
	ExistsTitleSince(ctx context.Context, datasetID, title string, since time.Time) (bool, error)
}

// CachePublisher pushes the latest snapshot to a shared cache. Publishing is
// best effort; failures never fail a track call.
type CachePublisher interface {
	PublishRisk(ctx context.Context, snapshot *models.RiskSnapshot) error
}

// TrackResult reports the outcome of one track call. When Skipped is true the
// score matched the previous snapshot and Snapshot is that previous row.
type TrackResult struct {
	Skipped    bool
	Snapshot   *models.RiskSnapshot
	Assessment *models.RiskAssessment
}

// Tracker appends risk snapshots with exponential smoothing and trend fields,
// suppressing consecutive identical scores and raising spike alerts.
type Tracker struct {
	engine  *Engine
	history History
	alerts  AlertSink
	cache   CachePublisher
	cfg     TrackerConfig
	clock   clock.Clock
	logger  *zap.Logger
}

// NewTracker creates the risk history tracker. cache may be nil.
func NewTracker(engine *Engine, history History, alerts AlertSink, cache CachePublisher, cfg TrackerConfig, clk clock.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{
		engine:  engine,
		history: history,
		alerts:  alerts,
		cache:   cache,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
	}
}

// Track computes a fresh risk assessment and appends a snapshot unless the
// (score, level) pair is unchanged from the previous one.
func (t *Tracker) Track(ctx context.Context, datasetID string) (*TrackResult, error) {
	assessment, err := t.engine.Compute(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	prev, err := t.history.Latest(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	if prev != nil && prev.RiskScore == assessment.RiskScore && prev.RiskLevel == assessment.RiskLevel {
		t.logger.Debug("Risk unchanged, snapshot skipped",
			zap.String("dataset_id", datasetID),
			zap.Int("risk_score", assessment.RiskScore),
		)
		return &TrackResult{Skipped: true, Snapshot: prev, Assessment: assessment}, nil
	}

	snapshot := &models.RiskSnapshot{
		ID:        uuid.New().String(),
		DatasetID: datasetID,
		RiskScore: assessment.RiskScore,
		RiskLevel: assessment.RiskLevel,
		Breakdown: assessment.Breakdown,
		Alpha:     t.cfg.Alpha,
		CreatedAt: t.clock.Now(),
	}

	if prev == nil {
		snapshot.SmoothedScore = assessment.RiskScore
	} else {
		smoothed := int(math.Round(t.cfg.Alpha*float64(assessment.RiskScore) + (1-t.cfg.Alpha)*float64(prev.SmoothedScore)))
		snapshot.SmoothedScore = smoothed

		delta := float64(smoothed - prev.SmoothedScore)
		snapshot.DeltaScore = &delta
		if prev.DeltaScore != nil {
			accel := delta - *prev.DeltaScore
			snapshot.AccelScore = &accel
		}
	}

	if err := t.history.Insert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if prev != nil {
		if err := t.maybeSpikeAlert(ctx, datasetID, assessment.RiskScore, prev.RiskScore); err != nil {
			// Spike alerting is secondary to the snapshot itself.
			t.logger.Warn("Spike alert emission failed",
				zap.String("dataset_id", datasetID),
				zap.Error(err),
			)
		}
	}

	if t.cache != nil {
		if err := t.cache.PublishRisk(ctx, snapshot); err != nil {
			t.logger.Warn("Risk cache publish failed",
				zap.String("dataset_id", datasetID),
				zap.Error(err),
			)
		}
	}

	t.logger.Info("Risk snapshot recorded",
		zap.String("dataset_id", datasetID),
		zap.Int("risk_score", snapshot.RiskScore),
		zap.String("risk_level", snapshot.RiskLevel),
		zap.Int("smoothed_score", snapshot.SmoothedScore),
	)

	return &TrackResult{Snapshot: snapshot, Assessment: assessment}, nil
}

// maybeSpikeAlert emits a spike alert on a sharp raw-score jump, unless an
// identically titled alert fired within the cooldown window.
func (t *Tracker) maybeSpikeAlert(ctx context.Context, datasetID string, score, prevScore int) error {
	delta := score - prevScore
	if delta < t.cfg.SpikeWarnDelta {
		return nil
	}

	since := t.clock.Now().Add(-t.cfg.SpikeCooldown)
	exists, err := t.alerts.ExistsTitleSince(ctx, datasetID, spikeAlertTitle, since)
	if err != nil {
		return fmt.Errorf("failed to check spike cooldown: %w", err)
	}
	if exists {
		return nil
	}

	severity := models.SeverityWarning
	if delta >= t.cfg.SpikeCritDelta {
		severity = models.SeverityCritical
	}

	payload, err := json.Marshal(map[string]interface{}{
		"previous_score": prevScore,
		"current_score":  score,
		"delta":          delta,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal spike payload: %w", err)
	}

	event := &models.AlertEvent{
		ID:        uuid.New().String(),
		DatasetID: datasetID,
		RuleID:    nil,
		Severity:  severity,
		Title:     spikeAlertTitle,
		Message:   fmt.Sprintf("Risk score jumped from %d to %d (+%d).", prevScore, score, delta),
		Payload:   payload,
		CreatedAt: t.clock.Now(),
	}
	if err := t.alerts.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create spike alert: %w", err)
	}

	t.logger.Info("Risk spike alert created",
		zap.String("dataset_id", datasetID),
		zap.String("severity", severity),
		zap.Int("delta", delta),
	)
	return nil
}
