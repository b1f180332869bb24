// Package service wires the engines together behind one facade so callers
// (scheduler, future API handlers) depend on a single entry point.
package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/alerts"
	"insight-sentinel/internal/anomaly"
	"insight-sentinel/internal/cache"
	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/config"
	"insight-sentinel/internal/insights"
	"insight-sentinel/internal/models"
	"insight-sentinel/internal/repository"
	"insight-sentinel/internal/risk"
)

// Core exposes the monitoring pipeline operations.
type Core struct {
	insightEngine *insights.Engine
	riskEngine    *risk.Engine
	tracker       *risk.Tracker
	portfolio     *risk.Portfolio
	detector      *anomaly.Detector
	alertEngine   *alerts.Engine
	suggester     *alerts.Suggester

	datasets *repository.DatasetRepository
	insights *repository.InsightRepository
	events   *repository.AlertEventRepository
	history  *repository.RiskHistoryRepository

	logger *zap.Logger
}

// New assembles the engines on top of the repositories. riskCache may be nil
// when Redis is not configured.
func New(db *sql.DB, cfg *config.Config, riskCache *cache.RiskCache, clk clock.Clock, logger *zap.Logger) *Core {
	datasets := repository.NewDatasetRepository(db, logger)
	insightRepo := repository.NewInsightRepository(db, logger)
	ruleRepo := repository.NewAlertRuleRepository(db, logger)
	eventRepo := repository.NewAlertEventRepository(db, logger)
	historyRepo := repository.NewRiskHistoryRepository(db, logger)
	anomalyRepo := repository.NewAnomalyEventRepository(db, logger)

	insightEngine := insights.NewEngine(&insightStore{datasets: datasets, insights: insightRepo}, clk, logger)
	riskEngine := risk.NewEngine(&riskStore{datasets: datasets, insights: insightRepo, events: eventRepo}, clk, logger)

	var publisher risk.CachePublisher
	if riskCache != nil {
		publisher = riskCache
	}
	tracker := risk.NewTracker(riskEngine, historyRepo, eventRepo, publisher, risk.TrackerConfig{
		Alpha:          cfg.Risk.Alpha,
		SpikeWarnDelta: cfg.Risk.SpikeWarnThreshold,
		SpikeCritDelta: cfg.Risk.SpikeCritThreshold,
		SpikeCooldown:  time.Duration(cfg.Risk.SpikeCooldownMinutes) * time.Minute,
	}, clk, logger)

	detector := anomaly.NewDetector(historyRepo, anomalyRepo, anomaly.Config{
		Window:     cfg.Anomaly.Window,
		ZThreshold: cfg.Anomaly.ZThreshold,
		Cooldown:   time.Duration(cfg.Anomaly.CooldownMinutes) * time.Minute,
	}, clk, logger)

	alertEngine := alerts.NewEngine(&alertStore{
		datasets: datasets,
		insights: insightRepo,
		rules:    ruleRepo,
		events:   eventRepo,
	}, time.Duration(cfg.Alerts.CooldownMinutes)*time.Minute, clk, logger)

	suggester := alerts.NewSuggester(&suggestStore{
		datasets: datasets,
		insights: insightRepo,
		rules:    ruleRepo,
	}, logger)

	return &Core{
		insightEngine: insightEngine,
		riskEngine:    riskEngine,
		tracker:       tracker,
		portfolio:     risk.NewPortfolio(historyRepo, logger),
		detector:      detector,
		alertEngine:   alertEngine,
		suggester:     suggester,
		datasets:      datasets,
		insights:      insightRepo,
		events:        eventRepo,
		history:       historyRepo,
		logger:        logger,
	}
}

// RefreshInsights recomputes and persists the insight set for a dataset.
func (c *Core) RefreshInsights(ctx context.Context, datasetID string) ([]models.Insight, error) {
	return c.insightEngine.Refresh(ctx, datasetID)
}

// ComputeRisk evaluates current risk without writing a snapshot.
func (c *Core) ComputeRisk(ctx context.Context, datasetID string) (*models.RiskAssessment, error) {
	return c.riskEngine.Compute(ctx, datasetID)
}

// TrackRisk appends a risk snapshot (or skips an unchanged one).
func (c *Core) TrackRisk(ctx context.Context, datasetID string) (*risk.TrackResult, error) {
	return c.tracker.Track(ctx, datasetID)
}

// DetectAnomaly runs the z-score test. window and zThreshold override the
// configured defaults when positive; metric must name a supported metric.
func (c *Core) DetectAnomaly(ctx context.Context, datasetID, metric string, window int, zThreshold float64) (int, error) {
	return c.detector.Detect(ctx, datasetID, metric, window, zThreshold)
}

// EvaluateRules runs every enabled alert rule for a dataset.
func (c *Core) EvaluateRules(ctx context.Context, datasetID string) (*alerts.EvalSummary, error) {
	return c.alertEngine.Evaluate(ctx, datasetID)
}

// SuggestRules proposes alert rules from the dataset's current signals.
func (c *Core) SuggestRules(ctx context.Context, datasetID string, limit int) ([]alerts.Suggestion, error) {
	return c.suggester.Suggest(ctx, datasetID, limit)
}

// PortfolioOverview ranks an owner's datasets by risk and trend.
func (c *Core) PortfolioOverview(ctx context.Context, ownerID string, limit int) (*risk.PortfolioOverview, error) {
	return c.portfolio.Overview(ctx, ownerID, limit)
}

// ListActiveDatasets returns datasets eligible for scheduled evaluation.
func (c *Core) ListActiveDatasets(ctx context.Context) ([]models.Dataset, error) {
	return c.datasets.ListActiveDatasets(ctx)
}

// LatestIngestionRunAt is part of the scheduler's signal surface.
func (c *Core) LatestIngestionRunAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return c.datasets.LatestIngestionRunAt(ctx, datasetID)
}

// LatestInsightAt is part of the scheduler's signal surface.
func (c *Core) LatestInsightAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return c.insights.LatestCreatedAt(ctx, datasetID)
}

// LatestAlertEventAt is part of the scheduler's signal surface.
func (c *Core) LatestAlertEventAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return c.events.LatestCreatedAt(ctx, datasetID)
}

// LatestSnapshotAt is part of the scheduler's signal surface.
func (c *Core) LatestSnapshotAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return c.history.LatestCreatedAt(ctx, datasetID)
}

// Pipeline adapts the facade to the scheduler's per-dataset surface, pinning
// the risk_score metric and the configured anomaly defaults. On-demand
// callers use Core.DetectAnomaly directly with their own overrides.
type Pipeline struct {
	core *Core
}

// Pipeline returns the scheduled per-dataset surface.
func (c *Core) Pipeline() *Pipeline {
	return &Pipeline{core: c}
}

func (p *Pipeline) EvaluateRules(ctx context.Context, datasetID string) (*alerts.EvalSummary, error) {
	return p.core.EvaluateRules(ctx, datasetID)
}

func (p *Pipeline) TrackRisk(ctx context.Context, datasetID string) (*risk.TrackResult, error) {
	return p.core.TrackRisk(ctx, datasetID)
}

func (p *Pipeline) DetectAnomaly(ctx context.Context, datasetID string) (int, error) {
	return p.core.DetectAnomaly(ctx, datasetID, models.MetricRiskScore, 0, 0)
}

// insightStore adapts the repositories to insights.Store.
type insightStore struct {
	datasets *repository.DatasetRepository
	insights *repository.InsightRepository
}

func (s *insightStore) GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error) {
	return s.datasets.GetDataset(ctx, datasetID)
}

func (s *insightStore) ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error) {
	return s.datasets.ListColumns(ctx, datasetID)
}

func (s *insightStore) ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error) {
	return s.datasets.ListColumnStats(ctx, datasetID)
}

func (s *insightStore) GetPreviewRows(ctx context.Context, datasetID string) ([]models.PreviewRow, error) {
	return s.datasets.GetPreviewRows(ctx, datasetID)
}

func (s *insightStore) ReplaceInsights(ctx context.Context, datasetID string, list []models.Insight) error {
	return s.insights.Replace(ctx, datasetID, list)
}

// riskStore adapts the repositories to risk.Store.
type riskStore struct {
	datasets *repository.DatasetRepository
	insights *repository.InsightRepository
	events   *repository.AlertEventRepository
}

func (s *riskStore) GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error) {
	return s.datasets.GetDataset(ctx, datasetID)
}

func (s *riskStore) ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error) {
	return s.datasets.ListColumns(ctx, datasetID)
}

func (s *riskStore) ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error) {
	return s.datasets.ListColumnStats(ctx, datasetID)
}

func (s *riskStore) ListInsights(ctx context.Context, datasetID string) ([]models.Insight, error) {
	return s.insights.List(ctx, datasetID)
}

func (s *riskStore) CountAlertEventsSince(ctx context.Context, datasetID string, since time.Time) (int, error) {
	return s.events.CountSince(ctx, datasetID, since)
}

// alertStore adapts the repositories to alerts.Store.
type alertStore struct {
	datasets *repository.DatasetRepository
	insights *repository.InsightRepository
	rules    *repository.AlertRuleRepository
	events   *repository.AlertEventRepository
}

func (s *alertStore) GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error) {
	return s.datasets.GetDataset(ctx, datasetID)
}

func (s *alertStore) ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error) {
	return s.datasets.ListColumns(ctx, datasetID)
}

func (s *alertStore) ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error) {
	return s.datasets.ListColumnStats(ctx, datasetID)
}

func (s *alertStore) GetPreviewRows(ctx context.Context, datasetID string) ([]models.PreviewRow, error) {
	return s.datasets.GetPreviewRows(ctx, datasetID)
}

func (s *alertStore) ListEnabledRules(ctx context.Context, datasetID string) ([]models.AlertRule, error) {
	return s.rules.ListEnabled(ctx, datasetID)
}

func (s *alertStore) InsightCodeExists(ctx context.Context, datasetID, code string) (bool, error) {
	return s.insights.CodeExists(ctx, datasetID, code)
}

func (s *alertStore) CreateEvent(ctx context.Context, event *models.AlertEvent) error {
	return s.events.Create(ctx, event)
}

func (s *alertStore) EventExistsForRuleSince(ctx context.Context, datasetID, ruleID string, since time.Time) (bool, error) {
	return s.events.ExistsForRuleSince(ctx, datasetID, ruleID, since)
}

// suggestStore adapts the repositories to alerts.SuggestStore.
type suggestStore struct {
	datasets *repository.DatasetRepository
	insights *repository.InsightRepository
	rules    *repository.AlertRuleRepository
}

func (s *suggestStore) GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error) {
	return s.datasets.GetDataset(ctx, datasetID)
}

func (s *suggestStore) ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error) {
	return s.datasets.ListColumns(ctx, datasetID)
}

func (s *suggestStore) ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error) {
	return s.datasets.ListColumnStats(ctx, datasetID)
}

func (s *suggestStore) ListInsights(ctx context.Context, datasetID string) ([]models.Insight, error) {
	return s.insights.List(ctx, datasetID)
}

func (s *suggestStore) ListRules(ctx context.Context, datasetID string) ([]models.AlertRule, error) {
	return s.rules.List(ctx, datasetID)
}
