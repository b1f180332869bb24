// Package scheduler drives the monitoring pipeline on a fixed interval,
// guarded by a cluster-wide lock so at most one worker's tick runs at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/alerts"
	"insight-sentinel/internal/lock"
	"insight-sentinel/internal/models"
	"insight-sentinel/internal/risk"
)

// Config controls the tick cadence and per-dataset bounds.
type Config struct {
	Interval       time.Duration
	DatasetTimeout time.Duration
	LockKey        string
}

// SignalSource answers the freshness questions a tick needs.
type SignalSource interface {
	ListActiveDatasets(ctx context.Context) ([]models.Dataset, error)
	LatestIngestionRunAt(ctx context.Context, datasetID string) (*time.Time, error)
	LatestInsightAt(ctx context.Context, datasetID string) (*time.Time, error)
	LatestAlertEventAt(ctx context.Context, datasetID string) (*time.Time, error)
	LatestSnapshotAt(ctx context.Context, datasetID string) (*time.Time, error)
}

// Pipeline is the per-dataset work a tick performs.
type Pipeline interface {
	EvaluateRules(ctx context.Context, datasetID string) (*alerts.EvalSummary, error)
	TrackRisk(ctx context.Context, datasetID string) (*risk.TrackResult, error)
	DetectAnomaly(ctx context.Context, datasetID string) (int, error)
}

// TickStats summarizes one tick for logging and tests.
type TickStats struct {
	Acquired      bool
	TotalDatasets int
	Processed     int
	Skipped       int
	Failures      int
	AlertsCreated int
	RiskTracked   int
	Anomalies     int
}

// Scheduler runs the pipeline periodically. Non-reentrant per process; the
// cluster lock additionally serializes ticks across workers.
type Scheduler struct {
	pipeline Pipeline
	signals  SignalSource
	locker   lock.Locker
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates the scheduler.
func New(pipeline Pipeline, signals SignalSource, locker lock.Locker, cfg Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		signals:  signals,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start launches the periodic loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("Scheduler already started")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.String("lock_key", s.cfg.LockKey),
	)
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full pass. Exposed so operators can trigger a pass on demand.
func (s *Scheduler) Tick(ctx context.Context) TickStats {
	start := time.Now()
	stats := TickStats{}

	acquired, err := s.locker.TryAcquire(ctx, s.cfg.LockKey)
	if err != nil {
		s.logger.Error("Scheduler lock acquisition failed", zap.Error(err))
		return stats
	}
	if !acquired {
		s.logger.Info("Scheduler lock not acquired, skipping tick")
		return stats
	}
	stats.Acquired = true
	defer func() {
		if err := s.locker.Release(ctx, s.cfg.LockKey); err != nil {
			s.logger.Error("Scheduler lock release failed", zap.Error(err))
		}
	}()

	s.logger.Info("Scheduler tick started")

	datasets, err := s.signals.ListActiveDatasets(ctx)
	if err != nil {
		s.logger.Error("Failed to list datasets", zap.Error(err))
		return stats
	}
	stats.TotalDatasets = len(datasets)

	for _, ds := range datasets {
		if ctx.Err() != nil {
			break
		}
		if err := s.processDataset(ctx, ds.ID, &stats); err != nil {
			stats.Failures++
			s.logger.Error("Scheduler dataset failure",
				zap.String("dataset_id", ds.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Scheduler tick finished",
		zap.Int("datasets_total", stats.TotalDatasets),
		zap.Int("datasets_processed", stats.Processed),
		zap.Int("datasets_skipped_no_change", stats.Skipped),
		zap.Int("failures", stats.Failures),
		zap.Int("alerts_created_total", stats.AlertsCreated),
		zap.Int("risk_tracked_total", stats.RiskTracked),
		zap.Int("anomalies_total", stats.Anomalies),
		zap.Duration("duration", time.Since(start)),
	)
	return stats
}

// processDataset evaluates one dataset under a bounded timeout so a hung
// evaluation cannot hold the cluster lock past the tick.
func (s *Scheduler) processDataset(ctx context.Context, datasetID string, stats *TickStats) error {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DatasetTimeout)
	defer cancel()

	fresh, err := s.hasNewSignal(dctx, datasetID)
	if err != nil {
		return err
	}
	if !fresh {
		stats.Skipped++
		s.logger.Debug("Skipping dataset, no new signal", zap.String("dataset_id", datasetID))
		return nil
	}

	stats.Processed++

	summary, err := s.pipeline.EvaluateRules(dctx, datasetID)
	if err != nil {
		return err
	}
	stats.AlertsCreated += summary.CreatedEvents

	result, err := s.pipeline.TrackRisk(dctx, datasetID)
	if err != nil {
		return err
	}
	if !result.Skipped {
		stats.RiskTracked++
	}

	// Anomaly detection is best effort: a detector error never marks the
	// dataset as failed.
	created, err := s.pipeline.DetectAnomaly(dctx, datasetID)
	if err != nil {
		s.logger.Warn("Anomaly detection failed",
			zap.String("dataset_id", datasetID),
			zap.Error(err),
		)
	} else {
		stats.Anomalies += created
	}
	return nil
}

// hasNewSignal reports whether any signal (ingestion run, insight refresh or
// alert event) is newer than the latest risk snapshot. A dataset with no
// snapshot yet always counts as fresh.
func (s *Scheduler) hasNewSignal(ctx context.Context, datasetID string) (bool, error) {
	latestSnapshot, err := s.signals.LatestSnapshotAt(ctx, datasetID)
	if err != nil {
		return false, err
	}
	if latestSnapshot == nil {
		return true, nil
	}

	signal, err := s.latestSignalAt(ctx, datasetID)
	if err != nil {
		return false, err
	}
	if signal == nil {
		return false, nil
	}
	return signal.After(*latestSnapshot), nil
}

func (s *Scheduler) latestSignalAt(ctx context.Context, datasetID string) (*time.Time, error) {
	var latest *time.Time
	for _, fetch := range []func(context.Context, string) (*time.Time, error){
		s.signals.LatestIngestionRunAt,
		s.signals.LatestInsightAt,
		s.signals.LatestAlertEventAt,
	} {
		t, err := fetch(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		if t != nil && (latest == nil || t.After(*latest)) {
			latest = t
		}
	}
	return latest, nil
}
