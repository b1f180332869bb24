package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insight-sentinel/internal/alerts"
	"insight-sentinel/internal/models"
	"insight-sentinel/internal/risk"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeLocker counts acquisitions and releases.
type fakeLocker struct {
	available bool
	acquires  int
	releases  int
}

func (f *fakeLocker) TryAcquire(ctx context.Context, key string) (bool, error) {
	f.acquires++
	return f.available, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string) error {
	f.releases++
	return nil
}

// datasetSignals holds per-dataset signal timestamps.
type datasetSignals struct {
	ingestion *time.Time
	insight   *time.Time
	alert     *time.Time
	snapshot  *time.Time
}

type fakeSignals struct {
	datasets []models.Dataset
	signals  map[string]datasetSignals
}

func (f *fakeSignals) ListActiveDatasets(ctx context.Context) ([]models.Dataset, error) {
	return f.datasets, nil
}

func (f *fakeSignals) LatestIngestionRunAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return f.signals[datasetID].ingestion, nil
}

func (f *fakeSignals) LatestInsightAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return f.signals[datasetID].insight, nil
}

func (f *fakeSignals) LatestAlertEventAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return f.signals[datasetID].alert, nil
}

func (f *fakeSignals) LatestSnapshotAt(ctx context.Context, datasetID string) (*time.Time, error) {
	return f.signals[datasetID].snapshot, nil
}

type fakePipeline struct {
	evaluated []string
	tracked   []string
	detected  []string
	failOn    string
	created   int
	skipTrack bool
	anomalies int
	detectErr error
}

func (f *fakePipeline) EvaluateRules(ctx context.Context, datasetID string) (*alerts.EvalSummary, error) {
	if datasetID == f.failOn {
		return nil, errors.New("boom")
	}
	f.evaluated = append(f.evaluated, datasetID)
	return &alerts.EvalSummary{CreatedEvents: f.created}, nil
}

func (f *fakePipeline) TrackRisk(ctx context.Context, datasetID string) (*risk.TrackResult, error) {
	f.tracked = append(f.tracked, datasetID)
	return &risk.TrackResult{Skipped: f.skipTrack, Snapshot: &models.RiskSnapshot{DatasetID: datasetID}}, nil
}

func (f *fakePipeline) DetectAnomaly(ctx context.Context, datasetID string) (int, error) {
	if f.detectErr != nil {
		return 0, f.detectErr
	}
	f.detected = append(f.detected, datasetID)
	return f.anomalies, nil
}

func newTestScheduler(pipeline *fakePipeline, signals *fakeSignals, locker *fakeLocker) *Scheduler {
	cfg := Config{
		Interval:       10 * time.Minute,
		DatasetTimeout: 30 * time.Second,
		LockKey:        "insight-sentinel:scheduler:v1",
	}
	return New(pipeline, signals, locker, cfg, zap.NewNop())
}

func tPtr(t time.Time) *time.Time { return &t }

func TestTickSkippedWhenLockHeldElsewhere(t *testing.T) {
	locker := &fakeLocker{available: false}
	pipeline := &fakePipeline{}
	signals := &fakeSignals{datasets: []models.Dataset{{ID: "d1", RowCount: 10}}}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())

	assert.False(t, stats.Acquired)
	assert.Empty(t, pipeline.evaluated)
	assert.Equal(t, 0, locker.releases)
}

func TestTickProcessesFreshDatasets(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{created: 2, anomalies: 1}
	signals := &fakeSignals{
		datasets: []models.Dataset{{ID: "d1", RowCount: 10}, {ID: "d2", RowCount: 20}},
		signals: map[string]datasetSignals{
			// d1 has never been snapshotted: always fresh.
			"d1": {},
			// d2 has a newer ingestion run than its snapshot.
			"d2": {
				snapshot:  tPtr(testNow.Add(-time.Hour)),
				ingestion: tPtr(testNow.Add(-time.Minute)),
			},
		},
	}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())

	assert.True(t, stats.Acquired)
	assert.Equal(t, 2, stats.TotalDatasets)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 4, stats.AlertsCreated)
	assert.Equal(t, 2, stats.RiskTracked)
	assert.Equal(t, 2, stats.Anomalies)
	assert.Equal(t, []string{"d1", "d2"}, pipeline.evaluated)
	assert.Equal(t, []string{"d1", "d2"}, pipeline.detected)
	assert.Equal(t, 1, locker.releases)
}

func TestTickAnomalyFailureIsBestEffort(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{detectErr: errors.New("history unavailable")}
	signals := &fakeSignals{
		datasets: []models.Dataset{{ID: "d1", RowCount: 10}},
		signals:  map[string]datasetSignals{"d1": {}},
	}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, 0, stats.Anomalies)
}

func TestTickSkipsDatasetWithoutNewSignal(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{}
	signals := &fakeSignals{
		datasets: []models.Dataset{{ID: "d1", RowCount: 10}},
		signals: map[string]datasetSignals{
			"d1": {
				snapshot:  tPtr(testNow),
				ingestion: tPtr(testNow.Add(-time.Hour)),
				insight:   tPtr(testNow.Add(-2 * time.Hour)),
			},
		},
	}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, pipeline.evaluated)
}

func TestTickSkipsWhenNoSignalsAtAll(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{}
	signals := &fakeSignals{
		datasets: []models.Dataset{{ID: "d1", RowCount: 10}},
		signals: map[string]datasetSignals{
			"d1": {snapshot: tPtr(testNow)},
		},
	}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())
	assert.Equal(t, 1, stats.Skipped)
}

func TestTickNewestSignalWins(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{}
	signals := &fakeSignals{
		datasets: []models.Dataset{{ID: "d1", RowCount: 10}},
		signals: map[string]datasetSignals{
			"d1": {
				snapshot:  tPtr(testNow.Add(-time.Minute)),
				ingestion: tPtr(testNow.Add(-time.Hour)),
				alert:     tPtr(testNow), // newest signal
			},
		},
	}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())
	assert.Equal(t, 1, stats.Processed)
}

func TestTickDatasetFailureDoesNotStopPass(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{failOn: "d1"}
	signals := &fakeSignals{
		datasets: []models.Dataset{{ID: "d1", RowCount: 10}, {ID: "d2", RowCount: 10}},
		signals:  map[string]datasetSignals{"d1": {}, "d2": {}},
	}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())

	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, []string{"d2"}, pipeline.evaluated)
	// The lock is released even when datasets fail.
	assert.Equal(t, 1, locker.releases)
}

func TestTickSkippedTrackNotCounted(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{skipTrack: true}
	signals := &fakeSignals{
		datasets: []models.Dataset{{ID: "d1", RowCount: 10}},
		signals:  map[string]datasetSignals{"d1": {}},
	}
	s := newTestScheduler(pipeline, signals, locker)

	stats := s.Tick(context.Background())

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.RiskTracked)
}

func TestStartStopLifecycle(t *testing.T) {
	locker := &fakeLocker{available: true}
	pipeline := &fakePipeline{}
	signals := &fakeSignals{}
	s := newTestScheduler(pipeline, signals, locker)

	s.Start()
	s.Start() // second call is a no-op
	s.Stop()
	s.Stop() // idempotent

	// No tick fired (interval is long); lifecycle alone must not process.
	require.Empty(t, pipeline.evaluated)
}
