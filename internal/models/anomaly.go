package models

import "time"

// Anomaly directions.
const (
	DirectionSpike = "spike"
	DirectionDrop  = "drop"
)

// MetricRiskScore is the only metric the anomaly detector evaluates today.
const MetricRiskScore = "risk_score"

// AnomalyEvent records one statistically unusual snapshot, append-only.
type AnomalyEvent struct {
	ID          string
	DatasetID   string
	Metric      string
	Value       float64
	RollingMean float64
	RollingStd  float64
	ZScore      float64
	Window      int
	Threshold   float64
	Direction   string
	CreatedAt   time.Time
}
