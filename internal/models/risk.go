package models

import "time"

// Risk levels derived from the total score.
const (
	RiskLevelLow      = "low"
	RiskLevelModerate = "moderate"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// RiskBreakdown holds the four capped sub-scores of a risk evaluation.
type RiskBreakdown struct {
	InsightScore int `json:"insight_score"`
	StatScore    int `json:"stat_score"`
	AlertScore   int `json:"alert_score"`
	StructScore  int `json:"struct_score"`
}

// Risk factor kinds.
const (
	RiskKindInsight = "INSIGHT"
	RiskKindStat    = "STAT"
	RiskKindAlert   = "ALERT"
	RiskKindStruct  = "STRUCT"
)

// RiskFactor is one weighted contributor to a dataset's risk score.
type RiskFactor struct {
	Kind   string                 `json:"kind"`
	Code   string                 `json:"code"`
	Weight int                    `json:"weight"`
	Detail map[string]interface{} `json:"detail"`
}

// RiskAssessment is the result of a single risk evaluation. TopRisks holds
// at most the ten heaviest factors, heaviest first.
type RiskAssessment struct {
	DatasetID string        `json:"dataset_id"`
	RiskScore int           `json:"dataset_risk_score"`
	RiskLevel string        `json:"risk_level"`
	Breakdown RiskBreakdown `json:"breakdown"`
	TopRisks  []RiskFactor  `json:"top_risks"`
}

// RiskSnapshot is one row of the append-only risk time series. The smoothing
// and trend fields are only meaningful relative to the immediately preceding
// snapshot for the same dataset.
type RiskSnapshot struct {
	ID            string
	DatasetID     string
	RiskScore     int
	RiskLevel     string
	Breakdown     RiskBreakdown
	SmoothedScore int
	Alpha         float64
	DeltaScore    *float64
	AccelScore    *float64
	CreatedAt     time.Time
}
