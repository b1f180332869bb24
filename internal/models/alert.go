package models

import (
	"encoding/json"
	"time"
)

// RuleType enumerates the supported alert rule kinds. The set is closed:
// anything else is reported as unsupported by the rule engine.
type RuleType string

const (
	RuleThreshold      RuleType = "THRESHOLD"
	RuleNullRatio      RuleType = "NULL_RATIO"
	RuleOutlierRatio   RuleType = "OUTLIER_RATIO"
	RuleInsightPresent RuleType = "INSIGHT_PRESENT"
)

// AlertRule is a user-defined rule. Immutable after creation except for
// enable/disable, which is handled outside this core.
type AlertRule struct {
	ID        string
	DatasetID string
	Name      string
	RuleType  RuleType
	Config    json.RawMessage
	IsEnabled bool
	CreatedAt time.Time
}

// AlertEvent is an append-only alert record. RuleID is nil for
// system-generated alerts such as risk spikes.
type AlertEvent struct {
	ID        string
	DatasetID string
	RuleID    *string
	Severity  string
	Title     string
	Message   string
	Payload   json.RawMessage
	CreatedAt time.Time
}
