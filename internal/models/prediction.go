package models

import (
	"time"
)

// SentinelProbability marks a prediction row that records a gated inference.
const SentinelProbability = -1.0

// Prediction represents one forecast row in the predictions measurement.
// TrainedOnLabel is nil until the row's label window has been resolved.
type Prediction struct {
	Timestamp          time.Time  `json:"timestamp"`
	ZoneID             string     `json:"zoneId"`
	Probability        float64    `json:"probability"`
	ProbabilityPercent float64    `json:"probability_percent"`
	ModelVersion       string     `json:"model_version"`
	FeaturesHash       string     `json:"features_hash,omitempty"`
	TrainedOnLabel     *bool      `json:"trained_on_label"`
	LabelFrostObserved *int       `json:"label_frost_observed"`
	LabelWindowStart   *time.Time `json:"label_window_start"`
	LabelWindowEnd     *time.Time `json:"label_window_end"`
	SkippedReason      *string    `json:"skipped_reason"`
	IngestID           string     `json:"ingest_id,omitempty"`
	TriggeredAt        time.Time  `json:"triggered_at"`
}

// Resolved reports whether the prediction already carries a label outcome.
func (p Prediction) Resolved() bool {
	return p.TrainedOnLabel != nil
}

// IsSentinel reports whether the row records a skipped inference.
func (p Prediction) IsSentinel() bool {
	return p.Probability == SentinelProbability
}

// Resolution is the terminal outcome written back onto a matured prediction
type Resolution struct {
	ZoneID             string
	Timestamp          time.Time
	TrainedOnLabel     bool
	LabelFrostObserved *int
	LabelWindowStart   time.Time
	LabelWindowEnd     time.Time
	SkippedReason      *string
}

// Apply copies the resolution fields onto p.
func (r Resolution) Apply(p *Prediction) {
	trained := r.TrainedOnLabel
	start, end := r.LabelWindowStart, r.LabelWindowEnd
	p.TrainedOnLabel = &trained
	p.LabelFrostObserved = r.LabelFrostObserved
	p.LabelWindowStart = &start
	p.LabelWindowEnd = &end
	p.SkippedReason = r.SkippedReason
}

// IngestEvent announces that new sensor data was ingested for a zone
type IngestEvent struct {
	ZoneID    string    `json:"zoneId"`
	IngestID  string    `json:"ingestId"`
	Timestamp time.Time `json:"timestamp"`
}

// RunSummary describes the outcome of one forecast invocation
type RunSummary struct {
	RunID              string    `json:"runId"`
	ZoneID             string    `json:"zoneId"`
	Anchor             time.Time `json:"timestamp"`
	Probability        float64   `json:"probability"`
	ProbabilityPercent float64   `json:"probability_percent"`
	BacklogTrained     int       `json:"backlog_trained"`
	BacklogSkipped     int       `json:"backlog_skipped"`
	Sentinel           bool      `json:"sentinel"`
	SkippedReason      string    `json:"skipped_reason,omitempty"`
	Duplicate          bool      `json:"duplicate"`
	StateSaved         bool      `json:"state_saved"`
}
