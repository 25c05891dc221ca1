package domain

import "time"

// Severity classifies how unusual a flagged return is.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"  // |z| above the configured threshold
	SeverityCritical Severity = "CRITICAL" // |z| above 3.0
)

// AnomalyRecord is one statistically unusual instrument return.
// Corresponds to the anomaly_log table. Rows exist only for flagged moves;
// an empty table section for a cycle is the normal case.
type AnomalyRecord struct {
	ID           int64
	DetectedAt   time.Time
	Ticker       string
	AssetClass   string
	CurrentPrice float64
	PrevClose    float64
	MovePct      float64
	ZScore       float64
	Severity     Severity
}
