package domain

import "time"

// CheckType identifies one of the three reconciliation checks.
type CheckType string

const (
	CheckNavSum         CheckType = "nav_sum"
	CheckPositionCount  CheckType = "position_count"
	CheckPriceStaleness CheckType = "price_staleness"
)

// ReconStatus is the outcome of a reconciliation check.
type ReconStatus string

const (
	ReconPass  ReconStatus = "PASS"
	ReconBreak ReconStatus = "BREAK"
)

// ReconRecord is one reconciliation check result for one cycle.
// Corresponds to the recon_log table. Every cycle writes exactly one record
// per CheckType, pass or break.
type ReconRecord struct {
	ID            int64
	CheckedAt     time.Time
	CheckType     CheckType
	ExpectedValue *float64
	ActualValue   *float64
	DeltaPct      *float64
	Status        ReconStatus
	Detail        *string
}
