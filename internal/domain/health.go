package domain

import "time"

// CycleStatus is the terminal state of one pipeline cycle.
type CycleStatus string

const (
	CycleSuccess CycleStatus = "SUCCESS" // every instrument fetched
	CyclePartial CycleStatus = "PARTIAL" // some instruments failed, data committed for the rest
	CycleFailed  CycleStatus = "FAILED"  // write phase aborted, everything rolled back
)

// CycleHealthRecord is the pipeline's record of its own execution.
// Corresponds to the system_metrics table. Exactly one row is written per
// cycle attempt, on a connection independent of the cycle's transaction, so
// the row survives even when the cycle itself is rolled back.
type CycleHealthRecord struct {
	ID                 int64
	CycleAt            time.Time
	Status             CycleStatus
	ErrorDetail        *string
	IngestionLatencyMS *float64
	DBWriteLatencyMS   *float64
	TotalRowsProcessed *int
	TickersSucceeded   *int
	TickersFailed      *int
}
