package reconcile

import "time"

// DeltaCounts summarizes the buffer work of one transaction.
type DeltaCounts struct {
	Inserts  int
	Deletes  int
	AttrSets int
	Dirty    int
}

// MetricsSink receives one record per transaction. Implementations
// live outside the core; NopSink is the default.
type MetricsSink interface {
	Record(pathLabel string, duration time.Duration, counts DeltaCounts, fallback FallbackReason)
}

// NopSink discards all records.
type NopSink struct{}

// Record implements MetricsSink.
func (NopSink) Record(string, time.Duration, DeltaCounts, FallbackReason) {}
