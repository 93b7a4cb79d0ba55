package reconcile

import (
	"runtime"
	"time"

	"github.com/weft-dev/weft/pkg/doctree"
)

// FallbackReason classifies why an optimized path was not taken (or
// was abandoned). Soft failures only: every reason resolves into the
// full reconciliation, never into a user-visible error.
type FallbackReason string

const (
	// FallbackNone means the optimized path handled the transaction.
	FallbackNone FallbackReason = ""

	// FallbackStructuralChange: the delta set mutates tree structure in
	// a shape no detector supports.
	FallbackStructuralChange FallbackReason = "structural-change"

	// FallbackDecoratorMutation: decorator nodes appear in the delta
	// set.
	FallbackDecoratorMutation FallbackReason = "decorator-mutation"

	// FallbackUnsupportedDelta: a dirty node's change is outside every
	// detector's shape.
	FallbackUnsupportedDelta FallbackReason = "unsupported-delta"

	// FallbackSanityCheckFailed: the shadow compare found the optimized
	// output diverging from a full rebuild.
	FallbackSanityCheckFailed FallbackReason = "sanity-check-failed"

	// FallbackBatchTooLarge: the delta batch exceeds the configured
	// limits (count, structural count, memory pressure, or breaker
	// state).
	FallbackBatchTooLarge FallbackReason = "batch-too-large"
)

// FallbackDetector is the circuit breaker deciding optimized-vs-full
// per transaction. It tracks consecutive optimized failures and the
// time of the last success; trips force the full path until the
// optimized path proves itself again.
type FallbackDetector struct {
	cfg Config

	consecutiveFailures int
	lastSuccess         time.Time
}

// NewFallbackDetector returns a detector for the given configuration.
func NewFallbackDetector(cfg Config) *FallbackDetector {
	return &FallbackDetector{cfg: cfg, lastSuccess: time.Now()}
}

// Evaluate decides whether the optimized path may run for this delta
// batch. A non-empty reason forces the full reconciliation.
func (f *FallbackDetector) Evaluate(dirty doctree.DirtyMap, pending *doctree.Snapshot, bufferLength int) FallbackReason {
	if bufferLength < 0 {
		return FallbackBatchTooLarge
	}
	if len(dirty) > f.cfg.MaxDeltaBatch {
		return FallbackBatchTooLarge
	}
	if dirty.StructuralCount() > f.cfg.MaxStructuralDeltas {
		return FallbackBatchTooLarge
	}
	if f.consecutiveFailures >= f.cfg.MaxConsecutiveFailures {
		return FallbackBatchTooLarge
	}
	if f.cfg.SuccessWindow > 0 && time.Since(f.lastSuccess) > f.cfg.SuccessWindow {
		return FallbackBatchTooLarge
	}
	if f.cfg.MemoryPressureBytes > 0 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		if stats.HeapAlloc > f.cfg.MemoryPressureBytes {
			return FallbackBatchTooLarge
		}
	}
	for key := range dirty {
		if node := pending.Get(key); node != nil && node.Kind == doctree.KindDecorator {
			return FallbackDecoratorMutation
		}
	}
	return FallbackNone
}

// RecordSuccess resets the breaker after a successful optimized run.
func (f *FallbackDetector) RecordSuccess() {
	f.consecutiveFailures = 0
	f.lastSuccess = time.Now()
}

// RecordFailure advances the breaker after an optimized run had to be
// abandoned.
func (f *FallbackDetector) RecordFailure() {
	f.consecutiveFailures++
}
