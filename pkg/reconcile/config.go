package reconcile

import (
	"log/slog"
	"time"
)

// Config tunes the engine and the optimized path's circuit breaker.
// The zero value is usable; Normalize fills in defaults.
type Config struct {
	// MaxDeltaBatch is the largest dirty set the optimized path will
	// attempt. Default: 64.
	MaxDeltaBatch int

	// MaxStructuralDeltas is the largest number of structural
	// (insert/delete) deltas the optimized path will attempt.
	// Default: 16.
	MaxStructuralDeltas int

	// MaxConsecutiveFailures trips the breaker: after this many
	// abandoned optimized runs the full path is forced. Default: 3.
	MaxConsecutiveFailures int

	// SuccessWindow forces the full path when the optimized path has
	// not succeeded within this window. Default: 30s. Zero disables.
	SuccessWindow time.Duration

	// MemoryPressureBytes forces the full path when heap allocation
	// exceeds this threshold. Zero disables the check.
	MemoryPressureBytes uint64

	// MoveRatioThreshold decides children reorders: when the moved
	// children account for at most this fraction of the children
	// region's bytes, moved nodes are re-inserted individually;
	// otherwise the whole region is rebuilt. Default: 0.5.
	MoveRatioThreshold float64

	// MaxTransformPasses bounds the transform fixed-point loop; a
	// transaction still dirtying nodes past this many passes fails.
	// Default: 16.
	MaxTransformPasses int

	// StrictMode shadow-compares every optimized transaction against a
	// full rebuild. Expensive; meant for tests and debugging.
	StrictMode bool

	// ShadowSampleEvery shadow-compares one in every N optimized
	// transactions. Zero disables sampling (StrictMode still applies).
	ShadowSampleEvery int

	// Logger receives debug logs on fallback decisions and divergence.
	// Default: slog.Default().
	Logger *slog.Logger
}

// Normalize returns a copy with defaults applied.
func (c Config) Normalize() Config {
	if c.MaxDeltaBatch <= 0 {
		c.MaxDeltaBatch = 64
	}
	if c.MaxStructuralDeltas <= 0 {
		c.MaxStructuralDeltas = 16
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.SuccessWindow == 0 {
		c.SuccessWindow = 30 * time.Second
	}
	if c.MoveRatioThreshold <= 0 {
		c.MoveRatioThreshold = 0.5
	}
	if c.MaxTransformPasses <= 0 {
		c.MaxTransformPasses = 16
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
