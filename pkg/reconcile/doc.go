// Package reconcile keeps a document tree synchronized with a linear
// text buffer, incrementally.
//
// A transaction produces two tree snapshots (current and pending) plus
// a dirty-node set. The FastPathPlanner tries a chain of specialized
// detectors that recognize restricted edit shapes; when none matches,
// the full keyed TreeDiffReconciler runs. Either way the result is an
// ordered instruction list that the BufferApplier executes in one
// editing pass, after which the RangeCache (backed by a Fenwick offset
// index) is brought up to date, the logical selection is mapped back
// onto the buffer, and an optional validator shadow-compares the
// optimized output against a full rebuild.
//
// The Engine owns the transaction loop: nested updates flatten into
// the outermost transaction, registered node transforms run to a
// bounded fixed point, hard invariant violations trigger a state reset
// plus one recovery retry, and soft optimization failures silently
// fall back to the full path.
package reconcile
