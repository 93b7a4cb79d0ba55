package reconcile

import (
	"errors"
	"fmt"

	"github.com/weft-dev/weft/pkg/doctree"
)

// Sentinel errors for transaction and engine failure conditions.
var (
	// ErrTransactionFailed is returned when a transaction failed and
	// the recovery retry failed as well.
	ErrTransactionFailed = errors.New("reconcile: transaction failed")

	// ErrTransformRunaway is returned when node transforms keep
	// re-dirtying the tree past the configured pass limit.
	ErrTransformRunaway = errors.New("reconcile: transform passes exceeded limit")

	// ErrEngineClosed is returned when an update is attempted on a
	// closed engine.
	ErrEngineClosed = errors.New("reconcile: engine closed")

	// ErrNoSuchNode is returned by mutation calls referencing a key
	// absent from the pending tree.
	ErrNoSuchNode = errors.New("reconcile: no such node")

	// ErrNotContainer is returned when children are mutated on a node
	// that cannot own them.
	ErrNotContainer = errors.New("reconcile: node is not a container")
)

// InvariantError is a hard invariant violation: the geometry the
// reconciler depends on disagrees with reality. It aborts the current
// transaction and triggers a state reset.
type InvariantError struct {
	Key    doctree.NodeKey // Node involved, if any
	Detail string
}

// Error implements error.
func (e *InvariantError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("reconcile: invariant violation: %s", e.Detail)
	}
	return fmt.Sprintf("reconcile: invariant violation at %q: %s", e.Key, e.Detail)
}

func invariantf(key doctree.NodeKey, format string, args ...any) error {
	return &InvariantError{Key: key, Detail: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err is (or wraps) an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
