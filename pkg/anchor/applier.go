package anchor

import (
	"log/slog"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/reconcile"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Applier executes reconciliation instructions with the marker
// pre-check: before the buffer is mutated, every recorded marker is
// validated against the buffer text at its expected location. A
// mismatch means the markers can no longer be trusted, so the index is
// disabled for the session and the transaction (and every later one)
// is applied through the plain buffer path, with position resolution
// falling back to the cache-backed resolver. The mismatch itself is
// never an error.
//
// Select it together with the index:
//
//	eng := reconcile.New(buf,
//		reconcile.WithPositionResolver(ix),
//		reconcile.WithApplier(anchor.NewApplier(buf, styler, ix, log)),
//	)
type Applier struct {
	buf   textbuf.Buffer
	ix    *Index
	plain *reconcile.BufferApplier
	log   *slog.Logger
}

var _ reconcile.InstructionApplier = (*Applier)(nil)

// NewApplier returns an applier writing through buf, keeping ix in
// step with every applied delta.
func NewApplier(buf textbuf.Buffer, styler reconcile.Styler, ix *Index, log *slog.Logger) *Applier {
	if log == nil {
		log = slog.Default()
	}
	return &Applier{
		buf:   buf,
		ix:    ix,
		plain: reconcile.NewBufferApplier(buf, styler),
		log:   log,
	}
}

// Apply implements reconcile.InstructionApplier.
func (a *Applier) Apply(snap *doctree.Snapshot, instrs []reconcile.Instruction) ([]reconcile.AppliedDelta, error) {
	if a.ix.Enabled() && !a.ix.Verify(a.buf) {
		// Verify disabled the index; this transaction still applies,
		// just without marker tracking.
		a.log.Warn("anchor markers failed pre-apply validation, applying without the index")
	}
	applied, err := a.plain.Apply(snap, instrs)
	if err != nil {
		// The buffer may be partially mutated; the spans no longer
		// describe it.
		a.ix.Disable("instruction application aborted mid-transaction")
		return applied, err
	}
	a.ix.Track(applied)
	return applied, nil
}
