package reconcile

import (
	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Point is one logical selection endpoint: a node key plus an offset
// into that node's own text.
type Point struct {
	Key    doctree.NodeKey
	Offset int
}

// Selection is the logical caret or range, expressed in tree terms so
// it survives buffer mutation.
type Selection struct {
	Anchor Point
	Focus  Point
}

// Caret returns a collapsed selection at one point.
func Caret(key doctree.NodeKey, offset int) *Selection {
	p := Point{Key: key, Offset: offset}
	return &Selection{Anchor: p, Focus: p}
}

// IsCaret reports whether the selection is collapsed.
func (s *Selection) IsCaret() bool {
	return s.Anchor == s.Focus
}

// NativeSelection is the platform caret the reconciler aligns after
// the buffer settles.
type NativeSelection interface {
	SetSelectedRange(r textbuf.Range)
	ResetCaret()
}

// NopNativeSelection ignores selection updates.
type NopNativeSelection struct{}

// SetSelectedRange implements NativeSelection.
func (NopNativeSelection) SetSelectedRange(textbuf.Range) {}

// ResetCaret implements NativeSelection.
func (NopNativeSelection) ResetCaret() {}

// SelectionReconciler maps the logical selection onto the buffer after
// mutation, resolving node positions through whichever PositionResolver
// strategy is active.
type SelectionReconciler struct {
	resolver PositionResolver
	native   NativeSelection
}

// NewSelectionReconciler returns a reconciler resolving through
// resolver and driving native.
func NewSelectionReconciler(resolver PositionResolver, native NativeSelection) *SelectionReconciler {
	return &SelectionReconciler{resolver: resolver, native: native}
}

// Reconcile aligns the native caret with the pending logical
// selection. A nil pending selection is a no-op when the previous
// selection was clean, otherwise it resets the caret.
func (r *SelectionReconciler) Reconcile(pending *Selection, previousDirty bool) error {
	if pending == nil {
		if previousDirty {
			r.native.ResetCaret()
		}
		return nil
	}
	anchor, err := r.resolvePoint(pending.Anchor)
	if err != nil {
		return err
	}
	focus, err := r.resolvePoint(pending.Focus)
	if err != nil {
		return err
	}
	lo, hi := anchor, focus
	if hi < lo {
		lo, hi = hi, lo
	}
	r.native.SetSelectedRange(textbuf.Range{Location: lo, Length: hi - lo})
	return nil
}

// resolvePoint translates a logical point into a buffer location,
// clamping the offset to the node's text.
func (r *SelectionReconciler) resolvePoint(p Point) (int, error) {
	text, ok := r.resolver.NodeTextRange(p.Key)
	if !ok {
		return 0, invariantf(p.Key, "selection endpoint on unresolvable node")
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > text.Length {
		offset = text.Length
	}
	return text.Location + offset, nil
}
