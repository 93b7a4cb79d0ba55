package reconcile

import (
	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Tx is the explicit transaction handle threaded through every
// mutation. It accumulates a pending overlay over the committed
// snapshot plus the dirty-node map; the engine reconciles the two when
// the outermost update closure returns. Nested updates flatten into
// the same Tx.
type Tx struct {
	engine  *Engine
	overlay map[doctree.NodeKey]*doctree.Node // nil value = removed
	dirty   doctree.DirtyMap

	selection    *Selection
	selectionSet bool
	composition  *Composition

	// marks counts successful mutations; the transform loop uses it to
	// detect its fixed point.
	marks int
}

func newTx(e *Engine) *Tx {
	return &Tx{
		engine:  e,
		overlay: make(map[doctree.NodeKey]*doctree.Node),
		dirty:   make(doctree.DirtyMap),
	}
}

// Node returns the pending view of a node, or nil.
func (tx *Tx) Node(key doctree.NodeKey) *doctree.Node {
	if n, ok := tx.overlay[key]; ok {
		return n
	}
	return tx.engine.current.Get(key)
}

// Dirty returns the cause a node was marked dirty with, if any.
func (tx *Tx) Dirty(key doctree.NodeKey) (doctree.DirtyCause, bool) {
	cause, ok := tx.dirty[key]
	return cause, ok
}

// snapshot seals the pending tree.
func (tx *Tx) snapshot() *doctree.Snapshot {
	return tx.engine.current.With(tx.overlay)
}

// mark records a dirty node; creation dominates later causes.
func (tx *Tx) mark(key doctree.NodeKey, cause doctree.DirtyCause) {
	if cur, ok := tx.dirty[key]; ok && cur == doctree.CauseCreated {
		return
	}
	tx.dirty.Mark(key, cause)
}

// mutable returns an overlay copy of the node, cloning on first touch.
func (tx *Tx) mutable(key doctree.NodeKey) (*doctree.Node, error) {
	if n, ok := tx.overlay[key]; ok {
		if n == nil {
			return nil, ErrNoSuchNode
		}
		return n, nil
	}
	base := tx.engine.current.Get(key)
	if base == nil {
		return nil, ErrNoSuchNode
	}
	n := base.Clone()
	tx.overlay[key] = n
	return n, nil
}

// SetText replaces a text node's content.
func (tx *Tx) SetText(key doctree.NodeKey, text string) error {
	n, err := tx.mutable(key)
	if err != nil {
		return err
	}
	if n.Text == text {
		return nil
	}
	n.Text = text
	tx.mark(key, doctree.CauseText)
	tx.marks++
	return nil
}

// SetAttributes replaces a node's styling attributes.
func (tx *Tx) SetAttributes(key doctree.NodeKey, attrs doctree.Attributes) error {
	n, err := tx.mutable(key)
	if err != nil {
		return err
	}
	n.Attrs = attrs
	tx.mark(key, doctree.CauseAttrs)
	tx.marks++
	return nil
}

// SetMarkers replaces a node's preamble and postamble.
func (tx *Tx) SetMarkers(key doctree.NodeKey, preamble, postamble string) error {
	n, err := tx.mutable(key)
	if err != nil {
		return err
	}
	if n.Preamble == preamble && n.Postamble == postamble {
		return nil
	}
	n.Preamble = preamble
	n.Postamble = postamble
	tx.mark(key, doctree.CauseMarkers)
	tx.marks++
	return nil
}

// InsertNode attaches a new node under parent at index (-1 appends).
func (tx *Tx) InsertNode(parent doctree.NodeKey, node *doctree.Node, index int) error {
	p, err := tx.mutable(parent)
	if err != nil {
		return err
	}
	if !p.IsContainer() {
		return ErrNotContainer
	}
	if tx.Node(node.Key) != nil {
		return invariantf(node.Key, "insert of key already present in tree")
	}
	c := node.Clone()
	c.Parent = parent
	if index < 0 || index > len(p.Children) {
		index = len(p.Children)
	}
	children := make([]doctree.NodeKey, 0, len(p.Children)+1)
	children = append(children, p.Children[:index]...)
	children = append(children, c.Key)
	children = append(children, p.Children[index:]...)
	p.Children = children
	tx.overlay[c.Key] = c
	tx.mark(parent, doctree.CauseChildren)
	tx.mark(c.Key, doctree.CauseCreated)
	tx.marks++
	return nil
}

// RemoveNode detaches a node (and its whole subtree) from the tree.
func (tx *Tx) RemoveNode(key doctree.NodeKey) error {
	node := tx.Node(key)
	if node == nil {
		return ErrNoSuchNode
	}
	if key == doctree.RootKey {
		return invariantf(key, "root cannot be removed")
	}
	p, err := tx.mutable(node.Parent)
	if err != nil {
		return err
	}
	children := make([]doctree.NodeKey, 0, len(p.Children))
	for _, c := range p.Children {
		if c != key {
			children = append(children, c)
		}
	}
	p.Children = children
	tx.removeSubtree(key)
	tx.mark(node.Parent, doctree.CauseChildren)
	tx.marks++
	return nil
}

func (tx *Tx) removeSubtree(key doctree.NodeKey) {
	node := tx.Node(key)
	if node == nil {
		return
	}
	for _, c := range node.Children {
		tx.removeSubtree(c)
	}
	tx.overlay[key] = nil
	delete(tx.dirty, key)
}

// ReorderChildren replaces a container's child order. The new order
// must be a permutation of the current children.
func (tx *Tx) ReorderChildren(parent doctree.NodeKey, order []doctree.NodeKey) error {
	p, err := tx.mutable(parent)
	if err != nil {
		return err
	}
	if !p.IsContainer() {
		return ErrNotContainer
	}
	if !sameKeySet(p.Children, order) {
		return invariantf(parent, "reorder is not a permutation of current children")
	}
	p.Children = append([]doctree.NodeKey(nil), order...)
	tx.mark(parent, doctree.CauseChildren)
	tx.marks++
	return nil
}

// SetSelection records the pending logical selection. Pass nil to
// clear it.
func (tx *Tx) SetSelection(sel *Selection) {
	tx.selection = sel
	tx.selectionSet = true
}

// SetComposition marks the transaction as an active marked-text (IME)
// operation over the given buffer range. The caller is responsible for
// keeping the node's text in step (composition edits are applied
// verbatim, and selection reconciliation is skipped).
func (tx *Tx) SetComposition(key doctree.NodeKey, r textbuf.Range, markedText string) {
	tx.composition = &Composition{Key: key, Range: r, MarkedText: markedText}
}
