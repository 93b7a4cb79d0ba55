package doctree

// DirtyCause records why a node was flagged dirty during a transaction.
type DirtyCause uint8

const (
	CauseUnknown  DirtyCause = iota
	CauseText                // Text content changed
	CauseAttrs               // Attributes changed
	CauseChildren            // Child list changed
	CauseCreated             // Node entered the tree
	CauseMarkers             // Preamble or postamble changed
)

// String returns the string representation of the DirtyCause.
func (c DirtyCause) String() string {
	switch c {
	case CauseText:
		return "text"
	case CauseAttrs:
		return "attrs"
	case CauseChildren:
		return "children"
	case CauseCreated:
		return "created"
	case CauseMarkers:
		return "markers"
	default:
		return "unknown"
	}
}

// DirtyMap tracks which nodes a transaction touched and why. The
// reconciler only re-descends into dirty subtrees; everything else is
// cursor-shifted from cached geometry.
type DirtyMap map[NodeKey]DirtyCause

// Mark records a dirty node. A stronger cause is never downgraded to
// CauseUnknown by a later Mark.
func (d DirtyMap) Mark(key NodeKey, cause DirtyCause) {
	if prev, ok := d[key]; ok && cause == CauseUnknown {
		_ = prev
		return
	}
	d[key] = cause
}

// Structural reports whether any entry is a structural change (child
// list mutation or node creation).
func (d DirtyMap) Structural() bool {
	for _, cause := range d {
		if cause == CauseChildren || cause == CauseCreated {
			return true
		}
	}
	return false
}

// StructuralCount returns the number of structural entries.
func (d DirtyMap) StructuralCount() int {
	n := 0
	for _, cause := range d {
		if cause == CauseChildren || cause == CauseCreated {
			n++
		}
	}
	return n
}

// WithAncestors returns the dirty set expanded with every ancestor of
// each dirty node, resolved against snap. Ancestors are marked
// CauseUnknown unless already present: the reconciler must descend
// through them to reach the dirty region but must not re-render them.
func (d DirtyMap) WithAncestors(snap *Snapshot) DirtyMap {
	out := make(DirtyMap, len(d)*2)
	for key, cause := range d {
		out[key] = cause
		node := snap.Get(key)
		for node != nil && node.Key != RootKey {
			parent := snap.Get(node.Parent)
			if parent == nil {
				break
			}
			if _, ok := out[parent.Key]; !ok {
				out[parent.Key] = CauseUnknown
			}
			node = parent
		}
	}
	return out
}
