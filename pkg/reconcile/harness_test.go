package reconcile

import (
	"testing"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// makeDoc builds the standard test document:
//
//	root
//	  p1 ("", "\n")  -> t1 "hello"
//	  p2 ("", "\n")  -> t2 "world"
//
// Rendered: "hello\nworld\n".
func makeDoc(t *testing.T) *doctree.Snapshot {
	t.Helper()
	snap := doctree.NewSnapshot()
	root := snap.Root().Clone()
	nodes := map[doctree.NodeKey]*doctree.Node{doctree.RootKey: root}
	for _, p := range []struct {
		key, textKey doctree.NodeKey
		text         string
	}{
		{"p1", "t1", "hello"},
		{"p2", "t2", "world"},
	} {
		el := doctree.NewElement(p.key, "", "\n")
		el.Parent = doctree.RootKey
		el.Children = []doctree.NodeKey{p.textKey}
		txt := doctree.NewText(p.textKey, p.text)
		txt.Parent = p.key
		nodes[p.key] = el
		nodes[p.textKey] = txt
		root.Children = append(root.Children, p.key)
	}
	snap = snap.With(nodes)
	if err := snap.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return snap
}

// fullRender returns the complete generated text of a snapshot.
func fullRender(t *testing.T, snap *doctree.Snapshot) string {
	t.Helper()
	pieces, err := renderSubtree(snap, PlainStyler{}, snap.Root())
	if err != nil {
		t.Fatalf("renderSubtree: %v", err)
	}
	return styledConcat(pieces)
}

// loadBuffer fills an AttrBuffer with the snapshot's rendered text and
// returns a cache built for it.
func loadBuffer(t *testing.T, snap *doctree.Snapshot) (*textbuf.AttrBuffer, *RangeCache) {
	t.Helper()
	buf := textbuf.NewAttrBuffer()
	if err := buf.Insert(textbuf.StyledText{Text: fullRender(t, snap)}, 0); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	cache := NewRangeCache()
	cache.Rebuild(snap)
	return buf, cache
}

// mutate derives a pending snapshot by cloning and editing nodes.
type mutation struct {
	snap    *doctree.Snapshot
	overlay map[doctree.NodeKey]*doctree.Node
	dirty   doctree.DirtyMap
}

func newMutation(snap *doctree.Snapshot) *mutation {
	return &mutation{
		snap:    snap,
		overlay: make(map[doctree.NodeKey]*doctree.Node),
		dirty:   make(doctree.DirtyMap),
	}
}

func (m *mutation) node(key doctree.NodeKey) *doctree.Node {
	if n, ok := m.overlay[key]; ok {
		return n
	}
	n := m.snap.Get(key).Clone()
	m.overlay[key] = n
	return n
}

func (m *mutation) setText(key doctree.NodeKey, text string) *mutation {
	m.node(key).Text = text
	m.dirty.Mark(key, doctree.CauseText)
	return m
}

func (m *mutation) setMarkers(key doctree.NodeKey, pre, post string) *mutation {
	n := m.node(key)
	n.Preamble, n.Postamble = pre, post
	m.dirty.Mark(key, doctree.CauseMarkers)
	return m
}

func (m *mutation) setAttrs(key doctree.NodeKey, attrs doctree.Attributes) *mutation {
	m.node(key).Attrs = attrs
	m.dirty.Mark(key, doctree.CauseAttrs)
	return m
}

func (m *mutation) setChildren(key doctree.NodeKey, order ...doctree.NodeKey) *mutation {
	m.node(key).Children = order
	m.dirty.Mark(key, doctree.CauseChildren)
	return m
}

func (m *mutation) add(n *doctree.Node) *mutation {
	m.overlay[n.Key] = n
	m.dirty.Mark(n.Key, doctree.CauseCreated)
	return m
}

func (m *mutation) remove(key doctree.NodeKey) *mutation {
	m.overlay[key] = nil
	return m
}

func (m *mutation) build(t *testing.T) (*doctree.Snapshot, doctree.DirtyMap) {
	t.Helper()
	next := m.snap.With(m.overlay)
	if err := next.Validate(); err != nil {
		t.Fatalf("pending snapshot invalid: %v", err)
	}
	return next, m.dirty
}

// applyFullPath runs the full diff against prev/cache and applies the
// instructions to buf, returning the result for further assertions.
func applyFullPath(t *testing.T, prev, next *doctree.Snapshot, dirty doctree.DirtyMap, cache *RangeCache, buf *textbuf.AttrBuffer) *DiffResult {
	t.Helper()
	res, err := FullDiff(prev, next, dirty.WithAncestors(next), cache)
	if err != nil {
		t.Fatalf("FullDiff: %v", err)
	}
	applier := NewBufferApplier(buf, PlainStyler{})
	if _, err := applier.Apply(next, res.Instructions); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return res
}
