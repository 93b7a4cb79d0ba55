package doctree

import "testing"

// buildTree assembles root -> (p1 -> t1, p2 -> t2).
func buildTree(t *testing.T) *Snapshot {
	t.Helper()
	snap := NewSnapshot()
	root := snap.Root().Clone()
	p1 := NewElement("p1", "", "\n")
	p1.Parent = RootKey
	p2 := NewElement("p2", "", "\n")
	p2.Parent = RootKey
	t1 := NewText("t1", "first")
	t1.Parent = "p1"
	t2 := NewText("t2", "second")
	t2.Parent = "p2"
	p1.Children = []NodeKey{"t1"}
	p2.Children = []NodeKey{"t2"}
	root.Children = []NodeKey{"p1", "p2"}
	snap = snap.With(map[NodeKey]*Node{
		RootKey: root, "p1": p1, "p2": p2, "t1": t1, "t2": t2,
	})
	if err := snap.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return snap
}

func TestCloneBumpsRev(t *testing.T) {
	n := NewText("t", "hello")
	c := n.Clone()
	if c.Rev != n.Rev+1 {
		t.Fatalf("Clone Rev = %d, want %d", c.Rev, n.Rev+1)
	}
	if !c.SameValue(c) || n.SameValue(c) {
		t.Fatal("SameValue must compare key and revision")
	}
}

func TestCloneIsolation(t *testing.T) {
	n := NewElement("e", "<", ">")
	n.Children = []NodeKey{"a"}
	n.Attrs = Attributes{"k": "v"}
	c := n.Clone()
	c.Children[0] = "b"
	c.Attrs["k"] = "w"
	if n.Children[0] != "a" || n.Attrs["k"] != "v" {
		t.Fatal("Clone shares slices or maps with the original")
	}
}

func TestWithRemovesOnNil(t *testing.T) {
	snap := buildTree(t)
	next := snap.With(map[NodeKey]*Node{"t2": nil})
	if next.Has("t2") {
		t.Fatal("nil value must remove the key")
	}
	if !snap.Has("t2") {
		t.Fatal("With must not mutate the receiver")
	}
}

func TestWalkOrder(t *testing.T) {
	snap := buildTree(t)
	var order []NodeKey
	err := snap.Walk(RootKey, func(n *Node) error {
		order = append(order, n.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []NodeKey{RootKey, "p1", "t1", "p2", "t2"}
	if len(order) != len(want) {
		t.Fatalf("Walk visited %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Walk order %v, want %v", order, want)
		}
	}
}

func TestValidateCatchesDanglingChild(t *testing.T) {
	snap := buildTree(t)
	p1 := snap.Get("p1").Clone()
	p1.Children = append(p1.Children, "ghost")
	bad := snap.With(map[NodeKey]*Node{"p1": p1})
	if err := bad.Validate(); err == nil {
		t.Fatal("Validate must reject a missing child reference")
	}
}

func TestValidateCatchesWrongParent(t *testing.T) {
	snap := buildTree(t)
	t1 := snap.Get("t1").Clone()
	t1.Parent = "p2"
	bad := snap.With(map[NodeKey]*Node{"t1": t1})
	if err := bad.Validate(); err == nil {
		t.Fatal("Validate must reject a parent/child mismatch")
	}
}

func TestDirtyStructural(t *testing.T) {
	d := make(DirtyMap)
	d.Mark("a", CauseText)
	if d.Structural() {
		t.Fatal("text change is not structural")
	}
	d.Mark("b", CauseChildren)
	d.Mark("c", CauseCreated)
	if !d.Structural() {
		t.Fatal("children/created are structural")
	}
	if got := d.StructuralCount(); got != 2 {
		t.Fatalf("StructuralCount() = %d, want 2", got)
	}
}

func TestMarkKeepsStrongerCause(t *testing.T) {
	d := make(DirtyMap)
	d.Mark("a", CauseText)
	d.Mark("a", CauseUnknown)
	if d["a"] != CauseText {
		t.Fatalf("cause downgraded to %v", d["a"])
	}
}

func TestWithAncestors(t *testing.T) {
	snap := buildTree(t)
	d := make(DirtyMap)
	d.Mark("t2", CauseText)
	out := d.WithAncestors(snap)

	if out["t2"] != CauseText {
		t.Fatalf("t2 cause = %v", out["t2"])
	}
	if cause, ok := out["p2"]; !ok || cause != CauseUnknown {
		t.Fatalf("p2 = (%v, %v), want traversal-only mark", cause, ok)
	}
	if cause, ok := out[RootKey]; !ok || cause != CauseUnknown {
		t.Fatalf("root = (%v, %v), want traversal-only mark", cause, ok)
	}
	if _, ok := out["p1"]; ok {
		t.Fatal("p1 is not an ancestor of t2")
	}
}

func TestWithAncestorsKeepsExplicitCause(t *testing.T) {
	snap := buildTree(t)
	d := make(DirtyMap)
	d.Mark("t1", CauseText)
	d.Mark("p1", CauseMarkers)
	out := d.WithAncestors(snap)
	if out["p1"] != CauseMarkers {
		t.Fatalf("explicit ancestor cause overwritten: %v", out["p1"])
	}
}

func TestAttach(t *testing.T) {
	snap := buildTree(t)
	p3 := NewElement("p3", "", "\n")
	nodes := Attach(snap, RootKey, p3, 1)
	next := snap.With(nodes)
	root := next.Root()
	want := []NodeKey{"p1", "p3", "p2"}
	for i, k := range want {
		if root.Children[i] != k {
			t.Fatalf("children = %v, want %v", root.Children, want)
		}
	}
	if next.Get("p3").Parent != RootKey {
		t.Fatal("Attach must set the parent key")
	}
}
