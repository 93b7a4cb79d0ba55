package anchor

import (
	"testing"

	"github.com/weft-dev/weft/pkg/reconcile"
	"github.com/weft-dev/weft/pkg/textbuf"
)

func anchoredBuffer(t *testing.T) *textbuf.AttrBuffer {
	t.Helper()
	buf := textbuf.NewAttrBuffer()
	if err := buf.Insert(textbuf.StyledText{Text: anchored()}, 0); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return buf
}

func TestApplierValidatesThenApplies(t *testing.T) {
	buf := anchoredBuffer(t)
	ix := NewIndex(nil, quietLogger())
	ix.Rebuild(anchored())
	ap := NewApplier(buf, reconcile.PlainStyler{}, ix, quietLogger())

	// Insert at the end of p1's text, just before its end marker.
	applied, err := ap.Apply(nil, []reconcile.Instruction{
		{Op: reconcile.OpInsert, Location: 9, Part: reconcile.PartLiteral, Literal: " there"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied) != 1 || applied[0].Text != " there" {
		t.Fatalf("applied = %+v", applied)
	}
	if !ix.Enabled() {
		t.Fatal("clean apply must keep the index enabled")
	}

	// The index tracked the shift and still matches the buffer.
	r, ok := ix.NodeTextRange("p1")
	if !ok || r.Location != 4 || r.Length != 11 {
		t.Fatalf("NodeTextRange(p1) = %v, %v", r, ok)
	}
	if !ix.Verify(buf) {
		t.Fatal("markers drifted after a tracked apply")
	}
}

func TestApplierFallsBackOnMarkerMismatch(t *testing.T) {
	buf := anchoredBuffer(t)
	ix := NewIndex(&stubResolver{}, quietLogger())
	ix.Rebuild(anchored())
	ap := NewApplier(buf, reconcile.PlainStyler{}, ix, quietLogger())

	// Corrupt a marker behind the index's back.
	if err := buf.ReplaceCharacters(textbuf.Range{Location: 0, Length: 1}, "X"); err != nil {
		t.Fatalf("ReplaceCharacters: %v", err)
	}

	applied, err := ap.Apply(nil, []reconcile.Instruction{
		{Op: reconcile.OpInsert, Location: 9, Part: reconcile.PartLiteral, Literal: "!"},
	})
	// The mismatch is soft: the transaction still applies, through the
	// plain path, and only the index is lost.
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %+v", applied)
	}
	if ix.Enabled() {
		t.Fatal("marker mismatch must disable the index")
	}
	want := "Xp1" + string(StartRune) + "hello!" + Marker("p1", End) +
		Marker("p2", Start) + "world" + Marker("p2", End)
	got, err := buf.Substring(textbuf.Range{Location: 0, Length: buf.Length()})
	if err != nil || got != want {
		t.Fatalf("buffer = %q, want %q", got, want)
	}
}

func TestApplierDisabledIndexAppliesPlainly(t *testing.T) {
	buf := anchoredBuffer(t)
	ix := NewIndex(nil, quietLogger())
	ix.Rebuild(anchored())
	ix.Disable("test")
	ap := NewApplier(buf, reconcile.PlainStyler{}, ix, quietLogger())

	applied, err := ap.Apply(nil, []reconcile.Instruction{
		{Op: reconcile.OpDelete, Range: textbuf.Range{Location: 4, Length: 5}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %+v", applied)
	}
}

func TestApplierDisablesOnAbortedApply(t *testing.T) {
	buf := anchoredBuffer(t)
	ix := NewIndex(nil, quietLogger())
	ix.Rebuild(anchored())
	ap := NewApplier(buf, reconcile.PlainStyler{}, ix, quietLogger())

	_, err := ap.Apply(nil, []reconcile.Instruction{
		{Op: reconcile.OpDelete, Range: textbuf.Range{Location: 0, Length: buf.Length() + 10}},
	})
	if err == nil {
		t.Fatal("out-of-bounds delete must fail")
	}
	if ix.Enabled() {
		t.Fatal("aborted apply must disable the index")
	}
}
