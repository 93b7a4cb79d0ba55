package reconcile

import (
	"sort"
	"strings"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// AppliedDelta describes one buffer mutation as it was executed, in
// the coordinates it was executed at. Consumers (live observers, the
// anchor index) replay these to track the buffer.
type AppliedDelta struct {
	Op       OpKind
	Range    textbuf.Range // OpDelete / OpSetAttributes
	Location int           // OpInsert
	Text     string        // OpInsert payload
}

// BufferApplier coalesces and applies an instruction list to the
// buffer in one editing pass: deletes first (highest offsets first, so
// earlier offsets stay valid), then inserts ascending, then attribute
// sets, then one attribute fix over the minimal touched range.
type BufferApplier struct {
	buf    textbuf.Buffer
	styler Styler
}

// NewBufferApplier returns an applier writing through buf with styling
// resolved by styler.
func NewBufferApplier(buf textbuf.Buffer, styler Styler) *BufferApplier {
	return &BufferApplier{buf: buf, styler: styler}
}

// Apply executes the instructions against the buffer. Insert content
// is resolved against snap at this point, not earlier. The applied
// deltas are returned in execution order.
func (a *BufferApplier) Apply(snap *doctree.Snapshot, instrs []Instruction) ([]AppliedDelta, error) {
	var deletes []textbuf.Range
	var inserts []Instruction
	var attrSets []Instruction
	for _, in := range instrs {
		switch in.Op {
		case OpDelete:
			if in.Range.Length > 0 {
				deletes = append(deletes, in.Range)
			}
		case OpInsert:
			inserts = append(inserts, in)
		case OpSetAttributes:
			attrSets = append(attrSets, in)
		}
	}
	deletes = coalesceDeletes(deletes)

	var applied []AppliedDelta
	touched := newTouchedSpan()

	// Deletes, highest offset first.
	for i := len(deletes) - 1; i >= 0; i-- {
		r := deletes[i]
		if err := a.checkBounds(r); err != nil {
			return applied, err
		}
		if err := a.buf.DeleteCharacters(r); err != nil {
			return applied, err
		}
		applied = append(applied, AppliedDelta{Op: OpDelete, Range: r})
		touched.add(r.Location, r.Location)
	}

	// Inserts ascending; same-location inserts coalesce by
	// concatenation in emission order.
	pieces, err := a.resolveInserts(snap, inserts)
	if err != nil {
		return applied, err
	}
	for _, p := range pieces {
		text := styledConcat(p.pieces)
		if err := a.buf.Insert(textbuf.StyledText{Text: text}, p.location); err != nil {
			return applied, err
		}
		at := p.location
		for _, piece := range p.pieces {
			n := piece.Len()
			if len(piece.Attrs) > 0 {
				if err := a.buf.SetAttributes(piece.Attrs, textbuf.Range{Location: at, Length: n}); err != nil {
					return applied, err
				}
			}
			at += n
		}
		applied = append(applied, AppliedDelta{Op: OpInsert, Location: p.location, Text: text})
		touched.add(p.location, p.location+runeLen(text))
	}

	// Attribute sets.
	for _, in := range attrSets {
		if err := a.checkBounds(in.Range); err != nil {
			return applied, err
		}
		if err := a.buf.SetAttributes(in.Attrs, in.Range); err != nil {
			return applied, err
		}
		applied = append(applied, AppliedDelta{Op: OpSetAttributes, Range: in.Range})
		touched.add(in.Range.Location, in.Range.End())
	}

	// Re-normalize formatting over the minimal covering range only.
	if touched.any {
		lo, hi := touched.lo, touched.hi
		if hi > a.buf.Length() {
			hi = a.buf.Length()
		}
		if lo < hi {
			if err := a.buf.FixAttributes(textbuf.Range{Location: lo, Length: hi - lo}); err != nil {
				return applied, err
			}
		}
	}
	return applied, nil
}

func (a *BufferApplier) checkBounds(r textbuf.Range) error {
	if r.Location < 0 || r.Length < 0 || r.End() > a.buf.Length() {
		return invariantf("", "instruction range %s outside buffer of length %d", r, a.buf.Length())
	}
	return nil
}

// locatedPieces is a group of styled pieces inserting at one location.
type locatedPieces struct {
	location int
	pieces   []textbuf.StyledText
}

// resolveInserts renders insert instructions into styled pieces and
// groups them by location, preserving emission order within a group.
func (a *BufferApplier) resolveInserts(snap *doctree.Snapshot, inserts []Instruction) ([]locatedPieces, error) {
	var out []locatedPieces
	byLocation := make(map[int]int)
	for _, in := range inserts {
		var pieces []textbuf.StyledText
		if in.Part == PartLiteral {
			if in.Literal != "" {
				pieces = []textbuf.StyledText{{Text: in.Literal, Attrs: in.Attrs}}
			}
		} else {
			var err error
			pieces, err = renderPart(snap, a.styler, in.Key, in.Part)
			if err != nil {
				return nil, err
			}
		}
		if len(pieces) == 0 {
			continue
		}
		if idx, ok := byLocation[in.Location]; ok {
			out[idx].pieces = append(out[idx].pieces, pieces...)
			continue
		}
		byLocation[in.Location] = len(out)
		out = append(out, locatedPieces{location: in.Location, pieces: pieces})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].location < out[j].location })
	return out, nil
}

// coalesceDeletes merges overlapping or adjacent ranges and returns
// them sorted ascending.
func coalesceDeletes(ranges []textbuf.Range) []textbuf.Range {
	if len(ranges) < 2 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Location < ranges[j].Location })
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Location <= last.End() {
			if r.End() > last.End() {
				last.Length = r.End() - last.Location
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func styledConcat(pieces []textbuf.StyledText) string {
	var b strings.Builder
	for _, p := range pieces {
		b.WriteString(p.Text)
	}
	return b.String()
}

// touchedSpan tracks the minimal range covering all touched offsets.
type touchedSpan struct {
	any    bool
	lo, hi int
}

func newTouchedSpan() *touchedSpan {
	return &touchedSpan{}
}

func (t *touchedSpan) add(lo, hi int) {
	if !t.any {
		t.any, t.lo, t.hi = true, lo, hi
		return
	}
	if lo < t.lo {
		t.lo = lo
	}
	if hi > t.hi {
		t.hi = hi
	}
}
