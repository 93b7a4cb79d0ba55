package textbuf

// run is one attribute run: length runes sharing one attribute set.
type run struct {
	length int
	attrs  Attributes
}

// AttrBuffer is an in-memory attributed string implementing Buffer.
// Content is stored as runes plus a parallel list of attribute runs
// whose lengths always sum to the content length.
type AttrBuffer struct {
	content []rune
	runs    []run
}

// NewAttrBuffer returns an empty buffer.
func NewAttrBuffer() *AttrBuffer {
	return &AttrBuffer{}
}

// Length implements Buffer.
func (b *AttrBuffer) Length() int {
	return len(b.content)
}

// String returns the full buffer text.
func (b *AttrBuffer) String() string {
	return string(b.content)
}

// Clone returns an independent copy of the buffer, used for shadow
// rebuilds and pre-transaction restore points.
func (b *AttrBuffer) Clone() *AttrBuffer {
	c := &AttrBuffer{
		content: make([]rune, len(b.content)),
		runs:    make([]run, len(b.runs)),
	}
	copy(c.content, b.content)
	for i, r := range b.runs {
		c.runs[i] = run{length: r.length, attrs: r.attrs.Clone()}
	}
	return c
}

// Restore overwrites the buffer with the contents of the snapshot.
func (b *AttrBuffer) Restore(snapshot *AttrBuffer) {
	c := snapshot.Clone()
	b.content = c.content
	b.runs = c.runs
}

func (b *AttrBuffer) checkRange(r Range) error {
	if r.Location < 0 || r.Length < 0 || r.End() > len(b.content) {
		return ErrRangeOutOfBounds
	}
	return nil
}

// ReplaceCharacters implements Buffer.
func (b *AttrBuffer) ReplaceCharacters(r Range, s string) error {
	if err := b.checkRange(r); err != nil {
		return err
	}
	if err := b.DeleteCharacters(r); err != nil {
		return err
	}
	return b.Insert(StyledText{Text: s}, r.Location)
}

// Insert implements Buffer.
func (b *AttrBuffer) Insert(s StyledText, at int) error {
	if at < 0 || at > len(b.content) {
		return ErrRangeOutOfBounds
	}
	text := []rune(s.Text)
	if len(text) == 0 {
		return nil
	}
	b.content = append(b.content[:at], append(append([]rune{}, text...), b.content[at:]...)...)

	// Split the run covering the insertion point and wedge the new run in.
	idx, offset := b.runAt(at)
	newRun := run{length: len(text), attrs: s.Attrs.Clone()}
	switch {
	case idx == len(b.runs):
		b.runs = append(b.runs, newRun)
	case offset == 0:
		b.runs = append(b.runs[:idx], append([]run{newRun}, b.runs[idx:]...)...)
	default:
		left := run{length: offset, attrs: b.runs[idx].attrs}
		right := run{length: b.runs[idx].length - offset, attrs: b.runs[idx].attrs.Clone()}
		tail := append([]run{left, newRun, right}, b.runs[idx+1:]...)
		b.runs = append(b.runs[:idx], tail...)
	}
	return nil
}

// DeleteCharacters implements Buffer.
func (b *AttrBuffer) DeleteCharacters(r Range) error {
	if err := b.checkRange(r); err != nil {
		return err
	}
	if r.Length == 0 {
		return nil
	}
	b.content = append(b.content[:r.Location], b.content[r.End():]...)

	remaining := r.Length
	idx, offset := b.runAt(r.Location)
	for remaining > 0 && idx < len(b.runs) {
		avail := b.runs[idx].length - offset
		take := avail
		if take > remaining {
			take = remaining
		}
		b.runs[idx].length -= take
		remaining -= take
		if b.runs[idx].length == 0 {
			b.runs = append(b.runs[:idx], b.runs[idx+1:]...)
		} else {
			idx++
		}
		offset = 0
	}
	return nil
}

// SetAttributes implements Buffer.
func (b *AttrBuffer) SetAttributes(attrs Attributes, r Range) error {
	if err := b.checkRange(r); err != nil {
		return err
	}
	if r.Length == 0 {
		return nil
	}
	b.splitAt(r.Location)
	b.splitAt(r.End())
	pos := 0
	for i := range b.runs {
		if pos >= r.Location && pos+b.runs[i].length <= r.End() {
			b.runs[i].attrs = attrs.Clone()
		}
		pos += b.runs[i].length
	}
	return nil
}

// FixAttributes implements Buffer. Adjacent runs with equal attributes
// inside r are merged; runs outside r are untouched.
func (b *AttrBuffer) FixAttributes(r Range) error {
	if err := b.checkRange(r); err != nil {
		return err
	}
	merged := b.runs[:0]
	pos := 0
	for _, cur := range b.runs {
		end := pos + cur.length
		if len(merged) > 0 {
			prev := &merged[len(merged)-1]
			inside := pos >= r.Location && end <= r.End()
			if inside && prev.attrs.Equal(cur.attrs) {
				prev.length += cur.length
				pos = end
				continue
			}
		}
		merged = append(merged, cur)
		pos = end
	}
	b.runs = merged
	return nil
}

// Substring implements Buffer.
func (b *AttrBuffer) Substring(r Range) (string, error) {
	if err := b.checkRange(r); err != nil {
		return "", err
	}
	return string(b.content[r.Location:r.End()]), nil
}

// AttributesAt returns the attributes covering the given offset.
func (b *AttrBuffer) AttributesAt(at int) Attributes {
	idx, _ := b.runAt(at)
	if idx >= len(b.runs) {
		return nil
	}
	return b.runs[idx].attrs
}

// RunCount returns the number of attribute runs. Exposed for tests.
func (b *AttrBuffer) RunCount() int {
	return len(b.runs)
}

// runAt returns the index of the run containing offset at, plus the
// offset within that run. An offset at the very end returns
// (len(runs), 0).
func (b *AttrBuffer) runAt(at int) (int, int) {
	pos := 0
	for i, r := range b.runs {
		if at < pos+r.length {
			return i, at - pos
		}
		pos += r.length
	}
	return len(b.runs), 0
}

// splitAt splits the run spanning offset at so a run boundary falls
// exactly there.
func (b *AttrBuffer) splitAt(at int) {
	idx, offset := b.runAt(at)
	if idx >= len(b.runs) || offset == 0 {
		return
	}
	left := run{length: offset, attrs: b.runs[idx].attrs}
	right := run{length: b.runs[idx].length - offset, attrs: b.runs[idx].attrs.Clone()}
	tail := append([]run{left, right}, b.runs[idx+1:]...)
	b.runs = append(b.runs[:idx], tail...)
}
