// Package textbuf defines the text buffer boundary the reconciler
// mutates through, plus an in-memory attributed buffer used by tests,
// the validator's shadow rebuild, and the bench tool.
//
// All offsets and lengths are in runes, not bytes: node geometry must
// stay stable under multi-byte content.
package textbuf

import (
	"errors"
	"fmt"
)

// ErrRangeOutOfBounds is returned when a range does not lie within the
// buffer.
var ErrRangeOutOfBounds = errors.New("textbuf: range out of bounds")

// Range is a half-open span of the buffer expressed as location plus
// length, both in runes.
type Range struct {
	Location int
	Length   int
}

// End returns the first offset past the range.
func (r Range) End() int {
	return r.Location + r.Length
}

// Contains reports whether other lies fully inside r.
func (r Range) Contains(other Range) bool {
	return other.Location >= r.Location && other.End() <= r.End()
}

// Intersects reports whether the two ranges share at least one offset.
func (r Range) Intersects(other Range) bool {
	return r.Location < other.End() && other.Location < r.End()
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("{%d,%d}", r.Location, r.Length)
}

// Attributes is a flat set of styling attributes attached to a span.
type Attributes map[string]string

// Equal reports whether both attribute sets hold the same entries.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// StyledText is a fully-attributed string produced by a Styler.
type StyledText struct {
	Text  string
	Attrs Attributes
}

// Len returns the rune length of the styled text.
func (s StyledText) Len() int {
	return len([]rune(s.Text))
}

// Buffer is the mutation boundary for the linear document text. All
// reconciler writes go through this interface; nothing else may mutate
// the underlying storage during a transaction.
type Buffer interface {
	// Length returns the buffer length in runes.
	Length() int

	// ReplaceCharacters replaces r with s in one edit.
	ReplaceCharacters(r Range, s string) error

	// Insert inserts styled text at the given offset.
	Insert(s StyledText, at int) error

	// DeleteCharacters removes r from the buffer.
	DeleteCharacters(r Range) error

	// SetAttributes applies attrs over r without changing text.
	SetAttributes(attrs Attributes, r Range) error

	// FixAttributes re-normalizes attribute runs over r (merging
	// adjacent equal runs). Text is unchanged.
	FixAttributes(r Range) error

	// Substring returns the text of r.
	Substring(r Range) (string, error)
}
