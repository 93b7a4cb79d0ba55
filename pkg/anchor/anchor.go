package anchor

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/reconcile"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Marker boundary runes. U+FDD0 and U+FDD1 are noncharacters: valid in
// interchange per Unicode, guaranteed absent from user text.
const (
	StartRune = '\ufdd0'
	EndRune   = '\ufdd1'
)

// Boundary names the two ends of a node's anchored span.
type Boundary int

const (
	Start Boundary = iota
	End
)

// Marker returns the marker string for one boundary of a node: the
// boundary rune, the key, the boundary rune again. Intended to be
// embedded in a node's preamble (Start) and postamble (End).
func Marker(key doctree.NodeKey, b Boundary) string {
	r := string(StartRune)
	if b == End {
		r = string(EndRune)
	}
	return r + string(key) + r
}

// ParseMarker decodes a marker string produced by Marker.
func ParseMarker(s string) (doctree.NodeKey, Boundary, bool) {
	runes := []rune(s)
	if len(runes) < 3 || runes[0] != runes[len(runes)-1] {
		return "", 0, false
	}
	switch runes[0] {
	case StartRune:
		return doctree.NodeKey(string(runes[1 : len(runes)-1])), Start, true
	case EndRune:
		return doctree.NodeKey(string(runes[1 : len(runes)-1])), End, true
	default:
		return "", 0, false
	}
}

// span records the two marker ranges of one node, in buffer offsets.
type span struct {
	start textbuf.Range // whole start marker
	end   textbuf.Range // whole end marker
}

// Index is the marker-scanning position resolver.
type Index struct {
	mu       sync.RWMutex
	log      *slog.Logger
	fallback reconcile.PositionResolver
	spans    map[doctree.NodeKey]*span
	enabled  bool
}

var _ reconcile.PositionResolver = (*Index)(nil)

// NewIndex returns an enabled, empty index. Lookups for keys without
// markers (and all lookups after Disable) delegate to fallback.
func NewIndex(fallback reconcile.PositionResolver, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{
		log:      log,
		fallback: fallback,
		spans:    make(map[doctree.NodeKey]*span),
		enabled:  true,
	}
}

// Enabled reports whether the index still trusts its markers.
func (ix *Index) Enabled() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.enabled
}

// Disable turns the index off for the rest of the session. Marker
// corruption is unrecoverable without a rebuild; resolution falls back
// to the cache-backed resolver.
func (ix *Index) Disable(reason string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.enabled {
		return
	}
	ix.enabled = false
	ix.spans = make(map[doctree.NodeKey]*span)
	ix.log.Warn("anchor index disabled", slog.String("reason", reason))
}

// Rebuild rescans the full buffer text and re-pairs all markers. Each
// anchored node carries exactly one start and one end marker; an
// unpaired, duplicated, or malformed marker disables the index.
func (ix *Index) Rebuild(text string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.enabled {
		return
	}
	spans := make(map[doctree.NodeKey]*span)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != StartRune && r != EndRune {
			continue
		}
		j := i + 1
		for j < len(runes) && runes[j] != r {
			j++
		}
		if j == len(runes) {
			ix.disableLocked("unterminated marker")
			return
		}
		key := doctree.NodeKey(string(runes[i+1 : j]))
		mr := textbuf.Range{Location: i, Length: j - i + 1}
		sp := spans[key]
		if sp == nil {
			sp = &span{start: textbuf.Range{Location: -1}, end: textbuf.Range{Location: -1}}
			spans[key] = sp
		}
		if r == StartRune {
			if sp.start.Location >= 0 {
				ix.disableLocked("duplicate start marker for " + string(key))
				return
			}
			sp.start = mr
		} else {
			if sp.end.Location >= 0 {
				ix.disableLocked("duplicate end marker for " + string(key))
				return
			}
			sp.end = mr
		}
		i = j
	}
	for key, sp := range spans {
		if sp.start.Location < 0 || sp.end.Location < 0 || sp.end.Location < sp.start.End() {
			ix.disableLocked("unpaired marker for " + string(key))
			return
		}
	}
	ix.spans = spans
}

// Track replays applied buffer deltas onto the recorded marker
// offsets, in execution order. A mutation cutting through a marker
// disables the index. Intended as (part of) the engine's delta
// observer.
func (ix *Index) Track(deltas []reconcile.AppliedDelta) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.enabled {
		return
	}
	for _, d := range deltas {
		switch d.Op {
		case reconcile.OpDelete:
			if !ix.applyDeleteLocked(d.Range) {
				return
			}
		case reconcile.OpInsert:
			n := len([]rune(d.Text))
			if !ix.applyInsertLocked(d.Location, n) {
				return
			}
		case reconcile.OpSetAttributes:
			// Attributes never move text.
		}
	}
}

func (ix *Index) applyDeleteLocked(r textbuf.Range) bool {
	for key, sp := range ix.spans {
		switch {
		case r.Contains(sp.start) && r.Contains(sp.end):
			delete(ix.spans, key)
		case r.Intersects(sp.start) || r.Intersects(sp.end):
			ix.disableLocked("delete cut through a marker")
			return false
		default:
			if sp.start.Location >= r.End() {
				sp.start.Location -= r.Length
			}
			if sp.end.Location >= r.End() {
				sp.end.Location -= r.Length
			}
			if sp.end.Location < sp.start.End() {
				ix.disableLocked("delete inverted a marker pair")
				return false
			}
		}
	}
	return true
}

func (ix *Index) applyInsertLocked(at, n int) bool {
	for _, sp := range ix.spans {
		if at > sp.start.Location && at < sp.start.End() {
			ix.disableLocked("insert landed inside a marker")
			return false
		}
		if at > sp.end.Location && at < sp.end.End() {
			ix.disableLocked("insert landed inside a marker")
			return false
		}
		if sp.start.Location >= at {
			sp.start.Location += n
		}
		if sp.end.Location >= at {
			sp.end.Location += n
		}
	}
	return true
}

// Verify checks every recorded marker against the buffer text and
// disables the index on the first mismatch. Cheap enough to run after
// every transaction in strict setups.
func (ix *Index) Verify(buf textbuf.Buffer) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.enabled {
		return false
	}
	for key, sp := range ix.spans {
		for _, mr := range [2]textbuf.Range{sp.start, sp.end} {
			got, err := buf.Substring(mr)
			if err != nil {
				ix.disableLocked("marker range out of bounds for " + string(key))
				return false
			}
			gotKey, _, ok := ParseMarker(got)
			if !ok || gotKey != key {
				ix.disableLocked("marker text mismatch for " + string(key))
				return false
			}
		}
	}
	return true
}

func (ix *Index) disableLocked(reason string) {
	ix.enabled = false
	ix.spans = make(map[doctree.NodeKey]*span)
	ix.log.Warn("anchor index disabled", slog.String("reason", reason))
}

// NodeTextRange implements reconcile.PositionResolver: the span between
// the start marker's end and the end marker's start.
func (ix *Index) NodeTextRange(key doctree.NodeKey) (textbuf.Range, bool) {
	ix.mu.RLock()
	sp, ok := ix.spans[key]
	enabled := ix.enabled
	ix.mu.RUnlock()
	if !enabled || !ok {
		if ix.fallback != nil {
			return ix.fallback.NodeTextRange(key)
		}
		return textbuf.Range{}, false
	}
	return textbuf.Range{
		Location: sp.start.End(),
		Length:   sp.end.Location - sp.start.End(),
	}, true
}

// NodeWholeRange implements reconcile.PositionResolver: start marker
// through end marker inclusive.
func (ix *Index) NodeWholeRange(key doctree.NodeKey) (textbuf.Range, bool) {
	ix.mu.RLock()
	sp, ok := ix.spans[key]
	enabled := ix.enabled
	ix.mu.RUnlock()
	if !enabled || !ok {
		if ix.fallback != nil {
			return ix.fallback.NodeWholeRange(key)
		}
		return textbuf.Range{}, false
	}
	return textbuf.Range{
		Location: sp.start.Location,
		Length:   sp.end.End() - sp.start.Location,
	}, true
}

// StripMarkers removes all marker spans from text, for display and
// comparison.
func StripMarkers(text string) string {
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == StartRune || r == EndRune {
			j := i + 1
			for j < len(runes) && runes[j] != r {
				j++
			}
			if j < len(runes) {
				i = j
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
