package reconcile

import (
	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// PositionResolver locates a node in the buffer. RangeCache is the
// default implementation; the anchor-marker index is the alternative.
// The two are interchangeable: diff and apply logic never depends on
// which one answers.
type PositionResolver interface {
	// NodeTextRange returns the buffer range of the node's own text.
	NodeTextRange(key doctree.NodeKey) (textbuf.Range, bool)

	// NodeWholeRange returns the node's full rendered range.
	NodeWholeRange(key doctree.NodeKey) (textbuf.Range, bool)
}

var _ PositionResolver = (*RangeCache)(nil)
