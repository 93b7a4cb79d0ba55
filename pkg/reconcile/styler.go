package reconcile

import (
	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Styler converts a node's generated text into fully-attributed text.
// The reconciler never invents styling; attributing is entirely the
// styler's business. Styling must not change the text itself: node
// geometry is computed from the raw generated strings.
type Styler interface {
	Style(snap *doctree.Snapshot, node *doctree.Node, part Part, text string) textbuf.StyledText
}

// PlainStyler forwards node attributes onto text parts and leaves
// structural markers unattributed. It is the default styler and the
// one used throughout the tests.
type PlainStyler struct{}

// Style implements Styler.
func (PlainStyler) Style(_ *doctree.Snapshot, node *doctree.Node, part Part, text string) textbuf.StyledText {
	if part == PartText && len(node.Attrs) > 0 {
		attrs := make(textbuf.Attributes, len(node.Attrs))
		for k, v := range node.Attrs {
			attrs[k] = v
		}
		return textbuf.StyledText{Text: text, Attrs: attrs}
	}
	return textbuf.StyledText{Text: text}
}
