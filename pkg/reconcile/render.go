package reconcile

import (
	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// runeLen returns the rune length of s. All geometry is rune-based.
func runeLen(s string) int {
	return len([]rune(s))
}

// partText returns the raw generated text for one part of a node.
func partText(node *doctree.Node, part Part) string {
	switch part {
	case PartPreamble:
		return node.Preamble
	case PartText:
		return node.Text
	case PartPostamble:
		return node.Postamble
	default:
		return ""
	}
}

// renderPart resolves one instruction part into styled pieces, in
// buffer order. For PartSubtree and PartChildren this recurses through
// the snapshot.
func renderPart(snap *doctree.Snapshot, styler Styler, key doctree.NodeKey, part Part) ([]textbuf.StyledText, error) {
	node := snap.Get(key)
	if node == nil {
		return nil, invariantf(key, "render of missing node")
	}
	switch part {
	case PartPreamble, PartText, PartPostamble:
		text := partText(node, part)
		if text == "" {
			return nil, nil
		}
		return []textbuf.StyledText{styler.Style(snap, node, part, text)}, nil
	case PartSubtree:
		return renderSubtree(snap, styler, node)
	case PartChildren:
		var pieces []textbuf.StyledText
		for _, child := range node.Children {
			sub, err := renderPart(snap, styler, child, PartSubtree)
			if err != nil {
				return nil, err
			}
			pieces = append(pieces, sub...)
		}
		return pieces, nil
	default:
		return nil, invariantf(key, "render of unknown part %d", part)
	}
}

// renderSubtree renders preamble, interior, and postamble of a node.
func renderSubtree(snap *doctree.Snapshot, styler Styler, node *doctree.Node) ([]textbuf.StyledText, error) {
	var pieces []textbuf.StyledText
	appendPart := func(part Part) {
		if text := partText(node, part); text != "" {
			pieces = append(pieces, styler.Style(snap, node, part, text))
		}
	}
	appendPart(PartPreamble)
	for _, child := range node.Children {
		c := snap.Get(child)
		if c == nil {
			return nil, invariantf(child, "child of %q missing from snapshot", node.Key)
		}
		sub, err := renderSubtree(snap, styler, c)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, sub...)
	}
	appendPart(PartText)
	appendPart(PartPostamble)
	return pieces, nil
}

// subtreeLength returns the total rendered rune length of a subtree,
// computed from the raw generated strings.
func subtreeLength(snap *doctree.Snapshot, key doctree.NodeKey) int {
	node := snap.Get(key)
	if node == nil {
		return 0
	}
	total := runeLen(node.Preamble) + runeLen(node.Text) + runeLen(node.Postamble)
	for _, child := range node.Children {
		total += subtreeLength(snap, child)
	}
	return total
}
