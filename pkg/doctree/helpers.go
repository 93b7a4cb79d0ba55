package doctree

// NewElement returns an element node with the given structural markers.
// The node is not attached to any snapshot yet.
func NewElement(key NodeKey, preamble, postamble string) *Node {
	return &Node{Kind: KindElement, Key: key, Preamble: preamble, Postamble: postamble}
}

// NewText returns a text node carrying content.
func NewText(key NodeKey, text string) *Node {
	return &Node{Kind: KindText, Key: key, Text: text}
}

// NewDecorator returns a decorator node. Decorators contribute their
// preamble/postamble to the buffer; the embedded view is managed by the
// DecoratorHost.
func NewDecorator(key NodeKey) *Node {
	return &Node{Kind: KindDecorator, Key: key}
}

// Attach links child under parent at the given index and returns the
// nodes to install via Snapshot.With. Index -1 appends.
func Attach(snap *Snapshot, parent NodeKey, child *Node, index int) map[NodeKey]*Node {
	p := snap.Get(parent).Clone()
	c := child.Clone()
	c.Parent = parent
	if index < 0 || index > len(p.Children) {
		index = len(p.Children)
	}
	children := make([]NodeKey, 0, len(p.Children)+1)
	children = append(children, p.Children[:index]...)
	children = append(children, c.Key)
	children = append(children, p.Children[index:]...)
	p.Children = children
	return map[NodeKey]*Node{parent: p, c.Key: c}
}
