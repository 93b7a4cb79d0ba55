package doctree

// NodeKey is the stable, opaque identifier of a tree node. Keys are the
// only cross-reference between nodes; a key survives for the lifetime
// of its node across snapshots.
type NodeKey string

// RootKey is the reserved key of the document root.
const RootKey NodeKey = "root"

// NodeKind is the node type discriminator.
type NodeKind uint8

const (
	KindRoot      NodeKind = iota // Document root, exactly one per tree
	KindElement                   // Structural node owning ordered children
	KindText                      // Leaf carrying its own text content
	KindDecorator                 // Leaf backed by an embedded host view
)

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "Root"
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	case KindDecorator:
		return "Decorator"
	default:
		return "Unknown"
	}
}

// Attributes holds styling hints attached to a node. The reconciler
// never interprets them; it only forwards them to the Styler and
// detects when they change.
type Attributes map[string]string

// Node is one tree node. Nodes are values: once a snapshot is sealed
// its nodes must not be mutated. Derive a changed copy with Clone and
// install it in a new snapshot instead.
type Node struct {
	Kind   NodeKind
	Key    NodeKey
	Parent NodeKey

	// Rev is a revision stamp bumped on every change to the node.
	// Equal key plus equal Rev means "same logical value" across
	// snapshots; the reconciler uses it instead of pointer identity.
	Rev uint64

	// Children is the ordered child-key list. Only Root and Element
	// nodes have children.
	Children []NodeKey

	// Text is the node's own content. Only Text nodes carry text.
	Text string

	// Preamble and Postamble are the generated structural strings
	// emitted before and after the node's interior.
	Preamble  string
	Postamble string

	// Attrs holds styling attributes forwarded to the Styler.
	Attrs Attributes
}

// Clone returns a copy of the node with its revision stamp bumped.
// Slices and maps are copied so the original stays immutable.
func (n *Node) Clone() *Node {
	c := *n
	c.Rev = n.Rev + 1
	if n.Children != nil {
		c.Children = make([]NodeKey, len(n.Children))
		copy(c.Children, n.Children)
	}
	if n.Attrs != nil {
		c.Attrs = make(Attributes, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	return &c
}

// IsContainer reports whether the node may own children.
func (n *Node) IsContainer() bool {
	return n.Kind == KindRoot || n.Kind == KindElement
}

// SameValue reports whether other is the same logical value: same key
// and same revision stamp.
func (n *Node) SameValue(other *Node) bool {
	return other != nil && n.Key == other.Key && n.Rev == other.Rev
}

// AttrsEqual reports whether both attribute sets hold the same entries.
func (n *Node) AttrsEqual(other *Node) bool {
	if len(n.Attrs) != len(other.Attrs) {
		return false
	}
	for k, v := range n.Attrs {
		if ov, ok := other.Attrs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
