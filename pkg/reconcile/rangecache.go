package reconcile

import (
	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/fenwick"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// RangeCacheItem is the per-node breakdown of buffer geometry. A node's
// rendered bytes appear in the order preamble, children, text,
// postamble, starting at Location.
type RangeCacheItem struct {
	Location        int
	PreambleLength  int
	ChildrenLength  int
	TextLength      int
	PostambleLength int

	// OffsetIndex is the node's pre-order slot in the offset index.
	OffsetIndex int
}

// TotalLength returns the node's full rendered length.
func (it *RangeCacheItem) TotalLength() int {
	return it.PreambleLength + it.ChildrenLength + it.TextLength + it.PostambleLength
}

// WholeRange returns the node's full rendered range.
func (it *RangeCacheItem) WholeRange() textbuf.Range {
	return textbuf.Range{Location: it.Location, Length: it.TotalLength()}
}

// ChildrenRange returns the range covering the node's children region.
func (it *RangeCacheItem) ChildrenRange() textbuf.Range {
	return textbuf.Range{Location: it.Location + it.PreambleLength, Length: it.ChildrenLength}
}

// TextRange returns the range covering the node's own text.
func (it *RangeCacheItem) TextRange() textbuf.Range {
	return textbuf.Range{
		Location: it.Location + it.PreambleLength + it.ChildrenLength,
		Length:   it.TextLength,
	}
}

// PostambleRange returns the range covering the node's postamble.
func (it *RangeCacheItem) PostambleRange() textbuf.Range {
	return textbuf.Range{
		Location: it.Location + it.PreambleLength + it.ChildrenLength + it.TextLength,
		Length:   it.PostambleLength,
	}
}

// ContentRange returns the interior between preamble and postamble.
func (it *RangeCacheItem) ContentRange() textbuf.Range {
	return textbuf.Range{
		Location: it.Location + it.PreambleLength,
		Length:   it.ChildrenLength + it.TextLength,
	}
}

func (it *RangeCacheItem) clone() *RangeCacheItem {
	c := *it
	return &c
}

// RangeCache is the authoritative map from node identity to buffer
// geometry. Node start locations are additionally mirrored into a
// Fenwick tree as a difference array, so that a content change earlier
// in the buffer relocates every later node with one O(log n) update
// instead of a tree walk: the prefix sum at a node's slot is its
// location.
type RangeCache struct {
	items map[doctree.NodeKey]*RangeCacheItem
	index *fenwick.Tree
	order []doctree.NodeKey // slot -> key, pre-order
}

// NewRangeCache returns an empty cache.
func NewRangeCache() *RangeCache {
	return &RangeCache{
		items: make(map[doctree.NodeKey]*RangeCacheItem),
		index: fenwick.New(0),
	}
}

// Item returns the cache entry for key, or nil.
func (c *RangeCache) Item(key doctree.NodeKey) *RangeCacheItem {
	return c.items[key]
}

// Len returns the number of cached nodes.
func (c *RangeCache) Len() int {
	return len(c.items)
}

// Location returns the node's current start location, reading the
// offset index (which absorbs shifts the item struct has not seen yet).
func (c *RangeCache) Location(key doctree.NodeKey) (int, bool) {
	it, ok := c.items[key]
	if !ok {
		return 0, false
	}
	return c.index.PrefixSum(it.OffsetIndex), true
}

// Rebuild recomputes the whole cache from a snapshot: lengths from the
// generated strings, slots in pre-order, locations into the index.
func (c *RangeCache) Rebuild(snap *doctree.Snapshot) {
	items := make(map[doctree.NodeKey]*RangeCacheItem, snap.Len())
	var build func(key doctree.NodeKey, at int) int
	build = func(key doctree.NodeKey, at int) int {
		node := snap.Get(key)
		it := &RangeCacheItem{
			Location:        at,
			PreambleLength:  runeLen(node.Preamble),
			TextLength:      runeLen(node.Text),
			PostambleLength: runeLen(node.Postamble),
		}
		items[key] = it
		cursor := at + it.PreambleLength
		for _, child := range node.Children {
			cursor = build(child, cursor)
		}
		it.ChildrenLength = cursor - at - it.PreambleLength
		return cursor + it.TextLength + it.PostambleLength
	}
	build(doctree.RootKey, 0)
	c.Install(snap, items)
}

// Install replaces the cache contents with freshly computed items (as
// produced by a full diff) and reindexes the offset index from their
// locations.
func (c *RangeCache) Install(snap *doctree.Snapshot, items map[doctree.NodeKey]*RangeCacheItem) {
	c.items = items
	c.reindex(snap)
}

// Reindex recomputes pre-order slots and locations from the item
// lengths. Item locations are rewritten; lengths are trusted. Used
// after structural fast paths, which fix up lengths locally but leave
// later locations stale.
func (c *RangeCache) Reindex(snap *doctree.Snapshot) {
	var place func(key doctree.NodeKey, at int) int
	place = func(key doctree.NodeKey, at int) int {
		it := c.items[key]
		if it == nil {
			return at
		}
		it.Location = at
		cursor := at + it.PreambleLength
		node := snap.Get(key)
		if node != nil {
			for _, child := range node.Children {
				cursor = place(child, cursor)
			}
		}
		return cursor + it.TextLength + it.PostambleLength
	}
	place(doctree.RootKey, 0)
	c.reindex(snap)
}

// reindex rebuilds the slot order and the Fenwick difference array
// from the current item locations.
func (c *RangeCache) reindex(snap *doctree.Snapshot) {
	c.order = c.order[:0]
	var visit func(key doctree.NodeKey)
	visit = func(key doctree.NodeKey) {
		it := c.items[key]
		if it == nil {
			return
		}
		it.OffsetIndex = len(c.order)
		c.order = append(c.order, key)
		node := snap.Get(key)
		if node != nil {
			for _, child := range node.Children {
				visit(child)
			}
		}
	}
	visit(doctree.RootKey)

	if c.index.Size() < len(c.order) {
		c.index = fenwick.New(len(c.order))
	} else {
		c.index.Reset()
	}
	prev := 0
	for slot, key := range c.order {
		loc := c.items[key].Location
		c.index.Update(slot, loc-prev)
		prev = loc
	}
}

// ApplyPartDelta records a length change of one part of a node: the
// item and every ancestor's ChildrenLength are adjusted, and every node
// starting after the changed content is relocated through the offset
// index with a single ranged add. Item Location fields of shifted nodes
// go stale; read locations through Location or call SyncLocations.
func (c *RangeCache) ApplyPartDelta(snap *doctree.Snapshot, key doctree.NodeKey, part Part, delta int) error {
	it := c.items[key]
	if it == nil {
		return invariantf(key, "part delta for uncached node")
	}
	switch part {
	case PartPreamble:
		it.PreambleLength += delta
	case PartText:
		it.TextLength += delta
	case PartPostamble:
		it.PostambleLength += delta
	default:
		return invariantf(key, "part delta for %s", part)
	}
	if delta == 0 {
		return nil
	}

	// Ancestors aggregate the delta into their children region.
	node := snap.Get(key)
	for node != nil && node.Key != doctree.RootKey {
		parent := c.items[node.Parent]
		if parent == nil {
			return invariantf(node.Parent, "ancestor of %q missing from range cache", key)
		}
		parent.ChildrenLength += delta
		node = snap.Get(node.Parent)
	}

	// Relocate everything that starts after the changed content.
	from := it.OffsetIndex + 1
	if part == PartPostamble {
		from = c.subtreeEndSlot(snap, key) + 1
	}
	if from < c.index.Size() {
		c.index.Update(from, delta)
	}
	return nil
}

// subtreeEndSlot returns the slot of the last node inside key's
// subtree.
func (c *RangeCache) subtreeEndSlot(snap *doctree.Snapshot, key doctree.NodeKey) int {
	node := snap.Get(key)
	it := c.items[key]
	if node == nil || it == nil {
		return 0
	}
	for len(node.Children) > 0 {
		node = snap.Get(node.Children[len(node.Children)-1])
		if node == nil {
			break
		}
	}
	if node != nil {
		if last := c.items[node.Key]; last != nil {
			return last.OffsetIndex
		}
	}
	return it.OffsetIndex
}

// RecomputeSubtree recomputes (or creates) items for key's subtree
// from the snapshot's generated strings, then refreshes every
// ancestor's ChildrenLength. Locations are left to a following
// Reindex.
func (c *RangeCache) RecomputeSubtree(snap *doctree.Snapshot, key doctree.NodeKey) error {
	node := snap.Get(key)
	if node == nil {
		return invariantf(key, "recompute of node absent from snapshot")
	}
	var build func(n *doctree.Node) int
	build = func(n *doctree.Node) int {
		it := c.items[n.Key]
		if it == nil {
			it = &RangeCacheItem{}
			c.items[n.Key] = it
		}
		it.PreambleLength = runeLen(n.Preamble)
		it.TextLength = runeLen(n.Text)
		it.PostambleLength = runeLen(n.Postamble)
		sum := 0
		for _, child := range n.Children {
			if cn := snap.Get(child); cn != nil {
				sum += build(cn)
			}
		}
		it.ChildrenLength = sum
		return it.TotalLength()
	}
	build(node)

	// Refresh aggregate lengths up to the root.
	for node.Key != doctree.RootKey {
		parent := snap.Get(node.Parent)
		if parent == nil {
			return invariantf(node.Parent, "ancestor of %q missing from snapshot", key)
		}
		it := c.items[parent.Key]
		if it == nil {
			return invariantf(parent.Key, "ancestor of %q missing from range cache", key)
		}
		sum := 0
		for _, child := range parent.Children {
			ci := c.items[child]
			if ci == nil {
				return invariantf(child, "child of %q missing from range cache", parent.Key)
			}
			sum += ci.TotalLength()
		}
		it.ChildrenLength = sum
		node = parent
	}
	return nil
}

// SyncLocations writes the index-derived location back into every item.
func (c *RangeCache) SyncLocations() {
	for slot, key := range c.order {
		if it := c.items[key]; it != nil {
			it.Location = c.index.PrefixSum(slot)
		}
	}
}

// NodeAtOffset returns the deepest node whose rendered range starts at
// or before the given buffer offset — the owner of that offset for all
// interior offsets. Resolution is a binary search over the offset
// index's prefix sums.
func (c *RangeCache) NodeAtOffset(offset int) (doctree.NodeKey, bool) {
	if len(c.order) == 0 || offset < 0 {
		return "", false
	}
	// Smallest slot starting strictly after offset; the owner is the
	// slot before it.
	next := c.index.FindFirstIndex(offset + 1)
	if next == -1 {
		next = len(c.order)
	}
	if next == 0 {
		return c.order[0], true
	}
	return c.order[next-1], true
}

// Remove drops a node from the cache. Slot bookkeeping is left to the
// next Install/Reindex; structural edits always end in one of those.
func (c *RangeCache) Remove(key doctree.NodeKey) {
	delete(c.items, key)
}

// TotalLength returns the root's total rendered length.
func (c *RangeCache) TotalLength() int {
	root := c.items[doctree.RootKey]
	if root == nil {
		return 0
	}
	return root.TotalLength()
}

// Validate checks the geometry invariants against a snapshot: each
// container's ChildrenLength equals the sum of its direct children's
// totals, and every cached length matches the generated strings.
func (c *RangeCache) Validate(snap *doctree.Snapshot) error {
	return snap.Walk(doctree.RootKey, func(node *doctree.Node) error {
		it := c.items[node.Key]
		if it == nil {
			return invariantf(node.Key, "node missing from range cache")
		}
		if it.PreambleLength != runeLen(node.Preamble) ||
			it.TextLength != runeLen(node.Text) ||
			it.PostambleLength != runeLen(node.Postamble) {
			return invariantf(node.Key, "cached part lengths disagree with generated text")
		}
		sum := 0
		for _, child := range node.Children {
			ci := c.items[child]
			if ci == nil {
				return invariantf(child, "child missing from range cache")
			}
			sum += ci.TotalLength()
		}
		if sum != it.ChildrenLength {
			return invariantf(node.Key, "childrenLength %d != sum of children %d", it.ChildrenLength, sum)
		}
		return nil
	})
}

// NodeTextRange implements PositionResolver.
func (c *RangeCache) NodeTextRange(key doctree.NodeKey) (textbuf.Range, bool) {
	it := c.items[key]
	if it == nil {
		return textbuf.Range{}, false
	}
	loc, _ := c.Location(key)
	return textbuf.Range{
		Location: loc + it.PreambleLength + it.ChildrenLength,
		Length:   it.TextLength,
	}, true
}

// NodeWholeRange implements PositionResolver.
func (c *RangeCache) NodeWholeRange(key doctree.NodeKey) (textbuf.Range, bool) {
	it := c.items[key]
	if it == nil {
		return textbuf.Range{}, false
	}
	loc, _ := c.Location(key)
	return textbuf.Range{Location: loc, Length: it.TotalLength()}, true
}
