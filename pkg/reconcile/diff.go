package reconcile

import (
	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// DiffResult is the output of the full tree diff: the ordered
// instruction list, a freshly computed set of range-cache items, and
// the decorator lifecycle work the transaction implies.
type DiffResult struct {
	Instructions []Instruction
	Items        map[doctree.NodeKey]*RangeCacheItem

	DecoratorsAdded   []doctree.NodeKey
	DecoratorsRemoved []doctree.NodeKey
	DecoratorsDirty   []doctree.NodeKey
}

// treeDiff carries the state of one full reconciliation walk.
type treeDiff struct {
	prev, next *doctree.Snapshot
	dirty      doctree.DirtyMap // expanded with ancestors
	cache      *RangeCache      // committed geometry (pre-edit coordinates)

	out    DiffResult
	cursor int // running location in post-edit coordinates
}

// FullDiff performs the keyed two-pointer diff of the current tree
// against the pending tree. dirty must already include the ancestors
// of every dirty node (doctree.DirtyMap.WithAncestors). The committed
// cache supplies pre-edit geometry for delete coordinates; the result
// items are post-edit geometry for the whole pending tree.
func FullDiff(prev, next *doctree.Snapshot, dirty doctree.DirtyMap, cache *RangeCache) (*DiffResult, error) {
	d := &treeDiff{
		prev:  prev,
		next:  next,
		dirty: dirty,
		cache: cache,
	}
	d.out.Items = make(map[doctree.NodeKey]*RangeCacheItem, next.Len())
	if err := d.walk(doctree.RootKey); err != nil {
		return nil, err
	}
	return &d.out, nil
}

// walk reconciles one node present in both trees (or the root).
func (d *treeDiff) walk(key doctree.NodeKey) error {
	prevNode := d.prev.Get(key)
	nextNode := d.next.Get(key)
	if nextNode == nil {
		return invariantf(key, "walk reached node absent from pending tree")
	}
	if prevNode == nil {
		return d.create(key)
	}
	prevItem := d.cache.Item(key)
	if prevItem == nil {
		return invariantf(key, "node has no range cache entry")
	}

	_, isDirty := d.dirty[key]
	if !isDirty && prevNode.Rev != nextNode.Rev {
		// Value changed without a dirty mark; treat as dirty rather
		// than silently skipping.
		isDirty = true
	}
	if !isDirty {
		prevLoc, _ := d.cache.Location(key)
		if prevLoc == d.cursor {
			d.copySubtree(key, 0)
		} else {
			// Pure shift: only locations move, no lengths recompute.
			d.copySubtree(key, d.cursor-prevLoc)
		}
		d.cursor += prevItem.TotalLength()
		return nil
	}
	return d.reconcileNode(key, prevNode, nextNode, prevItem)
}

// copySubtree clones the committed cache items for a clean subtree,
// applying a location delta to every descendant.
func (d *treeDiff) copySubtree(key doctree.NodeKey, delta int) {
	it := d.cache.Item(key)
	if it == nil {
		return
	}
	c := it.clone()
	loc, _ := d.cache.Location(key)
	c.Location = loc + delta
	d.out.Items[key] = c
	node := d.next.Get(key)
	if node == nil {
		return
	}
	for _, child := range node.Children {
		d.copySubtree(child, delta)
	}
}

// reconcileNode re-renders the changed parts of a dirty node and
// recurses into its children.
func (d *treeDiff) reconcileNode(key doctree.NodeKey, prevNode, nextNode *doctree.Node, prevItem *RangeCacheItem) error {
	prevLoc, _ := d.cache.Location(key)
	item := &RangeCacheItem{Location: d.cursor}
	d.out.Items[key] = item

	// Preamble.
	if prevNode.Preamble != nextNode.Preamble {
		d.emitPartReplace(key, PartPreamble,
			textbuf.Range{Location: prevLoc, Length: prevItem.PreambleLength},
			nextNode.Preamble)
	}
	item.PreambleLength = runeLen(nextNode.Preamble)
	d.cursor += item.PreambleLength

	// Children.
	childrenStart := d.cursor
	if err := d.diffChildren(prevNode.Children, nextNode.Children); err != nil {
		return err
	}
	item.ChildrenLength = d.cursor - childrenStart

	// Text.
	if prevNode.Text != nextNode.Text {
		d.emitPartReplace(key, PartText,
			textbuf.Range{
				Location: prevLoc + prevItem.PreambleLength + prevItem.ChildrenLength,
				Length:   prevItem.TextLength,
			},
			nextNode.Text)
	}
	item.TextLength = runeLen(nextNode.Text)
	d.cursor += item.TextLength

	// Postamble.
	if prevNode.Postamble != nextNode.Postamble {
		d.emitPartReplace(key, PartPostamble,
			textbuf.Range{
				Location: prevLoc + prevItem.PreambleLength + prevItem.ChildrenLength + prevItem.TextLength,
				Length:   prevItem.PostambleLength,
			},
			nextNode.Postamble)
	}
	item.PostambleLength = runeLen(nextNode.Postamble)
	d.cursor += item.PostambleLength

	if nextNode.Kind == doctree.KindDecorator {
		d.out.DecoratorsDirty = append(d.out.DecoratorsDirty, key)
	}
	return nil
}

// emitPartReplace emits a delete of the old part range (when non-empty)
// and an insert of the new content (when non-empty).
func (d *treeDiff) emitPartReplace(key doctree.NodeKey, part Part, oldRange textbuf.Range, newText string) {
	if oldRange.Length > 0 {
		d.out.Instructions = append(d.out.Instructions, Instruction{Op: OpDelete, Range: oldRange})
	}
	if newText != "" {
		d.out.Instructions = append(d.out.Instructions, Instruction{
			Op:       OpInsert,
			Location: d.cursor,
			Key:      key,
			Part:     part,
		})
	}
}

// diffChildren walks both ordered child-key lists with two pointers.
// Keys missing from the other side are destroyed or created; keys
// present on both sides but out of order are treated as
// delete-then-insert moves.
func (d *treeDiff) diffChildren(prevChildren, nextChildren []doctree.NodeKey) error {
	prevSet := make(map[doctree.NodeKey]struct{}, len(prevChildren))
	for _, k := range prevChildren {
		prevSet[k] = struct{}{}
	}
	nextSet := make(map[doctree.NodeKey]struct{}, len(nextChildren))
	for _, k := range nextChildren {
		nextSet[k] = struct{}{}
	}

	i, j := 0, 0
	for i < len(prevChildren) && j < len(nextChildren) {
		pk, nk := prevChildren[i], nextChildren[j]
		if pk == nk {
			if err := d.walk(nk); err != nil {
				return err
			}
			i++
			j++
			continue
		}
		_, pkKept := nextSet[pk]
		_, nkExisted := prevSet[nk]
		switch {
		case !pkKept:
			if err := d.destroy(pk); err != nil {
				return err
			}
			i++
		case !nkExisted:
			if err := d.create(nk); err != nil {
				return err
			}
			j++
		default:
			// Both keys survive but the order changed: a move, handled
			// as delete-then-insert.
			if err := d.destroy(pk); err != nil {
				return err
			}
			if err := d.create(nk); err != nil {
				return err
			}
			i++
			j++
		}
	}
	for ; i < len(prevChildren); i++ {
		if err := d.destroy(prevChildren[i]); err != nil {
			return err
		}
	}
	for ; j < len(nextChildren); j++ {
		if err := d.create(nextChildren[j]); err != nil {
			return err
		}
	}
	return nil
}

// create emits one insert covering the node's full rendered subtree
// and computes fresh cache items for every node in it.
func (d *treeDiff) create(key doctree.NodeKey) error {
	if d.next.Get(key) == nil {
		return invariantf(key, "create of node absent from pending tree")
	}
	if subtreeLength(d.next, key) > 0 {
		d.out.Instructions = append(d.out.Instructions, Instruction{
			Op:       OpInsert,
			Location: d.cursor,
			Key:      key,
			Part:     PartSubtree,
		})
	}
	return d.buildItems(key)
}

// buildItems computes post-edit cache items for a freshly created
// subtree, advancing the cursor, and records decorator mounts.
func (d *treeDiff) buildItems(key doctree.NodeKey) error {
	node := d.next.Get(key)
	if node == nil {
		return invariantf(key, "pending tree references missing node")
	}
	item := &RangeCacheItem{
		Location:        d.cursor,
		PreambleLength:  runeLen(node.Preamble),
		TextLength:      runeLen(node.Text),
		PostambleLength: runeLen(node.Postamble),
	}
	d.out.Items[key] = item
	d.cursor += item.PreambleLength
	childrenStart := d.cursor
	for _, child := range node.Children {
		if err := d.buildItems(child); err != nil {
			return err
		}
	}
	item.ChildrenLength = d.cursor - childrenStart
	d.cursor += item.TextLength + item.PostambleLength
	if node.Kind == doctree.KindDecorator {
		d.out.DecoratorsAdded = append(d.out.DecoratorsAdded, key)
	}
	return nil
}

// destroy emits deletes for every part of the subtree in pre-edit
// coordinates and records decorator unmounts. Deletes do not advance
// the cursor: destroyed content contributes nothing to the post-edit
// layout.
func (d *treeDiff) destroy(key doctree.NodeKey) error {
	node := d.prev.Get(key)
	if node == nil {
		return invariantf(key, "destroy of node absent from committed tree")
	}
	item := d.cache.Item(key)
	if item == nil {
		return invariantf(key, "destroyed node has no range cache entry")
	}
	loc, _ := d.cache.Location(key)

	if item.PreambleLength > 0 {
		d.out.Instructions = append(d.out.Instructions, Instruction{
			Op:    OpDelete,
			Range: textbuf.Range{Location: loc, Length: item.PreambleLength},
		})
	}
	for _, child := range node.Children {
		if err := d.destroy(child); err != nil {
			return err
		}
	}
	if item.TextLength > 0 {
		d.out.Instructions = append(d.out.Instructions, Instruction{
			Op: OpDelete,
			Range: textbuf.Range{
				Location: loc + item.PreambleLength + item.ChildrenLength,
				Length:   item.TextLength,
			},
		})
	}
	if item.PostambleLength > 0 {
		d.out.Instructions = append(d.out.Instructions, Instruction{
			Op: OpDelete,
			Range: textbuf.Range{
				Location: loc + item.PreambleLength + item.ChildrenLength + item.TextLength,
				Length:   item.PostambleLength,
			},
		})
	}
	if node.Kind == doctree.KindDecorator {
		d.out.DecoratorsRemoved = append(d.out.DecoratorsRemoved, key)
	}
	return nil
}
