package reconcile

import (
	"sort"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Composition describes an active marked-text (IME) operation: the
// buffer range to replace and the marked text replacing it. While a
// composition is active the caret is owned by the composition
// protocol, so selection reconciliation is skipped.
type Composition struct {
	Key        doctree.NodeKey
	Range      textbuf.Range
	MarkedText string
}

// partDelta is one accumulated length change awaiting the final
// relocation pass.
type partDelta struct {
	key   doctree.NodeKey
	part  Part
	delta int
}

// Plan is a fast-path reconciliation plan: the minimal instruction set
// for one restricted edit shape plus the cache maintenance it implies.
type Plan struct {
	Label         string
	Instructions  []Instruction
	SkipSelection bool

	// deltas are isolated length changes; they are applied to the
	// cache in one relocation pass after the buffer mutation.
	deltas []partDelta

	// recompute lists subtree roots whose items must be recomputed
	// from the pending tree (new or rebuilt regions), followed by a
	// reindex.
	recompute []doctree.NodeKey

	// reindexOnly relocates without recomputing any lengths (reorders).
	reindexOnly bool

	decoratorsAdded []doctree.NodeKey
	decoratorsDirty []doctree.NodeKey
}

// planInput is the transaction view the detectors inspect.
type planInput struct {
	prev, next  *doctree.Snapshot
	dirty       doctree.DirtyMap
	cache       *RangeCache
	buf         textbuf.Buffer
	styler      Styler
	composition *Composition
}

// Planner is the chain of fast-path detectors, tried in a fixed
// priority order. Each detector either fully handles the transaction
// or declines and the next is tried; when all decline the caller runs
// the full tree diff.
type Planner struct {
	cfg Config
}

// NewPlanner returns a planner with the given configuration.
func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

// Plan tries the detector chain. A nil plan means no detector matched;
// the returned reason classifies the decline.
func (p *Planner) Plan(in *planInput) (*Plan, FallbackReason) {
	if plan := p.planComposition(in); plan != nil {
		return plan, FallbackNone
	}
	if plan := p.planTextOnly(in); plan != nil {
		return plan, FallbackNone
	}
	if plan := p.planBlockInsert(in); plan != nil {
		return plan, FallbackNone
	}
	if plan := p.planReorder(in); plan != nil {
		return plan, FallbackNone
	}
	if plan := p.planRegionReplace(in); plan != nil {
		return plan, FallbackNone
	}
	if plan := p.planAttrsOnly(in); plan != nil {
		return plan, FallbackNone
	}
	if in.dirty.Structural() {
		return nil, FallbackStructuralChange
	}
	return nil, FallbackUnsupportedDelta
}

// planComposition handles an active marked-text operation: replace
// exactly the requested range, fix the one node's text length, and
// leave the caret to the composition protocol.
func (p *Planner) planComposition(in *planInput) *Plan {
	co := in.composition
	if co == nil {
		return nil
	}
	plan := &Plan{Label: "composition", SkipSelection: true}
	plan.Instructions = append(plan.Instructions,
		Instruction{Op: OpDelete, Range: co.Range},
		Instruction{Op: OpInsert, Location: co.Range.Location, Key: co.Key, Part: PartLiteral, Literal: co.MarkedText},
	)
	plan.deltas = append(plan.deltas, partDelta{
		key:   co.Key,
		part:  PartText,
		delta: runeLen(co.MarkedText) - co.Range.Length,
	})
	return plan
}

// planTextOnly handles transactions where every dirty node is a text
// node whose content changed and nothing else. Each node contributes a
// minimal middle-span edit; deltas accumulate so the relocation pass
// runs once for the whole batch rather than once per node.
func (p *Planner) planTextOnly(in *planInput) *Plan {
	if len(in.dirty) == 0 {
		return nil
	}
	keys := make([]doctree.NodeKey, 0, len(in.dirty))
	for key, cause := range in.dirty {
		if cause != doctree.CauseText {
			return nil
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, _ := in.cache.Location(keys[i])
		lj, _ := in.cache.Location(keys[j])
		return li < lj
	})

	plan := &Plan{Label: "text"}
	shift := 0
	for _, key := range keys {
		prevNode, nextNode := in.prev.Get(key), in.next.Get(key)
		if prevNode == nil || nextNode == nil || nextNode.Kind != doctree.KindText {
			return nil
		}
		if prevNode.Preamble != nextNode.Preamble || prevNode.Postamble != nextNode.Postamble {
			return nil
		}
		textRange, ok := in.cache.NodeTextRange(key)
		if !ok {
			return nil
		}
		oldText, newText := []rune(prevNode.Text), []rune(nextNode.Text)

		if len(oldText) == len(newText) {
			// Equal length and the buffer already holds the new text:
			// attributes-only, nothing moves.
			current, err := in.buf.Substring(textRange)
			if err == nil && current == nextNode.Text {
				styled := in.styler.Style(in.next, nextNode, PartText, nextNode.Text)
				shifted := textbuf.Range{Location: textRange.Location + shift, Length: textRange.Length}
				plan.Instructions = append(plan.Instructions, Instruction{
					Op:    OpSetAttributes,
					Range: shifted,
					Key:   key,
					Attrs: styled.Attrs,
				})
				continue
			}
		}

		lcp := commonPrefix(oldText, newText)
		lcs := commonSuffix(oldText[lcp:], newText[lcp:])
		oldMid := oldText[lcp : len(oldText)-lcs]
		newMid := newText[lcp : len(newText)-lcs]
		styled := in.styler.Style(in.next, nextNode, PartText, string(newMid))
		plan.Instructions = append(plan.Instructions,
			Instruction{
				Op:    OpDelete,
				Range: textbuf.Range{Location: textRange.Location + lcp, Length: len(oldMid)},
			},
			Instruction{
				Op:       OpInsert,
				Location: textRange.Location + shift + lcp,
				Key:      key,
				Part:     PartLiteral,
				Literal:  string(newMid),
				Attrs:    styled.Attrs,
			},
		)
		delta := len(newMid) - len(oldMid)
		plan.deltas = append(plan.deltas, partDelta{key: key, part: PartText, delta: delta})
		shift += delta
	}
	return plan
}

// planBlockInsert handles a container gaining exactly one child with
// no removals. The inserted subtree goes in as one rendered insert; a
// changed postamble on the preceding sibling (a trailing separator) is
// folded into the same plan.
func (p *Planner) planBlockInsert(in *planInput) *Plan {
	parent := doctree.NodeKey("")
	for key, cause := range in.dirty {
		if cause != doctree.CauseChildren {
			continue
		}
		if parent != "" {
			return nil
		}
		parent = key
	}
	if parent == "" {
		return nil
	}
	prevParent, nextParent := in.prev.Get(parent), in.next.Get(parent)
	if prevParent == nil || nextParent == nil {
		return nil
	}
	newKey, insertIdx, ok := singleInsertion(prevParent.Children, nextParent.Children)
	if !ok {
		return nil
	}
	// Every other dirty key must belong to the inserted subtree, except
	// the preceding sibling's marker change handled below.
	inserted := subtreeKeySet(in.next, newKey)
	for key, cause := range in.dirty {
		if key == parent {
			continue
		}
		if insertIdx > 0 && key == nextParent.Children[insertIdx-1] && cause == doctree.CauseMarkers {
			continue
		}
		if _, ok := inserted[key]; !ok || cause == doctree.CauseChildren {
			return nil
		}
	}
	parentItem := in.cache.Item(parent)
	if parentItem == nil {
		return nil
	}
	parentLoc, _ := in.cache.Location(parent)
	offset := parentLoc + parentItem.PreambleLength
	for _, sib := range nextParent.Children[:insertIdx] {
		it := in.cache.Item(sib)
		if it == nil {
			return nil
		}
		offset += it.TotalLength()
	}

	plan := &Plan{Label: "block-insert"}

	// A preceding sibling's postamble may change with the insertion
	// (trailing separators).
	if insertIdx > 0 {
		sib := nextParent.Children[insertIdx-1]
		prevSib, nextSib := in.prev.Get(sib), in.next.Get(sib)
		if prevSib != nil && nextSib != nil && prevSib.Preamble != nextSib.Preamble {
			return nil
		}
		if prevSib != nil && nextSib != nil && prevSib.Postamble != nextSib.Postamble {
			sibItem := in.cache.Item(sib)
			if sibItem == nil {
				return nil
			}
			sibLoc, _ := in.cache.Location(sib)
			oldRange := textbuf.Range{
				Location: sibLoc + sibItem.PreambleLength + sibItem.ChildrenLength + sibItem.TextLength,
				Length:   sibItem.PostambleLength,
			}
			plan.Instructions = append(plan.Instructions,
				Instruction{Op: OpDelete, Range: oldRange},
				Instruction{Op: OpInsert, Location: oldRange.Location, Key: sib, Part: PartPostamble},
			)
			delta := runeLen(nextSib.Postamble) - sibItem.PostambleLength
			offset += delta
		}
	}

	plan.Instructions = append(plan.Instructions, Instruction{
		Op:       OpInsert,
		Location: offset,
		Key:      newKey,
		Part:     PartSubtree,
	})
	plan.recompute = append(plan.recompute, newKey)
	if insertIdx > 0 {
		plan.recompute = append(plan.recompute, nextParent.Children[insertIdx-1])
	}
	for key := range inserted {
		if in.next.Get(key).Kind == doctree.KindDecorator {
			plan.decoratorsAdded = append(plan.decoratorsAdded, key)
		}
	}
	return plan
}

// planReorder handles a container whose children changed only in
// order. The maximal stable subsequence minimizes moved nodes; when
// the moved fraction of the children region is small each moved child
// is re-inserted individually, otherwise the whole region is rebuilt
// in one replace. Either way only locations change.
func (p *Planner) planReorder(in *planInput) *Plan {
	if len(in.dirty) != 1 {
		return nil
	}
	var parent doctree.NodeKey
	for key, cause := range in.dirty {
		if cause != doctree.CauseChildren {
			return nil
		}
		parent = key
	}
	prevParent, nextParent := in.prev.Get(parent), in.next.Get(parent)
	if prevParent == nil || nextParent == nil {
		return nil
	}
	prevCh, nextCh := prevParent.Children, nextParent.Children
	if len(prevCh) != len(nextCh) || !sameKeySet(prevCh, nextCh) || equalKeyLists(prevCh, nextCh) {
		return nil
	}
	parentItem := in.cache.Item(parent)
	if parentItem == nil || parentItem.ChildrenLength == 0 {
		return nil
	}

	posInPrev := make(map[doctree.NodeKey]int, len(prevCh))
	for i, k := range prevCh {
		posInPrev[k] = i
	}
	seq := make([]int, len(nextCh))
	for i, k := range nextCh {
		seq[i] = posInPrev[k]
	}
	stable := make(map[doctree.NodeKey]struct{})
	for _, i := range longestIncreasing(seq) {
		stable[nextCh[i]] = struct{}{}
	}

	movedBytes := 0
	var moved []doctree.NodeKey
	for _, k := range nextCh {
		if _, ok := stable[k]; ok {
			continue
		}
		it := in.cache.Item(k)
		if it == nil {
			return nil
		}
		moved = append(moved, k)
		movedBytes += it.TotalLength()
	}

	parentLoc, _ := in.cache.Location(parent)
	regionStart := parentLoc + parentItem.PreambleLength
	plan := &Plan{Label: "reorder", reindexOnly: true}

	ratio := float64(movedBytes) / float64(parentItem.ChildrenLength)
	if ratio <= p.cfg.MoveRatioThreshold {
		// Minimal moves: compute each child's post-edit offset from the
		// new order, re-insert only the moved ones.
		offsets := make(map[doctree.NodeKey]int, len(nextCh))
		at := regionStart
		for _, k := range nextCh {
			offsets[k] = at
			at += in.cache.Item(k).TotalLength()
		}
		for _, k := range moved {
			whole, _ := in.cache.NodeWholeRange(k)
			plan.Instructions = append(plan.Instructions,
				Instruction{Op: OpDelete, Range: whole},
				Instruction{Op: OpInsert, Location: offsets[k], Key: k, Part: PartSubtree},
			)
		}
	} else {
		plan.Instructions = append(plan.Instructions,
			Instruction{Op: OpDelete, Range: textbuf.Range{Location: regionStart, Length: parentItem.ChildrenLength}},
			Instruction{Op: OpInsert, Location: regionStart, Key: parent, Part: PartChildren},
		)
	}
	return plan
}

// planRegionReplace handles two or more dirty nodes sharing a common
// structural ancestor whose descendant key-set is unchanged: the
// ancestor's children region is rebuilt in one replace.
func (p *Planner) planRegionReplace(in *planInput) *Plan {
	if len(in.dirty) < 2 {
		return nil
	}
	keys := make([]doctree.NodeKey, 0, len(in.dirty))
	for key, cause := range in.dirty {
		if cause == doctree.CauseChildren || cause == doctree.CauseCreated {
			return nil
		}
		if in.next.Get(key) == nil || in.prev.Get(key) == nil {
			return nil
		}
		keys = append(keys, key)
	}
	ancestor, ok := lowestCommonContainer(in.next, keys)
	if !ok {
		return nil
	}
	if _, dirtySelf := in.dirty[ancestor]; dirtySelf {
		return nil
	}
	if !sameSubtreeKeySet(in.prev, in.next, ancestor) {
		return nil
	}
	item := in.cache.Item(ancestor)
	if item == nil {
		return nil
	}
	loc, _ := in.cache.Location(ancestor)
	region := textbuf.Range{Location: loc + item.PreambleLength, Length: item.ChildrenLength}

	plan := &Plan{Label: "region-replace"}
	plan.Instructions = append(plan.Instructions,
		Instruction{Op: OpDelete, Range: region},
		Instruction{Op: OpInsert, Location: region.Location, Key: ancestor, Part: PartChildren},
	)
	plan.recompute = append(plan.recompute, ancestor)
	for key := range subtreeKeySet(in.next, ancestor) {
		if key != ancestor && in.next.Get(key).Kind == doctree.KindDecorator {
			plan.decoratorsDirty = append(plan.decoratorsDirty, key)
		}
	}
	return plan
}

// planAttrsOnly handles a single node whose preamble/postamble content
// changed without changing length (locale-dependent numbering and the
// like), or whose attributes alone changed: content swaps and restyles
// in place, nothing moves.
func (p *Planner) planAttrsOnly(in *planInput) *Plan {
	if len(in.dirty) != 1 {
		return nil
	}
	var key doctree.NodeKey
	var cause doctree.DirtyCause
	for k, c := range in.dirty {
		key, cause = k, c
	}
	if cause != doctree.CauseMarkers && cause != doctree.CauseAttrs {
		return nil
	}
	prevNode, nextNode := in.prev.Get(key), in.next.Get(key)
	if prevNode == nil || nextNode == nil {
		return nil
	}
	if prevNode.Text != nextNode.Text || !equalKeyLists(prevNode.Children, nextNode.Children) {
		return nil
	}
	item := in.cache.Item(key)
	if item == nil {
		return nil
	}
	loc, _ := in.cache.Location(key)
	plan := &Plan{Label: "attrs"}

	if prevNode.Preamble != nextNode.Preamble {
		if runeLen(prevNode.Preamble) != runeLen(nextNode.Preamble) {
			return nil
		}
		r := textbuf.Range{Location: loc, Length: item.PreambleLength}
		plan.Instructions = append(plan.Instructions,
			Instruction{Op: OpDelete, Range: r},
			Instruction{Op: OpInsert, Location: r.Location, Key: key, Part: PartPreamble},
		)
	}
	if prevNode.Postamble != nextNode.Postamble {
		if runeLen(prevNode.Postamble) != runeLen(nextNode.Postamble) {
			return nil
		}
		r := textbuf.Range{
			Location: loc + item.PreambleLength + item.ChildrenLength + item.TextLength,
			Length:   item.PostambleLength,
		}
		plan.Instructions = append(plan.Instructions,
			Instruction{Op: OpDelete, Range: r},
			Instruction{Op: OpInsert, Location: r.Location, Key: key, Part: PartPostamble},
		)
	}
	if !prevNode.AttrsEqual(nextNode) && item.TextLength > 0 {
		styled := in.styler.Style(in.next, nextNode, PartText, nextNode.Text)
		plan.Instructions = append(plan.Instructions, Instruction{
			Op:    OpSetAttributes,
			Range: textbuf.Range{Location: loc + item.PreambleLength + item.ChildrenLength, Length: item.TextLength},
			Key:   key,
			Attrs: styled.Attrs,
		})
	}
	if len(plan.Instructions) == 0 {
		return nil
	}
	return plan
}

// --- helpers ---

func commonPrefix(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

// singleInsertion reports whether next equals prev with exactly one
// extra key, returning that key and its index.
func singleInsertion(prev, next []doctree.NodeKey) (doctree.NodeKey, int, bool) {
	if len(next) != len(prev)+1 {
		return "", 0, false
	}
	i := 0
	for i < len(prev) && prev[i] == next[i] {
		i++
	}
	// next[i] is the candidate; the remainder must match.
	for j := i; j < len(prev); j++ {
		if prev[j] != next[j+1] {
			return "", 0, false
		}
	}
	return next[i], i, true
}

func subtreeKeySet(snap *doctree.Snapshot, key doctree.NodeKey) map[doctree.NodeKey]struct{} {
	set := make(map[doctree.NodeKey]struct{})
	_ = snap.Walk(key, func(n *doctree.Node) error {
		set[n.Key] = struct{}{}
		return nil
	})
	return set
}

func sameSubtreeKeySet(prev, next *doctree.Snapshot, key doctree.NodeKey) bool {
	a, b := subtreeKeySet(prev, key), subtreeKeySet(next, key)
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sameKeySet(a, b []doctree.NodeKey) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[doctree.NodeKey]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

func equalKeyLists(a, b []doctree.NodeKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lowestCommonContainer returns the deepest container that is a strict
// ancestor of every key.
func lowestCommonContainer(snap *doctree.Snapshot, keys []doctree.NodeKey) (doctree.NodeKey, bool) {
	if len(keys) == 0 {
		return "", false
	}
	chain := func(key doctree.NodeKey) []doctree.NodeKey {
		var out []doctree.NodeKey
		node := snap.Get(key)
		for node != nil && node.Key != doctree.RootKey {
			out = append(out, node.Parent)
			node = snap.Get(node.Parent)
		}
		return out
	}
	common := make(map[doctree.NodeKey]int)
	for _, key := range keys {
		seen := make(map[doctree.NodeKey]struct{})
		for _, a := range chain(key) {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			common[a]++
		}
	}
	// Deepest ancestor present in every chain: walk the first key's
	// chain from the bottom.
	for _, a := range chain(keys[0]) {
		if common[a] == len(keys) {
			node := snap.Get(a)
			if node != nil && node.IsContainer() {
				return a, true
			}
		}
	}
	return "", false
}

// longestIncreasing returns the positions of one longest strictly
// increasing subsequence of seq.
func longestIncreasing(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}
	tails := make([]int, 0, len(seq))  // positions of subsequence tails
	parent := make([]int, len(seq))
	for i, v := range seq {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if seq[tails[mid]] < v {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			parent[i] = tails[lo-1]
		} else {
			parent[i] = -1
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}
	out := make([]int, len(tails))
	k := tails[len(tails)-1]
	for i := len(tails) - 1; i >= 0; i-- {
		out[i] = k
		k = parent[k]
	}
	return out
}
