// Package fenwick implements a binary indexed tree (Fenwick tree) over
// int values. It backs the reconciler's offset index: point updates and
// prefix sums in O(log n) let node locations be recomputed without
// re-walking the tree when content earlier in the buffer grows or
// shrinks.
package fenwick

// Tree is a binary indexed tree over zero-based positions. The zero
// value is unusable; construct with New.
type Tree struct {
	// nodes is 1-based as usual for Fenwick trees; nodes[0] is unused.
	nodes []int
	size  int
}

// New returns a tree covering positions [0, size).
func New(size int) *Tree {
	if size < 0 {
		size = 0
	}
	return &Tree{nodes: make([]int, size+1), size: size}
}

// Size returns the number of positions the tree covers.
func (t *Tree) Size() int {
	return t.size
}

// Update adds delta to the value at index. Index must be in [0, Size).
func (t *Tree) Update(index, delta int) {
	if index < 0 || index >= t.size {
		return
	}
	for i := index + 1; i <= t.size; i += i & (-i) {
		t.nodes[i] += delta
	}
}

// PrefixSum returns the sum of values over [0, index]. A negative index
// yields 0; an index at or past Size clamps to the full sum.
func (t *Tree) PrefixSum(index int) int {
	if index < 0 {
		return 0
	}
	if index >= t.size {
		index = t.size - 1
	}
	sum := 0
	for i := index + 1; i > 0; i -= i & (-i) {
		sum += t.nodes[i]
	}
	return sum
}

// RangeSum returns the sum of values over [lo, hi] inclusive.
func (t *Tree) RangeSum(lo, hi int) int {
	if hi < lo {
		return 0
	}
	return t.PrefixSum(hi) - t.PrefixSum(lo-1)
}

// FindFirstIndex returns the smallest index whose prefix sum is at
// least target, or -1 if no prefix reaches target. It binary-searches
// over PrefixSum, so it requires the prefix sums to be non-decreasing;
// with O(log n) prefix sums the search costs O(log^2 n).
func (t *Tree) FindFirstIndex(target int) int {
	if t.size == 0 || t.PrefixSum(t.size-1) < target {
		return -1
	}
	lo, hi := 0, t.size-1
	for lo < hi {
		mid := lo + (hi-lo)/2
		if t.PrefixSum(mid) >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// EnsureCapacity grows the tree to cover at least size positions,
// preserving existing values. Shrinking is not supported; a smaller
// size is a no-op.
func (t *Tree) EnsureCapacity(size int) {
	if size <= t.size {
		return
	}
	// Rebuild from raw values; growth is rare (new nodes entering the
	// tree) and O(n log n) keeps the code simple.
	values := t.Values()
	t.nodes = make([]int, size+1)
	t.size = size
	for i, v := range values {
		if v != 0 {
			t.Update(i, v)
		}
	}
}

// Reset zeroes all values, keeping the current capacity.
func (t *Tree) Reset() {
	for i := range t.nodes {
		t.nodes[i] = 0
	}
}

// Values returns the raw per-position values. Intended for diagnostics
// and rebuilds, not hot paths.
func (t *Tree) Values() []int {
	out := make([]int, t.size)
	for i := 0; i < t.size; i++ {
		out[i] = t.RangeSum(i, i)
	}
	return out
}
