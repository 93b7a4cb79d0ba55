package fenwick

import "testing"

func TestPrefixSum(t *testing.T) {
	tr := New(8)
	values := []int{3, 0, 7, 2, 0, 4, 1, 5}
	for i, v := range values {
		tr.Update(i, v)
	}

	sum := 0
	for i, v := range values {
		sum += v
		if got := tr.PrefixSum(i); got != sum {
			t.Fatalf("PrefixSum(%d) = %d, want %d", i, got, sum)
		}
	}
}

func TestPrefixSumClamps(t *testing.T) {
	tr := New(4)
	for i := 0; i < 4; i++ {
		tr.Update(i, 1)
	}
	if got := tr.PrefixSum(-1); got != 0 {
		t.Fatalf("PrefixSum(-1) = %d, want 0", got)
	}
	if got := tr.PrefixSum(100); got != 4 {
		t.Fatalf("PrefixSum(100) = %d, want 4", got)
	}
}

func TestRangeSum(t *testing.T) {
	tr := New(6)
	for i := 0; i < 6; i++ {
		tr.Update(i, i+1) // 1..6
	}
	cases := []struct {
		from, to, want int
	}{
		{0, 5, 21},
		{1, 3, 9},
		{3, 3, 4},
		{4, 2, 0},
	}
	for _, c := range cases {
		if got := tr.RangeSum(c.from, c.to); got != c.want {
			t.Fatalf("RangeSum(%d,%d) = %d, want %d", c.from, c.to, got, c.want)
		}
	}
}

func TestUpdateAccumulates(t *testing.T) {
	tr := New(3)
	tr.Update(1, 5)
	tr.Update(1, -2)
	if got := tr.PrefixSum(1); got != 3 {
		t.Fatalf("PrefixSum(1) = %d, want 3", got)
	}
}

func TestFindFirstIndex(t *testing.T) {
	tr := New(5)
	// Prefix sums: 2, 2, 5, 9, 9.
	for i, v := range []int{2, 0, 3, 4, 0} {
		tr.Update(i, v)
	}
	cases := []struct {
		target, want int
	}{
		{1, 0},
		{2, 0},
		{3, 2},
		{5, 2},
		{6, 3},
		{9, 3},
		{10, -1},
	}
	for _, c := range cases {
		if got := tr.FindFirstIndex(c.target); got != c.want {
			t.Fatalf("FindFirstIndex(%d) = %d, want %d", c.target, got, c.want)
		}
	}
}

// The offset index stores locations as a difference array: slot i holds
// location(i) - location(i-1), so deltas may be negative while prefix
// sums stay monotone.
func TestDifferenceArrayShift(t *testing.T) {
	locations := []int{0, 4, 9, 15, 22}
	tr := New(len(locations))
	prev := 0
	for i, loc := range locations {
		tr.Update(i, loc-prev)
		prev = loc
	}
	for i, loc := range locations {
		if got := tr.PrefixSum(i); got != loc {
			t.Fatalf("slot %d = %d, want %d", i, got, loc)
		}
	}

	// Content at slot 1 grew by 3: everything from slot 2 shifts.
	tr.Update(2, 3)
	want := []int{0, 4, 12, 18, 25}
	for i, loc := range want {
		if got := tr.PrefixSum(i); got != loc {
			t.Fatalf("after shift, slot %d = %d, want %d", i, got, loc)
		}
	}

	// Shrink by more than the growth: slots move left.
	tr.Update(2, -5)
	want = []int{0, 4, 7, 13, 20}
	for i, loc := range want {
		if got := tr.PrefixSum(i); got != loc {
			t.Fatalf("after shrink, slot %d = %d, want %d", i, got, loc)
		}
	}
}

func TestEnsureCapacityPreservesValues(t *testing.T) {
	tr := New(3)
	for i, v := range []int{1, 2, 3} {
		tr.Update(i, v)
	}
	tr.EnsureCapacity(10)
	if tr.Size() < 10 {
		t.Fatalf("Size() = %d, want >= 10", tr.Size())
	}
	for i, want := range []int{1, 3, 6} {
		if got := tr.PrefixSum(i); got != want {
			t.Fatalf("after grow, PrefixSum(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestReset(t *testing.T) {
	tr := New(4)
	for i := 0; i < 4; i++ {
		tr.Update(i, 7)
	}
	tr.Reset()
	for i := 0; i < 4; i++ {
		if got := tr.PrefixSum(i); got != 0 {
			t.Fatalf("after Reset, PrefixSum(%d) = %d, want 0", i, got)
		}
	}
}

func TestValues(t *testing.T) {
	tr := New(4)
	in := []int{4, 0, -2, 9}
	for i, v := range in {
		tr.Update(i, v)
	}
	got := tr.Values()
	if len(got) != len(in) {
		t.Fatalf("Values() len = %d, want %d", len(got), len(in))
	}
	for i, v := range in {
		if got[i] != v {
			t.Fatalf("Values()[%d] = %d, want %d", i, got[i], v)
		}
	}
}
