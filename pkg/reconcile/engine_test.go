package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// recordSink captures metrics records for assertions.
type recordSink struct {
	mu      sync.Mutex
	paths   []string
	reasons []FallbackReason
}

func (r *recordSink) Record(pathLabel string, _ time.Duration, _ DeltaCounts, fb FallbackReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, pathLabel)
	r.reasons = append(r.reasons, fb)
}

func (r *recordSink) lastPath(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		t.Fatal("no transactions recorded")
	}
	return r.paths[len(r.paths)-1]
}

// recordSelection captures native selection calls.
type recordSelection struct {
	ranges []textbuf.Range
	resets int
}

func (r *recordSelection) SetSelectedRange(rng textbuf.Range) { r.ranges = append(r.ranges, rng) }
func (r *recordSelection) ResetCaret()                        { r.resets++ }

// recordHost captures decorator lifecycle calls.
type recordHost struct {
	created, mounted, unmounted, decorated []doctree.NodeKey
	mountAt                                map[doctree.NodeKey]int
}

func newRecordHost() *recordHost {
	return &recordHost{mountAt: make(map[doctree.NodeKey]int)}
}

func (h *recordHost) Create(k doctree.NodeKey) { h.created = append(h.created, k) }
func (h *recordHost) Mount(k doctree.NodeKey, at int) {
	h.mounted = append(h.mounted, k)
	h.mountAt[k] = at
}
func (h *recordHost) Unmount(k doctree.NodeKey)  { h.unmounted = append(h.unmounted, k) }
func (h *recordHost) Decorate(k doctree.NodeKey) { h.decorated = append(h.decorated, k) }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *textbuf.AttrBuffer, *recordSink) {
	t.Helper()
	buf := textbuf.NewAttrBuffer()
	sink := &recordSink{}
	opts = append([]Option{WithMetricsSink(sink)}, opts...)
	e := New(buf, opts...)
	if err := e.Load(makeDoc(t)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e, buf, sink
}

func checkEngineConverged(t *testing.T, e *Engine, buf *textbuf.AttrBuffer) {
	t.Helper()
	want := fullRender(t, e.Snapshot())
	if got := buf.String(); got != want {
		t.Fatalf("buffer = %q, want %q", got, want)
	}
	if err := e.cache.Validate(e.Snapshot()); err != nil {
		t.Fatalf("cache drifted: %v", err)
	}
}

func TestEngineLoad(t *testing.T) {
	e, buf, _ := newTestEngine(t)
	if got := buf.String(); got != "hello\nworld\n" {
		t.Fatalf("buffer = %q", got)
	}
	text, err := e.Text()
	if err != nil || text != "hello\nworld\n" {
		t.Fatalf("Text() = %q, %v", text, err)
	}
	if e.Len() != 12 {
		t.Fatalf("Len() = %d", e.Len())
	}
}

func TestEngineTyping(t *testing.T) {
	e, buf, sink := newTestEngine(t)
	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.SetText("t1", "hello there")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if got := sink.lastPath(t); got != "fast:text" {
		t.Fatalf("path = %q, want fast:text", got)
	}
}

func TestEngineParagraphInsert(t *testing.T) {
	e, buf, sink := newTestEngine(t)
	err := e.Update(context.Background(), func(tx *Tx) error {
		if err := tx.InsertNode(doctree.RootKey, doctree.NewElement("p3", "", "\n"), 1); err != nil {
			return err
		}
		return tx.InsertNode("p3", doctree.NewText("t3", "between"), 0)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if got := buf.String(); got != "hello\nbetween\nworld\n" {
		t.Fatalf("buffer = %q", got)
	}
	if got := sink.lastPath(t); got != "fast:block-insert" {
		t.Fatalf("path = %q, want fast:block-insert", got)
	}
}

func TestEngineReorder(t *testing.T) {
	e, buf, sink := newTestEngine(t)
	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.ReorderChildren(doctree.RootKey, []doctree.NodeKey{"p2", "p1"})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if got := buf.String(); got != "world\nhello\n" {
		t.Fatalf("buffer = %q", got)
	}
	if got := sink.lastPath(t); got != "fast:reorder" {
		t.Fatalf("path = %q, want fast:reorder", got)
	}
}

func TestEngineComposition(t *testing.T) {
	e, buf, sink := newTestEngine(t, WithNativeSelection(&recordSelection{}))
	err := e.Update(context.Background(), func(tx *Tx) error {
		tx.SetComposition("t1", textbuf.Range{Location: 2, Length: 3}, "りん")
		return tx.SetText("t1", "heりん")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if got := sink.lastPath(t); got != "fast:composition" {
		t.Fatalf("path = %q, want fast:composition", got)
	}
}

func TestEngineRemovalFallsBackToFull(t *testing.T) {
	e, buf, sink := newTestEngine(t)
	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.RemoveNode("p1")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if got := buf.String(); got != "world\n" {
		t.Fatalf("buffer = %q", got)
	}
	if got := sink.lastPath(t); got != "full" {
		t.Fatalf("path = %q, want full", got)
	}
	sink.mu.Lock()
	reason := sink.reasons[len(sink.reasons)-1]
	sink.mu.Unlock()
	if reason != FallbackStructuralChange {
		t.Fatalf("reason = %q, want %q", reason, FallbackStructuralChange)
	}
}

func TestEngineStrictModeShadowAgrees(t *testing.T) {
	e, buf, _ := newTestEngine(t, WithConfig(Config{StrictMode: true}))
	ctx := context.Background()
	steps := []func(tx *Tx) error{
		func(tx *Tx) error { return tx.SetText("t1", "one") },
		func(tx *Tx) error { return tx.SetText("t2", "two three") },
		func(tx *Tx) error {
			return tx.ReorderChildren(doctree.RootKey, []doctree.NodeKey{"p2", "p1"})
		},
		func(tx *Tx) error { return tx.SetAttributes("t1", doctree.Attributes{"bold": "true"}) },
	}
	for i, step := range steps {
		if err := e.Update(ctx, step); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		checkEngineConverged(t, e, buf)
	}
}

func TestEngineNestedUpdateFlattens(t *testing.T) {
	e, buf, sink := newTestEngine(t)
	err := e.Update(context.Background(), func(tx *Tx) error {
		if err := tx.SetText("t1", "outer"); err != nil {
			return err
		}
		return e.Update(context.Background(), func(inner *Tx) error {
			if inner != tx {
				t.Fatal("nested update must join the enclosing transaction")
			}
			return inner.SetText("t2", "inner")
		})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if got := buf.String(); got != "outer\ninner\n" {
		t.Fatalf("buffer = %q", got)
	}
	sink.mu.Lock()
	n := len(sink.paths)
	sink.mu.Unlock()
	if n != 1 {
		t.Fatalf("nested update reconciled %d times, want 1", n)
	}
}

func TestEngineErrorDiscardsTransaction(t *testing.T) {
	e, buf, _ := newTestEngine(t)
	boom := errors.New("boom")
	err := e.Update(context.Background(), func(tx *Tx) error {
		if err := tx.SetText("t1", "mutated"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := buf.String(); got != "hello\nworld\n" {
		t.Fatalf("buffer mutated despite error: %q", got)
	}
	if e.Snapshot().Get("t1").Text != "hello" {
		t.Fatal("tree mutated despite error")
	}
}

func TestEngineSelection(t *testing.T) {
	native := &recordSelection{}
	e, _, _ := newTestEngine(t, WithNativeSelection(native))
	err := e.Update(context.Background(), func(tx *Tx) error {
		if err := tx.SetText("t1", "hello!"); err != nil {
			return err
		}
		tx.SetSelection(Caret("t2", 3))
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	// t2's text starts at 7 after t1 grew by one.
	if len(native.ranges) != 1 {
		t.Fatalf("SetSelectedRange called %d times", len(native.ranges))
	}
	if got := native.ranges[0]; got.Location != 10 || got.Length != 0 {
		t.Fatalf("caret at %v, want {10,0}", got)
	}
}

func TestEngineSelectionClampsOffset(t *testing.T) {
	native := &recordSelection{}
	e, _, _ := newTestEngine(t, WithNativeSelection(native))
	err := e.Update(context.Background(), func(tx *Tx) error {
		tx.SetSelection(Caret("t1", 99))
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := native.ranges[0]; got.Location != 5 {
		t.Fatalf("caret at %v, want clamped to 5", got)
	}
}

func TestEngineTransformsReachFixedPoint(t *testing.T) {
	e, buf, _ := newTestEngine(t)
	// Normalize text to upper case; idempotent, so one extra pass
	// settles.
	e.RegisterTransform(func(tx *Tx, node *doctree.Node) error {
		if node.Kind != doctree.KindText {
			return nil
		}
		if upper := strings.ToUpper(node.Text); upper != node.Text {
			return tx.SetText(node.Key, upper)
		}
		return nil
	})
	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.SetText("t1", "shouting")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := e.Snapshot().Get("t1").Text; got != "SHOUTING" {
		t.Fatalf("t1 = %q", got)
	}
	checkEngineConverged(t, e, buf)
}

func TestEngineTransformRunaway(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.RegisterTransform(func(tx *Tx, node *doctree.Node) error {
		if node.Kind != doctree.KindText {
			return nil
		}
		// Never settles.
		return tx.SetText(node.Key, node.Text+"!")
	})
	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.SetText("t1", "go")
	})
	if !errors.Is(err, ErrTransformRunaway) {
		t.Fatalf("err = %v, want ErrTransformRunaway", err)
	}
}

func TestEngineDecoratorLifecycle(t *testing.T) {
	host := newRecordHost()
	e, buf, _ := newTestEngine(t, WithDecoratorHost(host))

	err := e.Update(context.Background(), func(tx *Tx) error {
		d := doctree.NewDecorator("d1")
		d.Preamble = "￼"
		return tx.InsertNode(doctree.RootKey, d, 1)
	})
	if err != nil {
		t.Fatalf("insert decorator: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if len(host.created) != 1 || host.created[0] != "d1" {
		t.Fatalf("created = %v", host.created)
	}
	if at, ok := host.mountAt["d1"]; !ok || at != 6 {
		t.Fatalf("mounted at %d (%v), want 6", at, ok)
	}

	err = e.Update(context.Background(), func(tx *Tx) error {
		return tx.RemoveNode("d1")
	})
	if err != nil {
		t.Fatalf("remove decorator: %v", err)
	}
	if len(host.unmounted) != 1 || host.unmounted[0] != "d1" {
		t.Fatalf("unmounted = %v", host.unmounted)
	}
	checkEngineConverged(t, e, buf)
}

func TestEngineObserverAndListener(t *testing.T) {
	var deltas []AppliedDelta
	var commits int
	e, _, _ := newTestEngine(t, WithDeltaObserver(func(d []AppliedDelta) {
		deltas = append(deltas, d...)
	}))
	e.RegisterListener(func(*doctree.Snapshot) { commits++ })

	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.SetText("t1", "observed")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(deltas) == 0 {
		t.Fatal("observer saw no deltas")
	}
	if commits != 1 {
		t.Fatalf("listener fired %d times, want 1", commits)
	}
}

func TestEngineListenerOpensNewTransaction(t *testing.T) {
	e, buf, sink := newTestEngine(t)
	fired := false
	e.RegisterListener(func(*doctree.Snapshot) {
		if fired {
			return
		}
		fired = true
		err := e.Update(context.Background(), func(tx *Tx) error {
			return tx.SetText("t2", "from-listener")
		})
		if err != nil {
			t.Errorf("listener update: %v", err)
		}
	})

	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.SetText("t1", "edited")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The listener's edit is a fresh transaction, reconciled on its
	// own, not folded into the already-sealed outer one.
	if got := e.Snapshot().Get("t2").Text; got != "from-listener" {
		t.Fatalf("t2 = %q, want listener's edit committed", got)
	}
	if got := buf.String(); got != "edited\nfrom-listener\n" {
		t.Fatalf("buffer = %q", got)
	}
	checkEngineConverged(t, e, buf)
	sink.mu.Lock()
	n := len(sink.paths)
	sink.mu.Unlock()
	if n != 2 {
		t.Fatalf("recorded %d transactions, want 2", n)
	}
}

func TestEngineRecoversFromInvariantViolation(t *testing.T) {
	e, buf, sink := newTestEngine(t)

	// Corrupt the cached geometry so the first attempt trips the
	// invariant check; the engine must reset and retry on the full path.
	e.cache.Item("t2").TextLength += 3
	e.cache.Item("p2").ChildrenLength += 3
	e.cache.Item(doctree.RootKey).ChildrenLength += 3

	err := e.Update(context.Background(), func(tx *Tx) error {
		return tx.SetText("t1", "fixed")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	checkEngineConverged(t, e, buf)
	if got := buf.String(); got != "fixed\nworld\n" {
		t.Fatalf("buffer = %q", got)
	}
	sink.mu.Lock()
	reason := sink.reasons[len(sink.reasons)-1]
	sink.mu.Unlock()
	if reason != FallbackSanityCheckFailed {
		t.Fatalf("reason = %q, want %q", reason, FallbackSanityCheckFailed)
	}
}

func TestEngineClosed(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := e.Update(context.Background(), func(tx *Tx) error { return nil })
	if !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("err = %v, want ErrEngineClosed", err)
	}
	if err := e.Load(makeDoc(t)); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("Load err = %v, want ErrEngineClosed", err)
	}
}

func TestEngineSelectionOnlyTransaction(t *testing.T) {
	native := &recordSelection{}
	e, _, sink := newTestEngine(t, WithNativeSelection(native))
	err := e.Update(context.Background(), func(tx *Tx) error {
		tx.SetSelection(Caret("t1", 2))
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(native.ranges) != 1 || native.ranges[0].Location != 2 {
		t.Fatalf("ranges = %v", native.ranges)
	}
	sink.mu.Lock()
	n := len(sink.paths)
	sink.mu.Unlock()
	if n != 0 {
		t.Fatalf("selection-only transaction recorded %d metrics", n)
	}
}
