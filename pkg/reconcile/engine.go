package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Transform is a node transform: it runs against every dirty node until
// the tree reaches a fixed point, before reconciliation. Transforms
// mutate through the transaction like any other caller.
type Transform func(tx *Tx, node *doctree.Node) error

// Listener is notified with the committed snapshot after every
// successful transaction. Listeners run after the transaction has
// fully unwound, so a listener may open a new transaction of its own;
// it is reconciled independently.
type Listener func(snap *doctree.Snapshot)

// InstructionApplier executes an instruction list against the buffer.
// BufferApplier is the default; the anchor-aware applier is the
// alternative, selectable via WithApplier.
type InstructionApplier interface {
	Apply(snap *doctree.Snapshot, instrs []Instruction) ([]AppliedDelta, error)
}

// Engine owns the document tree, the range cache, and the buffer, and
// drives every transaction through the optimized-or-full reconciliation
// pipeline.
//
// Update must be called from the engine's owning goroutine; read
// accessors (Text, Snapshot, Len) are safe from any goroutine.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	buf    textbuf.Buffer
	styler Styler

	cache    *RangeCache
	applier  InstructionApplier
	resolver PositionResolver
	native   NativeSelection
	host     DecoratorHost
	sink     MetricsSink
	tracer   trace.Tracer
	planner  *Planner
	fallback *FallbackDetector
	reporter DivergenceReporter
	observer func([]AppliedDelta)

	transforms []Transform
	listeners  []Listener

	mu        sync.Mutex
	current   *doctree.Snapshot
	selection *Selection
	active    *Tx
	closed    bool
	shadowSeq int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithStyler sets the styler resolving node attributes into buffer
// attributes. Default: PlainStyler.
func WithStyler(s Styler) Option {
	return func(e *Engine) { e.styler = s }
}

// WithDecoratorHost sets the decorator lifecycle host.
func WithDecoratorHost(h DecoratorHost) Option {
	return func(e *Engine) { e.host = h }
}

// WithMetricsSink sets the per-transaction metrics sink.
func WithMetricsSink(s MetricsSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithNativeSelection sets the platform selection target.
func WithNativeSelection(n NativeSelection) Option {
	return func(e *Engine) { e.native = n }
}

// WithTracer sets the tracer for per-transaction spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithDivergenceReporter sets where shadow-compare divergence reports
// are persisted.
func WithDivergenceReporter(r DivergenceReporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithDeltaObserver registers a callback receiving the applied buffer
// deltas of every transaction, in execution order.
func WithDeltaObserver(fn func([]AppliedDelta)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithPositionResolver overrides the strategy mapping nodes to buffer
// positions. Default: the engine's range cache.
func WithPositionResolver(r PositionResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithApplier overrides how instructions are executed against the
// buffer. Default: BufferApplier.
func WithApplier(a InstructionApplier) Option {
	return func(e *Engine) { e.applier = a }
}

// New returns an engine mutating buf, holding an empty document.
func New(buf textbuf.Buffer, opts ...Option) *Engine {
	e := &Engine{
		buf:     buf,
		styler:  PlainStyler{},
		cache:   NewRangeCache(),
		native:  NopNativeSelection{},
		host:    NopDecoratorHost{},
		sink:    NopSink{},
		current: doctree.NewSnapshot(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.Normalize()
	e.log = e.cfg.Logger
	if e.resolver == nil {
		e.resolver = e.cache
	}
	if e.applier == nil {
		e.applier = NewBufferApplier(e.buf, e.styler)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("weft/reconcile")
	}
	e.planner = NewPlanner(e.cfg)
	e.fallback = NewFallbackDetector(e.cfg)
	e.cache.Rebuild(e.current)
	return e
}

// RegisterTransform adds a node transform. Transforms run in
// registration order.
func (e *Engine) RegisterTransform(t Transform) {
	e.transforms = append(e.transforms, t)
}

// RegisterListener adds a committed-snapshot listener.
func (e *Engine) RegisterListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Snapshot returns the committed tree.
func (e *Engine) Snapshot() *doctree.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Selection returns the committed logical selection, or nil.
func (e *Engine) Selection() *Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selection
}

// Len returns the buffer length in runes.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Length()
}

// Text returns the full buffer text.
func (e *Engine) Text() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Substring(textbuf.Range{Location: 0, Length: e.buf.Length()})
}

// Resolver returns the active position resolver.
func (e *Engine) Resolver() PositionResolver {
	return e.resolver
}

// Close marks the engine closed; further updates fail with
// ErrEngineClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Load replaces the document wholesale: the snapshot is validated, the
// buffer re-rendered from scratch, and the range cache rebuilt.
func (e *Engine) Load(snap *doctree.Snapshot) error {
	if err := e.load(snap); err != nil {
		return err
	}
	for _, l := range e.listeners {
		l(snap)
	}
	return nil
}

func (e *Engine) load(snap *doctree.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := e.renderAll(snap); err != nil {
		return err
	}
	e.cache.Rebuild(snap)
	e.current = snap
	e.selection = nil
	return nil
}

// Update runs fn inside a transaction and reconciles the result into
// the buffer. Nested Update calls from within fn join the enclosing
// transaction; only the outermost return triggers reconciliation. An
// error from fn discards the transaction untouched.
//
// Listeners fire after the transaction has released the engine, so an
// Update made from a listener opens a fresh, independently reconciled
// transaction.
func (e *Engine) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if e.active != nil {
		return fn(e.active)
	}
	committed, err := e.runUpdate(ctx, fn)
	if err != nil || committed == nil {
		return err
	}
	for _, l := range e.listeners {
		l(committed)
	}
	return nil
}

// runUpdate holds the engine for one transaction and returns the
// committed snapshot when listeners should be notified.
func (e *Engine) runUpdate(ctx context.Context, fn func(tx *Tx) error) (*doctree.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	tx := newTx(e)
	e.active = tx
	defer func() { e.active = nil }()

	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := e.runTransforms(tx); err != nil {
		return nil, err
	}
	return e.reconcile(ctx, tx)
}

// runTransforms drives registered transforms to a fixed point: each
// pass visits every dirty node; a pass that performs no mutation ends
// the loop. Runaway transactions fail rather than spin.
func (e *Engine) runTransforms(tx *Tx) error {
	if len(e.transforms) == 0 || len(tx.dirty) == 0 {
		return nil
	}
	for pass := 0; ; pass++ {
		if pass >= e.cfg.MaxTransformPasses {
			return ErrTransformRunaway
		}
		before := tx.marks
		keys := make([]doctree.NodeKey, 0, len(tx.dirty))
		for key := range tx.dirty {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, key := range keys {
			node := tx.Node(key)
			if node == nil {
				continue
			}
			for _, transform := range e.transforms {
				if err := transform(tx, node); err != nil {
					return err
				}
			}
		}
		if tx.marks == before {
			return nil
		}
	}
}

// reconcileOutcome carries the result of one reconciliation attempt.
type reconcileOutcome struct {
	label         string
	reason        FallbackReason
	applied       []AppliedDelta
	skipSelection bool
}

// reconcile seals the transaction and runs the pipeline: plan or full,
// invariant check, selection, observers, metrics, commit. An invariant
// violation resets the editor state from the committed tree and retries
// once on the full path; a second failure surfaces as
// ErrTransactionFailed. The returned snapshot, when non-nil, is the
// commit the caller must announce to listeners once the transaction has
// unwound.
func (e *Engine) reconcile(ctx context.Context, tx *Tx) (*doctree.Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "weft.reconcile")
	defer span.End()

	pending := tx.snapshot()
	if e.cfg.StrictMode {
		if err := pending.Validate(); err != nil {
			return nil, err
		}
	}
	start := time.Now()

	if len(tx.dirty) == 0 && tx.composition == nil {
		return nil, e.commitSelectionOnly(tx, pending)
	}

	out, err := e.reconcileOnce(ctx, tx, pending, FallbackNone)
	if err != nil {
		if !IsInvariant(err) {
			return nil, err
		}
		e.log.Error("reconciliation invariant violation, resetting state",
			slog.String("error", err.Error()))
		if rerr := e.reset(); rerr != nil {
			return nil, fmt.Errorf("%w: reset after %v: %v", ErrTransactionFailed, err, rerr)
		}
		out, err = e.reconcileOnce(ctx, tx, pending, FallbackSanityCheckFailed)
		if err != nil {
			if rerr := e.reset(); rerr != nil {
				e.log.Error("state reset failed", slog.String("error", rerr.Error()))
			}
			return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}
	}
	span.SetAttributes(
		attribute.String("weft.path", out.label),
		attribute.Int("weft.dirty", len(tx.dirty)),
		attribute.String("weft.fallback", string(out.reason)),
	)

	if !out.skipSelection {
		sel := e.selection
		if tx.selectionSet {
			sel = tx.selection
		}
		rec := NewSelectionReconciler(e.resolver, e.native)
		if serr := rec.Reconcile(sel, len(tx.dirty) > 0); serr != nil {
			// A stale selection never fails the transaction; drop the
			// caret instead.
			e.log.Warn("selection unresolvable after edit", slog.String("error", serr.Error()))
			e.native.ResetCaret()
			sel = nil
		}
		e.selection = sel
	} else if tx.selectionSet {
		e.selection = tx.selection
	}

	e.current = pending
	if e.observer != nil && len(out.applied) > 0 {
		e.observer(out.applied)
	}
	e.sink.Record(out.label, time.Since(start), DeltaCounts{
		Inserts:  countOps(out.applied, OpInsert),
		Deletes:  countOps(out.applied, OpDelete),
		AttrSets: countOps(out.applied, OpSetAttributes),
		Dirty:    len(tx.dirty),
	}, out.reason)
	return pending, nil
}

// commitSelectionOnly handles transactions that touched no content.
func (e *Engine) commitSelectionOnly(tx *Tx, pending *doctree.Snapshot) error {
	if tx.selectionSet {
		rec := NewSelectionReconciler(e.resolver, e.native)
		if err := rec.Reconcile(tx.selection, false); err != nil {
			return err
		}
		e.selection = tx.selection
	}
	e.current = pending
	return nil
}

// reconcileOnce runs one reconciliation attempt. force, when non-empty,
// bypasses the planner and records the given reason.
func (e *Engine) reconcileOnce(ctx context.Context, tx *Tx, pending *doctree.Snapshot, force FallbackReason) (reconcileOutcome, error) {
	out := reconcileOutcome{reason: force, skipSelection: tx.composition != nil}

	var plan *Plan
	if force == FallbackNone {
		if reason := e.fallback.Evaluate(tx.dirty, pending, e.buf.Length()); reason != FallbackNone {
			out.reason = reason
		} else {
			plan, out.reason = e.planner.Plan(&planInput{
				prev:        e.current,
				next:        pending,
				dirty:       tx.dirty,
				cache:       e.cache,
				buf:         e.buf,
				styler:      e.styler,
				composition: tx.composition,
			})
		}
	}

	if plan != nil {
		out.label = "fast:" + plan.Label
		out.skipSelection = out.skipSelection || plan.SkipSelection
		applied, diverged, err := e.applyPlan(ctx, tx, pending, plan)
		if err != nil {
			e.fallback.RecordFailure()
			return out, err
		}
		out.applied = applied
		if diverged {
			out.label = "full"
			out.reason = FallbackSanityCheckFailed
			e.fallback.RecordFailure()
		} else {
			e.fallback.RecordSuccess()
		}
	} else {
		out.label = "full"
		applied, err := e.applyFull(pending, tx.dirty)
		if err != nil {
			return out, err
		}
		out.applied = applied
		if out.reason != FallbackNone {
			e.log.Debug("optimized path declined",
				slog.String("reason", string(out.reason)),
				slog.Int("dirty", len(tx.dirty)))
		}
	}

	if got, want := e.cache.TotalLength(), e.buf.Length(); got != want {
		return out, invariantf(doctree.RootKey,
			"cached document length %d disagrees with buffer length %d", got, want)
	}
	return out, nil
}

// applyFull runs the keyed tree diff and applies its instructions,
// installing the freshly computed geometry afterwards.
func (e *Engine) applyFull(pending *doctree.Snapshot, dirty doctree.DirtyMap) ([]AppliedDelta, error) {
	result, err := FullDiff(e.current, pending, dirty.WithAncestors(pending), e.cache)
	if err != nil {
		return nil, err
	}
	adds, removes, decorates := decoratorWork(result.DecoratorsAdded, result.DecoratorsRemoved, result.DecoratorsDirty)
	for _, key := range removes {
		e.host.Unmount(key)
	}
	applied, err := e.applier.Apply(pending, result.Instructions)
	if err != nil {
		return applied, err
	}
	e.cache.Install(pending, result.Items)
	e.mountDecorators(adds, decorates)
	return applied, nil
}

// applyPlan applies a fast-path plan, optionally shadow-comparing it
// against a full rebuild first. On divergence the buffer is restored,
// the full result applied instead, and diverged returned true.
func (e *Engine) applyPlan(ctx context.Context, tx *Tx, pending *doctree.Snapshot, plan *Plan) (applied []AppliedDelta, diverged bool, err error) {
	rb, restorable := e.buf.(restorableBuffer)
	if restorable && e.shadowWanted() {
		return e.applyPlanShadowed(ctx, tx, pending, plan, rb)
	}

	applied, err = e.applier.Apply(pending, plan.Instructions)
	if err != nil {
		return applied, false, err
	}
	if err := e.planCacheOps(pending, plan); err != nil {
		return applied, false, err
	}
	e.mountDecorators(plan.decoratorsAdded, plan.decoratorsDirty)
	return applied, false, nil
}

// applyPlanShadowed runs the plan with the sanity check: the full diff
// is applied to a clone, the plan to the real buffer, and the two
// compared byte for byte.
func (e *Engine) applyPlanShadowed(ctx context.Context, tx *Tx, pending *doctree.Snapshot, plan *Plan, rb restorableBuffer) ([]AppliedDelta, bool, error) {
	pre := rb.Clone()
	shadow := rb.Clone()

	// The full diff reads committed geometry, so it must run before any
	// cache maintenance.
	full, ferr := FullDiff(e.current, pending, tx.dirty.WithAncestors(pending), e.cache)
	var fullText string
	shadowOK := false
	if ferr == nil {
		shadowApplier := NewBufferApplier(shadow, e.styler)
		if _, serr := shadowApplier.Apply(pending, full.Instructions); serr == nil {
			fullText = shadow.String()
			shadowOK = true
		}
	}

	applied, err := e.applier.Apply(pending, plan.Instructions)
	if err != nil {
		return applied, false, err
	}

	if shadowOK && rb.String() != fullText {
		rep := DivergenceReport{
			At:           time.Now(),
			PathLabel:    plan.Label,
			PreText:      pre.String(),
			FastText:     rb.String(),
			FullText:     fullText,
			Instructions: instructionStrings(plan.Instructions),
			DirtyCount:   len(tx.dirty),
		}
		e.log.Error("fast path diverged from full rebuild",
			slog.String("path", plan.Label),
			slog.Int("dirty", len(tx.dirty)))
		if e.reporter != nil {
			if rerr := e.reporter.Report(ctx, rep); rerr != nil {
				e.log.Warn("divergence report not persisted", slog.String("error", rerr.Error()))
			}
		}

		// Recover onto the full result: the cache never saw the plan's
		// maintenance, so the committed geometry is still valid.
		rb.Restore(pre)
		fullApplied, aerr := e.applier.Apply(pending, full.Instructions)
		if aerr != nil {
			return fullApplied, true, aerr
		}
		e.cache.Install(pending, full.Items)
		adds, removes, decorates := decoratorWork(full.DecoratorsAdded, full.DecoratorsRemoved, full.DecoratorsDirty)
		for _, key := range removes {
			e.host.Unmount(key)
		}
		e.mountDecorators(adds, decorates)
		return fullApplied, true, nil
	}

	if err := e.planCacheOps(pending, plan); err != nil {
		return applied, false, err
	}
	e.mountDecorators(plan.decoratorsAdded, plan.decoratorsDirty)
	return applied, false, nil
}

// planCacheOps performs the cache maintenance a plan deferred until
// after the buffer mutation (and, when shadowed, after the comparison).
func (e *Engine) planCacheOps(pending *doctree.Snapshot, plan *Plan) error {
	for _, d := range plan.deltas {
		if err := e.cache.ApplyPartDelta(pending, d.key, d.part, d.delta); err != nil {
			return err
		}
	}
	if len(plan.deltas) > 0 {
		e.cache.SyncLocations()
	}
	if len(plan.recompute) > 0 {
		for _, key := range plan.recompute {
			if err := e.cache.RecomputeSubtree(pending, key); err != nil {
				return err
			}
		}
		e.cache.Reindex(pending)
	} else if plan.reindexOnly {
		e.cache.Reindex(pending)
	}
	return nil
}

// mountDecorators fires Create+Mount for new decorators (at their
// settled locations) and Decorate for refreshed ones.
func (e *Engine) mountDecorators(adds, decorates []doctree.NodeKey) {
	for _, key := range adds {
		e.host.Create(key)
		if loc, ok := e.cache.Location(key); ok {
			e.host.Mount(key, loc)
		}
	}
	for _, key := range decorates {
		e.host.Decorate(key)
	}
}

// shadowWanted decides whether this optimized transaction is
// shadow-compared.
func (e *Engine) shadowWanted() bool {
	if e.cfg.StrictMode {
		return true
	}
	if e.cfg.ShadowSampleEvery <= 0 {
		return false
	}
	e.shadowSeq++
	return e.shadowSeq%e.cfg.ShadowSampleEvery == 0
}

// reset rebuilds buffer and cache from the committed tree. The last
// line of defense: correctness over preserving a broken intermediate
// state.
func (e *Engine) reset() error {
	if err := e.renderAll(e.current); err != nil {
		return err
	}
	e.cache.Rebuild(e.current)
	return nil
}

// renderAll replaces the entire buffer with a fresh render of snap.
func (e *Engine) renderAll(snap *doctree.Snapshot) error {
	pieces, err := renderSubtree(snap, e.styler, snap.Root())
	if err != nil {
		return err
	}
	text := styledConcat(pieces)
	if err := e.buf.ReplaceCharacters(textbuf.Range{Location: 0, Length: e.buf.Length()}, text); err != nil {
		return err
	}
	at := 0
	for _, p := range pieces {
		n := p.Len()
		if len(p.Attrs) > 0 {
			if err := e.buf.SetAttributes(p.Attrs, textbuf.Range{Location: at, Length: n}); err != nil {
				return err
			}
		}
		at += n
	}
	if at > 0 {
		if err := e.buf.FixAttributes(textbuf.Range{Location: 0, Length: at}); err != nil {
			return err
		}
	}
	return nil
}

func countOps(applied []AppliedDelta, op OpKind) int {
	n := 0
	for _, d := range applied {
		if d.Op == op {
			n++
		}
	}
	return n
}
