// Command weft-bench exercises the reconciliation engine with a
// synthetic editing session and reports latency percentiles and path
// distribution.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/reconcile"
	"github.com/weft-dev/weft/pkg/textbuf"
)

type profile struct {
	Name       string
	Paragraphs int
	Iterations int
}

var profiles = map[string]profile{
	"fast":     {Name: "fast", Paragraphs: 50, Iterations: 2_000},
	"standard": {Name: "standard", Paragraphs: 200, Iterations: 20_000},
	"stress":   {Name: "stress", Paragraphs: 1_000, Iterations: 100_000},
}

type options struct {
	profile    string
	iterations int
	seed       int64
	strict     bool
	jsonOut    bool
}

func main() {
	var opts options
	root := &cobra.Command{
		Use:   "weft-bench",
		Short: "Benchmark the weft reconciliation engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), opts)
		},
	}
	root.Flags().StringVar(&opts.profile, "profile", "fast", "benchmark profile: fast, standard, stress")
	root.Flags().IntVar(&opts.iterations, "iterations", 0, "override the profile's iteration count")
	root.Flags().Int64Var(&opts.seed, "seed", 1, "random seed for the edit mix")
	root.Flags().BoolVar(&opts.strict, "strict", false, "shadow-compare every optimized transaction")
	root.Flags().BoolVar(&opts.jsonOut, "json", false, "emit the summary as JSON")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// captureSink records per-transaction measurements for the summary.
type captureSink struct {
	mu        sync.Mutex
	byPath    map[string]int
	byReason  map[string]int
	durations []time.Duration
}

func newCaptureSink() *captureSink {
	return &captureSink{
		byPath:   make(map[string]int),
		byReason: make(map[string]int),
	}
}

func (c *captureSink) Record(pathLabel string, d time.Duration, _ reconcile.DeltaCounts, fb reconcile.FallbackReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPath[pathLabel]++
	if fb != reconcile.FallbackNone {
		c.byReason[string(fb)]++
	}
	c.durations = append(c.durations, d)
}

type summary struct {
	Profile    string         `json:"profile"`
	Iterations int            `json:"iterations"`
	Paragraphs int            `json:"paragraphs"`
	BufferLen  int            `json:"buffer_len"`
	Elapsed    string         `json:"elapsed"`
	Paths      map[string]int `json:"paths"`
	Fallbacks  map[string]int `json:"fallbacks"`
	P50        string         `json:"p50"`
	P95        string         `json:"p95"`
	P99        string         `json:"p99"`
	Max        string         `json:"max"`
}

func run(ctx context.Context, opts options) error {
	prof, ok := profiles[opts.profile]
	if !ok {
		return fmt.Errorf("unknown profile %q", opts.profile)
	}
	iterations := prof.Iterations
	if opts.iterations > 0 {
		iterations = opts.iterations
	}
	rng := rand.New(rand.NewSource(opts.seed))
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	sink := newCaptureSink()
	buf := textbuf.NewAttrBuffer()
	engine := reconcile.New(buf,
		reconcile.WithConfig(reconcile.Config{StrictMode: opts.strict, Logger: log}),
		reconcile.WithMetricsSink(sink),
	)

	state := newBenchDoc(prof.Paragraphs)
	if err := engine.Load(state.snapshot); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	start := time.Now()
	for i := 0; i < iterations; i++ {
		if err := state.edit(ctx, engine, rng); err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	elapsed := time.Since(start)

	sum := summarize(prof, iterations, engine.Len(), elapsed, sink)
	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	printSummary(sum)
	return nil
}

// benchDoc owns the synthetic document: a flat list of paragraphs each
// holding one text node.
type benchDoc struct {
	snapshot   *doctree.Snapshot
	paragraphs []doctree.NodeKey // paragraph element keys, in order
	texts      []doctree.NodeKey // matching text node keys
	nextID     int
}

func newBenchDoc(paragraphs int) *benchDoc {
	d := &benchDoc{snapshot: doctree.NewSnapshot()}
	nodes := make(map[doctree.NodeKey]*doctree.Node)
	root := d.snapshot.Root().Clone()
	for i := 0; i < paragraphs; i++ {
		p, t := d.newParagraph(fmt.Sprintf("synthetic paragraph %d with some words", i))
		p.Parent = doctree.RootKey
		root.Children = append(root.Children, p.Key)
		nodes[p.Key] = p
		nodes[t.Key] = t
	}
	nodes[doctree.RootKey] = root
	d.snapshot = d.snapshot.With(nodes)
	return d
}

func (d *benchDoc) newParagraph(text string) (*doctree.Node, *doctree.Node) {
	d.nextID++
	pKey := doctree.NodeKey(fmt.Sprintf("p%d", d.nextID))
	tKey := doctree.NodeKey(fmt.Sprintf("t%d", d.nextID))
	p := doctree.NewElement(pKey, "", "\n")
	t := doctree.NewText(tKey, text)
	t.Parent = pKey
	p.Children = []doctree.NodeKey{tKey}
	d.paragraphs = append(d.paragraphs, pKey)
	d.texts = append(d.texts, tKey)
	return p, t
}

// edit performs one random transaction: mostly typing, with occasional
// block inserts, reorders, and attribute toggles mixed in.
func (d *benchDoc) edit(ctx context.Context, engine *reconcile.Engine, rng *rand.Rand) error {
	err := engine.Update(ctx, func(tx *reconcile.Tx) error {
		switch p := rng.Intn(100); {
		case p < 60:
			return d.typeText(tx, rng)
		case p < 80:
			return d.insertParagraph(tx, rng)
		case p < 90:
			return d.reorder(tx, rng)
		default:
			return d.toggleBold(tx, rng)
		}
	})
	if err != nil {
		return err
	}
	d.snapshot = engine.Snapshot()
	return nil
}

func (d *benchDoc) typeText(tx *reconcile.Tx, rng *rand.Rand) error {
	key := d.texts[rng.Intn(len(d.texts))]
	node := tx.Node(key)
	if node == nil {
		return nil
	}
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	return tx.SetText(key, node.Text+" "+words[rng.Intn(len(words))])
}

func (d *benchDoc) insertParagraph(tx *reconcile.Tx, rng *rand.Rand) error {
	d.nextID++
	pKey := doctree.NodeKey(fmt.Sprintf("p%d", d.nextID))
	tKey := doctree.NodeKey(fmt.Sprintf("t%d", d.nextID))
	at := rng.Intn(len(d.paragraphs))
	if err := tx.InsertNode(doctree.RootKey, doctree.NewElement(pKey, "", "\n"), at); err != nil {
		return err
	}
	if err := tx.InsertNode(pKey, doctree.NewText(tKey, "freshly inserted paragraph"), 0); err != nil {
		return err
	}
	d.paragraphs = append(d.paragraphs, pKey)
	d.texts = append(d.texts, tKey)
	return nil
}

func (d *benchDoc) reorder(tx *reconcile.Tx, rng *rand.Rand) error {
	root := tx.Node(doctree.RootKey)
	if root == nil || len(root.Children) < 2 {
		return nil
	}
	order := append([]doctree.NodeKey(nil), root.Children...)
	i, j := rng.Intn(len(order)), rng.Intn(len(order))
	order[i], order[j] = order[j], order[i]
	return tx.ReorderChildren(doctree.RootKey, order)
}

func (d *benchDoc) toggleBold(tx *reconcile.Tx, rng *rand.Rand) error {
	key := d.texts[rng.Intn(len(d.texts))]
	node := tx.Node(key)
	if node == nil {
		return nil
	}
	if node.Attrs["bold"] == "true" {
		return tx.SetAttributes(key, nil)
	}
	return tx.SetAttributes(key, doctree.Attributes{"bold": "true"})
}

func summarize(prof profile, iterations, bufLen int, elapsed time.Duration, sink *captureSink) summary {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sorted := append([]time.Duration(nil), sink.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pct := func(p float64) time.Duration {
		if len(sorted) == 0 {
			return 0
		}
		idx := int(float64(len(sorted)-1) * p)
		return sorted[idx]
	}
	var max time.Duration
	if len(sorted) > 0 {
		max = sorted[len(sorted)-1]
	}
	return summary{
		Profile:    prof.Name,
		Iterations: iterations,
		Paragraphs: prof.Paragraphs,
		BufferLen:  bufLen,
		Elapsed:    elapsed.String(),
		Paths:      sink.byPath,
		Fallbacks:  sink.byReason,
		P50:        pct(0.50).String(),
		P95:        pct(0.95).String(),
		P99:        pct(0.99).String(),
		Max:        max.String(),
	}
}

func printSummary(s summary) {
	fmt.Printf("profile    %s (%d paragraphs, %d iterations)\n", s.Profile, s.Paragraphs, s.Iterations)
	fmt.Printf("elapsed    %s   buffer %d runes\n", s.Elapsed, s.BufferLen)
	fmt.Printf("latency    p50=%s p95=%s p99=%s max=%s\n", s.P50, s.P95, s.P99, s.Max)

	paths := make([]string, 0, len(s.Paths))
	for k := range s.Paths {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, k := range paths {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.Paths[k]))
	}
	fmt.Printf("paths      %s\n", strings.Join(parts, " "))
	if len(s.Fallbacks) > 0 {
		reasons := make([]string, 0, len(s.Fallbacks))
		for k, v := range s.Fallbacks {
			reasons = append(reasons, fmt.Sprintf("%s=%d", k, v))
		}
		sort.Strings(reasons)
		fmt.Printf("fallbacks  %s\n", strings.Join(reasons, " "))
	}
}
