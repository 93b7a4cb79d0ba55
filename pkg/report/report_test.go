package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/weft-dev/weft/pkg/reconcile"
)

func sampleReport() reconcile.DivergenceReport {
	return reconcile.DivergenceReport{
		At:         time.Unix(1700000000, 42),
		PathLabel:  "text",
		PreText:    "hello\n",
		FastText:   "hellp\n",
		FullText:   "hello!\n",
		DirtyCount: 1,
	}
}

func TestDiskStoreWritesReport(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(filepath.Join(dir, "reports"))
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	rep := sampleReport()
	if err := store.Report(context.Background(), rep); err != nil {
		t.Fatalf("Report: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "reports"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir: %v, %d entries", err, len(entries))
	}
	name := entries[0].Name()
	if name != "divergence-text-1700000000000000042.json" {
		t.Fatalf("file name = %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "reports", name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got reconcile.DivergenceReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("stored report is not valid JSON: %v", err)
	}
	if got.PathLabel != "text" || got.FastText != "hellp\n" || got.FullText != "hello!\n" {
		t.Fatalf("stored report = %+v", got)
	}
}

type failingStore struct{ err error }

func (f failingStore) Report(context.Context, reconcile.DivergenceReport) error { return f.err }

type countingStore struct{ calls int }

func (c *countingStore) Report(context.Context, reconcile.DivergenceReport) error {
	c.calls++
	return nil
}

func TestMultiTriesEveryStore(t *testing.T) {
	boom := os.ErrPermission
	counter := &countingStore{}
	m := Multi{failingStore{err: boom}, counter}

	err := m.Report(context.Background(), sampleReport())
	if err != boom {
		t.Fatalf("err = %v, want first store's error", err)
	}
	if counter.calls != 1 {
		t.Fatalf("later store called %d times, want 1", counter.calls)
	}
}
