package reconcile

import (
	"context"
	"time"

	"github.com/weft-dev/weft/pkg/textbuf"
)

// restorableBuffer is the extra surface the shadow compare needs:
// buffers that can be cloned and restored. *textbuf.AttrBuffer
// implements it; buffers that do not are simply never shadow-compared.
type restorableBuffer interface {
	textbuf.Buffer
	Clone() *textbuf.AttrBuffer
	Restore(*textbuf.AttrBuffer)
	String() string
}

var _ restorableBuffer = (*textbuf.AttrBuffer)(nil)

// DivergenceReport captures a fast-path/full-path mismatch found by
// the sanity check: enough context to reproduce the transaction
// offline.
type DivergenceReport struct {
	At           time.Time `json:"at"`
	PathLabel    string    `json:"path_label"`
	PreText      string    `json:"pre_text"`
	FastText     string    `json:"fast_text"`
	FullText     string    `json:"full_text"`
	Instructions []string  `json:"instructions"`
	DirtyCount   int       `json:"dirty_count"`
}

// DivergenceReporter persists divergence reports. Implementations live
// in pkg/report; a nil reporter drops them.
type DivergenceReporter interface {
	Report(ctx context.Context, rep DivergenceReport) error
}

func instructionStrings(instrs []Instruction) []string {
	out := make([]string, len(instrs))
	for i, in := range instrs {
		out[i] = in.String()
	}
	return out
}
