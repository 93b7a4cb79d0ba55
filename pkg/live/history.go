package live

import (
	"sync"
	"time"
)

// HistoryEntry stores one encoded delta frame for potential replay.
type HistoryEntry struct {
	Seq    uint64    // Frame sequence number
	Frame  []byte    // Pre-encoded JSON frame
	SentAt time.Time // When the frame was published
}

// DeltaHistory is a thread-safe ring buffer of published delta frames.
// The ring overwrites its oldest entries when full, keeping a sliding
// window of recent frames so a reconnecting subscriber can catch up
// instead of re-fetching the whole document.
type DeltaHistory struct {
	mu       sync.RWMutex
	entries  []*HistoryEntry
	head     int // Next write position (circular)
	count    int
	capacity int
	minSeq   uint64
	maxSeq   uint64
}

// NewDeltaHistory returns a ring with the given capacity.
func NewDeltaHistory(capacity int) *DeltaHistory {
	if capacity <= 0 {
		capacity = 128
	}
	return &DeltaHistory{
		entries:  make([]*HistoryEntry, capacity),
		capacity: capacity,
	}
}

// Add stores a frame. The bytes are copied so callers may reuse their
// buffers.
func (h *DeltaHistory) Add(seq uint64, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	frameCopy := make([]byte, len(frame))
	copy(frameCopy, frame)

	h.entries[h.head] = &HistoryEntry{Seq: seq, Frame: frameCopy, SentAt: time.Now()}
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}

	h.maxSeq = seq
	if h.count == 1 {
		h.minSeq = seq
	} else if h.count == h.capacity {
		if oldest := h.entries[h.head]; oldest != nil {
			h.minSeq = oldest.Seq
		}
	}
}

// Frames returns the frames for sequences (afterSeq, maxSeq], in order.
// Nil means the window no longer covers the request and the caller must
// resync from the full document.
func (h *DeltaHistory) Frames(afterSeq uint64) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || afterSeq >= h.maxSeq {
		return nil
	}
	if afterSeq+1 < h.minSeq {
		return nil
	}
	var frames [][]byte
	for i := 0; i < h.count; i++ {
		idx := (h.head - h.count + i + h.capacity) % h.capacity
		entry := h.entries[idx]
		if entry != nil && entry.Seq > afterSeq {
			frames = append(frames, entry.Frame)
		}
	}
	return frames
}

// CanRecover reports whether every frame after lastSeq is still in the
// window.
func (h *DeltaHistory) CanRecover(lastSeq uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return false
	}
	return lastSeq+1 >= h.minSeq && lastSeq < h.maxSeq
}

// MaxSeq returns the newest stored sequence.
func (h *DeltaHistory) MaxSeq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxSeq
}

// Count returns the number of stored frames.
func (h *DeltaHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Clear drops every stored frame.
func (h *DeltaHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		h.entries[i] = nil
	}
	h.head = 0
	h.count = 0
	h.minSeq = 0
	h.maxSeq = 0
}
