// Package ringbuffer implements the fixed-capacity store of
// SpeculativeSegment values backing speculative forwarding (spec.md §3.5,
// §4.H). Grounded on original_source/runtime-core/src/data/ring_buffer.rs,
// which wraps crossbeam::ArrayQueue for a lock-free MPMC ring; no
// equivalent lock-free queue library exists anywhere in the retrieval
// pack, so this is re-expressed with a sync.Mutex over a plain slice —
// the same protected-small-structure idiom tvarr uses throughout
// (e.g. internal/ipc.Channel's buffered item list) wherever it needs a
// small guarded structure and has no dedicated concurrent collection
// library to reach for.
package ringbuffer

import (
	"sort"
	"sync"
)

// Segment is a payload-bearing span eligible for later retraction via
// ControlMessage::CancelSpeculation (spec.md §3.5).
type Segment struct {
	SessionID      string
	StartTimestamp uint64
	EndTimestamp   uint64
	// BufferRangeStart/End locate the segment's bytes in the caller's own
	// backing store (spec.md §3.5's buffer_range), opaque to this package.
	BufferRangeStart uint64
	BufferRangeEnd   uint64
}

// overlaps reports whether the segment intersects the half-open interval
// [from, to), matching ring_buffer.rs's get_range predicate
// (start < to && end > from).
func (s Segment) overlaps(from, to uint64) bool {
	return s.StartTimestamp < to && s.EndTimestamp > from
}

// Buffer is a fixed-capacity ring of speculative segments, ordered by
// StartTimestamp. PushOverwrite discards the oldest segment once the
// buffer is full.
type Buffer struct {
	mu         sync.Mutex
	segments   []Segment
	capacity   int
	overwrites uint64
}

// New constructs a Buffer holding at most capacity segments.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		segments: make([]Segment, 0, capacity),
		capacity: capacity,
	}
}

// Capacity sizes a ring to ceil((lookbackMs+lookaheadMs)/segmentMs),
// rounded up to a power of two, per spec.md §4.H.
func Capacity(lookbackMs, lookaheadMs, segmentMs int) int {
	if segmentMs <= 0 {
		segmentMs = 1
	}
	raw := (lookbackMs + lookaheadMs + segmentMs - 1) / segmentMs
	if raw <= 1 {
		return 1
	}
	pow := 1
	for pow < raw {
		pow <<= 1
	}
	return pow
}

// PushOverwrite inserts seg in start-timestamp order, evicting and
// returning the oldest segment if the buffer was already at capacity.
func (b *Buffer) PushOverwrite(seg Segment) (overwritten *Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.segments) >= b.capacity {
		old := b.segments[0]
		b.segments = b.segments[1:]
		b.overwrites++
		overwritten = &old
	}

	idx := sort.Search(len(b.segments), func(i int) bool {
		return b.segments[i].StartTimestamp >= seg.StartTimestamp
	})
	b.segments = append(b.segments, Segment{})
	copy(b.segments[idx+1:], b.segments[idx:])
	b.segments[idx] = seg

	return overwritten
}

// GetRange returns a snapshot of every stored segment overlapping
// [from, to), ordered by StartTimestamp. The returned slice does not
// alias the buffer's internal storage.
func (b *Buffer) GetRange(from, to uint64) []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Segment
	for _, s := range b.segments {
		if s.overlaps(from, to) {
			out = append(out, s)
		}
	}
	return out
}

// ClearBefore removes every stored segment whose EndTimestamp is strictly
// less than threshold, returning the number removed.
func (b *Buffer) ClearBefore(threshold uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.segments[:0]
	removed := 0
	for _, s := range b.segments {
		if s.EndTimestamp < threshold {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	b.segments = kept
	return removed
}

// Len returns the current number of stored segments.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}

// IsFull reports whether the buffer is at capacity.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments) >= b.capacity
}

// OverwriteCount returns the lifetime number of PushOverwrite calls that
// evicted an existing segment.
func (b *Buffer) OverwriteCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overwrites
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}
