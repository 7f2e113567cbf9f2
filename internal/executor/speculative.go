package executor

import (
	"context"
	"sync"

	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/ringbuffer"
)

// SpeculativeForwarder implements the "forward immediately, retract later"
// pattern used by multi-output nodes that emit a tentative result before a
// slower confirmation path finishes (spec.md §4.C scenario 4, grounded on
// original_source/runtime-core/tests/integration/
// test_speculative_vad_coordinator.rs: audio is forwarded downstream the
// instant it arrives; a ControlMessage::CancelSpeculation later retracts
// the segment if the VAD coordinator decides it wasn't speech).
//
// Per session, a ringbuffer.Buffer records which [start,end) ranges were
// forwarded speculatively so a downstream consumer (or this node itself,
// on CancelSpeculation) can find and mark/evict the matching segment
// without rescanning the whole edge history.
type SpeculativeForwarder struct {
	mu       sync.Mutex
	buffers  map[string]*ringbuffer.Buffer
	capacity int

	metrics SpeculativeMetrics
}

// SpeculativeMetrics is the subset of observability.Metrics the forwarder
// updates; declared as an interface here so this package does not import
// internal/observability directly.
type SpeculativeMetrics interface {
	RecordSpeculativeForwarded()
	RecordSpeculativeCancelled()
}

// NewSpeculativeForwarder constructs a forwarder. capacity bounds the
// per-session ring buffer (spec.md §4.C: "bounded by a fixed
// power-of-two-rounded segment count", default from
// config.RuntimeConfig.SpeculativeSegments).
func NewSpeculativeForwarder(capacity int, metrics SpeculativeMetrics) *SpeculativeForwarder {
	return &SpeculativeForwarder{
		buffers:  make(map[string]*ringbuffer.Buffer),
		capacity: capacity,
		metrics:  metrics,
	}
}

func (f *SpeculativeForwarder) bufferFor(sessionID string) *ringbuffer.Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buffers[sessionID]
	if !ok {
		b = ringbuffer.New(f.capacity)
		f.buffers[sessionID] = b
	}
	return b
}

// Forward records that a segment was sent downstream ahead of
// confirmation and sends it over edges immediately.
func (f *SpeculativeForwarder) Forward(ctx context.Context, edges []*Edge, sessionID string, startTs, endTs uint64, v data.RuntimeData) error {
	f.bufferFor(sessionID).PushOverwrite(ringbuffer.Segment{
		SessionID:      sessionID,
		StartTimestamp: startTs,
		EndTimestamp:   endTs,
	})
	if f.metrics != nil {
		f.metrics.RecordSpeculativeForwarded()
	}
	return emitToEdges(ctx, edges, v)
}

// Cancel handles ControlMessage{Kind: CancelSpeculation}: it counts the
// recorded segments for sessionID that GetRange(fromTs, toTs) returns as
// cancelled, drops every recorded segment that ends before toTs (a segment
// ending exactly at toTs is kept), and propagates the control
// message to downstream edges so they can evict or ignore the retracted
// data (spec.md §4.C: cancellation is advisory to the consumer, not a
// guaranteed unsend).
func (f *SpeculativeForwarder) Cancel(ctx context.Context, edges []*Edge, sessionID string, fromTs, toTs uint64) error {
	buf := f.bufferFor(sessionID)
	removed := len(buf.GetRange(fromTs, toTs))
	buf.ClearBefore(toTs)
	if f.metrics != nil {
		for i := 0; i < removed; i++ {
			f.metrics.RecordSpeculativeCancelled()
		}
	}
	msg := data.ControlMessage{
		Kind:   data.ControlKindCancelSpeculation,
		FromTs: fromTs,
		ToTs:   toTs,
	}
	return emitToEdges(ctx, edges, msg)
}
