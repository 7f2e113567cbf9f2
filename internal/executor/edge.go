package executor

import (
	"context"

	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/data/wire"
	"github.com/mediarun/mediarun/internal/ipc"
)

// Edge is one directed connection in the instantiated graph: a publisher
// the upstream node writes to, and a subscriber the downstream node reads
// from. Both sides are wire-encoded, so an Edge backed by an in-process
// ipc.Channel and one backed by an out-of-process ipc/shm.Ring look
// identical to the node tasks on either end (spec.md §4.D).
type Edge struct {
	From     string
	To       string
	FromPort string
	ToPort   string

	Publisher  ipc.Publisher
	Subscriber ipc.Subscriber
}

// Send wire-encodes v and publishes it on the edge.
func (e *Edge) Send(ctx context.Context, v data.RuntimeData) error {
	frame, err := wire.Encode(v)
	if err != nil {
		return err
	}
	return e.Publisher.Publish(ctx, frame)
}

// Recv blocks for the next value on the edge, decoding it back to a
// RuntimeData. ok is false once the edge has been closed and drained.
func (e *Edge) Recv(ctx context.Context) (data.RuntimeData, bool, error) {
	frame, ok, err := e.Subscriber.Receive(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := wire.Decode(frame)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Close drops the edge's publish side so the downstream Recv observes a
// clean end-of-input (ok=false) instead of a context error (spec.md §4.F's
// graceful close, as distinct from a forced cancel). Edges whose Publisher
// doesn't support an explicit close (none currently) are a no-op.
func (e *Edge) Close() error {
	if c, ok := e.Publisher.(ipc.Closer); ok {
		return c.Close()
	}
	return nil
}

// emitToEdges fans a single streaming emission out to every outgoing edge
// that carries the emitting node's default output port, used by
// ProcessStreaming nodes that don't address a specific named port.
func emitToEdges(ctx context.Context, edges []*Edge, v data.RuntimeData) error {
	for _, e := range edges {
		if err := e.Send(ctx, v); err != nil {
			return err
		}
	}
	return nil
}
