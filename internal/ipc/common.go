package ipc

import "context"

// Publisher is the write side of a channel: in-process (Channel) or
// out-of-process (internal/ipc/shm.Ring) — the executor's edges only ever
// hold one of these, never caring which transport is underneath (spec.md
// §4.D).
type Publisher interface {
	Publish(ctx context.Context, frame []byte) error
}

// Subscriber is the read side of a channel.
type Subscriber interface {
	Receive(ctx context.Context) (frame []byte, ok bool, err error)
}

// Closer marks a channel closed so blocked Receive callers wake with
// ok=false instead of waiting on ctx cancellation (spec.md §4.F's graceful
// close). Both Channel and internal/ipc/shm.Ring implement it.
type Closer interface {
	Close() error
}

var (
	_ Publisher  = (*Channel)(nil)
	_ Subscriber = (*Channel)(nil)
	_ Closer     = (*Channel)(nil)
)
