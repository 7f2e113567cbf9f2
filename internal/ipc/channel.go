// Package ipc implements the in-process channel layer that carries
// wire-encoded RuntimeData frames between node tasks (spec.md §4.D). It
// mirrors the public contract of a true out-of-process shared-memory
// channel (ChannelHandle/Publisher/Subscriber, per-channel stats, a
// bounded overflow-notification side channel) so the executor's edges
// never need to know whether a channel is in-process or backed by
// internal/ipc/shm.
package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mediarun/mediarun/internal/observability"
)

// OverflowPolicy names how Publish behaves against a full channel
// (spec.md §4.D).
type OverflowPolicy string

const (
	DropOldest      OverflowPolicy = "drop_oldest"
	DropNewest      OverflowPolicy = "drop_newest"
	Block           OverflowPolicy = "block"
	MergeOnOverflow OverflowPolicy = "merge_on_overflow"
)

// MergeFunc combines the oldest buffered frame with the incoming one when
// a channel's policy is MergeOnOverflow.
type MergeFunc func(oldest, incoming []byte) []byte

// QueueOverflow is emitted on a channel's side-notification stream every
// time DropOldest discards a buffered frame.
type QueueOverflow struct {
	ChannelName string
	DroppedAt   time.Time
	Count       int
}

// Stats snapshots a channel's lifetime counters (spec.md §4.D: "messages
// sent/received, bytes transferred, overwrites, last activity").
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesTransferred uint64
	Overwrites       uint64
	LastActivity     time.Time
}

// Channel is a capacity-bounded, named queue of pre-encoded wire frames.
// It is the in-process fast path for an edge; internal/ipc/shm provides
// the out-of-process equivalent behind the same Publisher/Subscriber
// shape.
type Channel struct {
	name     string
	capacity int
	policy   OverflowPolicy
	merge    MergeFunc

	mu     sync.Mutex
	items  [][]byte
	closed bool
	// changedCh is closed and replaced every time items/closed changes, so
	// a waiter can select on it alongside ctx.Done() without needing to
	// hold mu while blocked (sync.Cond can't be combined with a ctx select).
	changedCh chan struct{}

	overflowCh chan QueueOverflow

	stats   Stats
	statsMu sync.Mutex

	metrics *observability.Metrics
}

// Config parameterizes channel construction.
type Config struct {
	Name                 string
	Capacity             int
	Policy               OverflowPolicy
	Merge                MergeFunc // required when Policy == MergeOnOverflow
	OverflowNotifyBuffer int
	Metrics              *observability.Metrics
}

// NewChannel constructs a channel ready to publish/receive.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("ipc: channel %q: capacity must be > 0", cfg.Name)
	}
	if cfg.Policy == MergeOnOverflow && cfg.Merge == nil {
		return nil, fmt.Errorf("ipc: channel %q: merge_on_overflow requires a merge function", cfg.Name)
	}
	notifyBuf := cfg.OverflowNotifyBuffer
	if notifyBuf <= 0 {
		notifyBuf = 256
	}

	c := &Channel{
		name:       cfg.Name,
		capacity:   cfg.Capacity,
		policy:     cfg.Policy,
		merge:      cfg.Merge,
		overflowCh: make(chan QueueOverflow, notifyBuf),
		metrics:    cfg.Metrics,
		changedCh:  make(chan struct{}),
	}
	return c, nil
}

// broadcastLocked signals all current waiters that state changed. Must be
// called with c.mu held.
func (c *Channel) broadcastLocked() {
	close(c.changedCh)
	c.changedCh = make(chan struct{})
}

// waitLocked blocks until state changes or ctx is done, re-acquiring c.mu
// before returning. Must be called with c.mu held; unlocks it while
// waiting.
func (c *Channel) waitLocked(ctx context.Context) error {
	ch := c.changedCh
	c.mu.Unlock()
	defer c.mu.Lock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the channel's identifier (conventionally "session_id:edge_id").
func (c *Channel) Name() string { return c.name }

// Overflow returns the side channel of QueueOverflow notifications.
func (c *Channel) Overflow() <-chan QueueOverflow { return c.overflowCh }

// Publish enqueues a wire frame, applying the channel's OverflowPolicy if
// the channel is full (spec.md §4.D).
func (c *Channel) Publish(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("ipc: channel %q is closed", c.name)
	}

	for len(c.items) >= c.capacity {
		switch c.policy {
		case DropOldest:
			dropped := c.items[0]
			c.items = c.items[1:]
			c.recordOverwrite()
			c.notifyOverflow(1)
			_ = dropped
		case DropNewest:
			return nil
		case MergeOnOverflow:
			oldest := c.items[0]
			c.items[0] = c.merge(oldest, frame)
			c.recordPublish(len(frame))
			c.broadcastLocked()
			return nil
		case Block:
			if err := c.waitLocked(ctx); err != nil {
				return err
			}
			if c.closed {
				return fmt.Errorf("ipc: channel %q is closed", c.name)
			}
			continue
		default:
			return fmt.Errorf("ipc: channel %q: unknown overflow policy %q", c.name, c.policy)
		}
		break
	}

	c.items = append(c.items, frame)
	c.recordPublish(len(frame))
	c.broadcastLocked()
	return nil
}

// Receive returns the next queued frame, blocking until one is available,
// the channel is closed (returns ok=false), or ctx is done.
func (c *Channel) Receive(ctx context.Context) (frame []byte, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.items) == 0 && !c.closed {
		if err := c.waitLocked(ctx); err != nil {
			return nil, false, err
		}
	}

	if len(c.items) == 0 {
		return nil, false, nil
	}

	frame = c.items[0]
	c.items = c.items[1:]
	c.broadcastLocked()
	c.statsMu.Lock()
	c.stats.MessagesReceived++
	c.stats.LastActivity = timeNow()
	c.statsMu.Unlock()
	return frame, true, nil
}

// TryReceive returns the next queued frame without blocking.
func (c *Channel) TryReceive() (frame []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return nil, false
	}
	frame = c.items[0]
	c.items = c.items[1:]
	c.broadcastLocked()
	c.statsMu.Lock()
	c.stats.MessagesReceived++
	c.stats.LastActivity = timeNow()
	c.statsMu.Unlock()
	return frame, true
}

// Close marks the channel closed; pending Receive/Publish callers wake and
// observe it. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.broadcastLocked()
	return nil
}

// Depth returns the current number of queued frames.
func (c *Channel) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the channel's lifetime counters.
func (c *Channel) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Channel) recordPublish(frameLen int) {
	c.statsMu.Lock()
	c.stats.MessagesSent++
	c.stats.BytesTransferred += uint64(frameLen)
	c.stats.LastActivity = timeNow()
	c.statsMu.Unlock()
	if c.metrics != nil {
		c.metrics.EdgeQueueDepth.WithLabelValues(c.name).Set(float64(len(c.items)))
	}
}

func (c *Channel) recordOverwrite() {
	c.statsMu.Lock()
	c.stats.Overwrites++
	c.statsMu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordEdgeOverflow(c.name, string(c.policy))
	}
}

func (c *Channel) notifyOverflow(count int) {
	select {
	case c.overflowCh <- QueueOverflow{ChannelName: c.name, DroppedAt: timeNow(), Count: count}:
	default:
		// side channel itself is full; the drop is still counted in
		// Stats.Overwrites, only the notification is lost.
	}
}

// timeNow is a seam so tests can be deterministic without the runtime
// reaching for a frozen clock on the hot path.
var timeNow = time.Now
