package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mediarun/mediarun/internal/apperrors"
	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/data/wire"
	"github.com/mediarun/mediarun/internal/ipc"
	"github.com/mediarun/mediarun/internal/ipc/shm"
	"github.com/mediarun/mediarun/internal/node"
)

// AdapterConfig parameterizes one out-of-process node instance: the
// control-plane Process configuration plus the shared-memory ring sizing
// used for its data plane (spec.md §4.D/§4.E).
type AdapterConfig struct {
	Process       Config
	ShmDir        string
	RingSlotCount int
	RingSlotSize  int
}

// NodeAdapter drives one manifest node entirely out-of-process: Initialize
// spawns the worker.Process and maps the pair of shared-memory rings its
// data plane uses; Process/ProcessStreaming round-trip a wire-encoded frame
// through those rings instead of calling a Go method directly. It is the
// bridge spec.md §2 Component E describes ("allocates node instances...
// via the Worker Process Manager") between the executor's node.Node
// contract and internal/worker's control-plane-only Process/
// HeartbeatMonitor pair, which carries no data-plane messages of its own.
type NodeAdapter struct {
	node.BaseNode

	cfg      AdapterConfig
	nodeType string
	traits   node.Traits
	logger   *slog.Logger

	proc    *Process
	inRing  *shm.Ring
	outRing *shm.Ring

	// crashCh carries the terminal error from the heartbeat monitor the
	// moment the worker dies, so a Process/ProcessStreaming call blocked
	// on an unresponsive ring can fail fast instead of waiting out a
	// polling Receive that will never unblock.
	crashCh chan error
}

// NewNodeAdapter constructs an adapter for one manifest node. The child
// process isn't spawned until Initialize runs, the same
// Initialize-before-Process contract every other node.Node implementation
// follows.
func NewNodeAdapter(nodeType string, traits node.Traits, cfg AdapterConfig, logger *slog.Logger) *NodeAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeAdapter{
		cfg:      cfg,
		nodeType: nodeType,
		traits:   traits,
		logger:   logger,
		crashCh:  make(chan error, 1),
	}
}

func (a *NodeAdapter) NodeType() string    { return a.nodeType }
func (a *NodeAdapter) Traits() node.Traits { return a.traits }

// Initialize spawns the worker process, starts its heartbeat monitor, and
// creates the pair of shared-memory rings the worker's data plane uses.
func (a *NodeAdapter) Initialize(ctx context.Context) error {
	a.cfg.Process.NodeType = a.nodeType
	a.proc = NewProcess(a.cfg.Process, a.logger)
	if err := a.proc.Spawn(ctx); err != nil {
		return fmt.Errorf("worker: node %s: spawn: %w", a.nodeType, err)
	}

	monitor := NewHeartbeatMonitor(a.proc, a.logger, func(err error) {
		select {
		case a.crashCh <- err:
		default:
		}
	})
	go func() { _ = monitor.Run(context.Background()) }()

	ringCfg := shm.Config{
		SlotCount: a.cfg.RingSlotCount,
		SlotSize:  a.cfg.RingSlotSize,
		Policy:    ipc.Block,
	}

	inCfg := ringCfg
	inCfg.Path = filepath.Join(a.cfg.ShmDir, a.cfg.Process.WorkerID+".in")
	inRing, err := shm.Create(inCfg)
	if err != nil {
		return fmt.Errorf("worker: node %s: create input ring: %w", a.nodeType, err)
	}
	a.inRing = inRing

	outCfg := ringCfg
	outCfg.Path = filepath.Join(a.cfg.ShmDir, a.cfg.Process.WorkerID+".out")
	outRing, err := shm.Create(outCfg)
	if err != nil {
		_ = a.inRing.Close()
		return fmt.Errorf("worker: node %s: create output ring: %w", a.nodeType, err)
	}
	a.outRing = outRing

	return nil
}

// checkCrashed returns the heartbeat monitor's terminal error, if one has
// been reported, without blocking.
func (a *NodeAdapter) checkCrashed() error {
	select {
	case err := <-a.crashCh:
		return err
	default:
		return nil
	}
}

// Process implements unary dispatch by publishing the wire-encoded input
// onto the input ring and decoding exactly one frame back off the output
// ring (spec.md §4.C/§4.D).
func (a *NodeAdapter) Process(ctx context.Context, input data.RuntimeData) (data.RuntimeData, error) {
	if err := a.checkCrashed(); err != nil {
		return nil, err
	}

	frame, err := wire.Encode(input)
	if err != nil {
		return nil, err
	}
	if err := a.inRing.Publish(ctx, frame); err != nil {
		return nil, err
	}

	out, ok, err := a.outRing.Receive(ctx)
	if err != nil {
		if crashed := a.checkCrashed(); crashed != nil {
			return nil, crashed
		}
		return nil, err
	}
	if !ok {
		if crashed := a.checkCrashed(); crashed != nil {
			return nil, crashed
		}
		return nil, &apperrors.NodeCrashedErr{NodeID: a.nodeType, Reason: "output ring closed"}
	}
	return wire.Decode(out)
}

// ProcessStreaming publishes input and emits the single frame the worker
// produces in response. The control protocol carries no burst-boundary
// marker (internal/worker/control deliberately has no data-plane
// messages), so an out-of-process streaming node is limited to one
// emission per call until the ring protocol grows one.
func (a *NodeAdapter) ProcessStreaming(ctx context.Context, input data.RuntimeData, sessionID string, emit node.EmitFunc) (int, error) {
	if err := a.checkCrashed(); err != nil {
		return 0, err
	}

	frame, err := wire.Encode(input)
	if err != nil {
		return 0, err
	}
	if err := a.inRing.Publish(ctx, frame); err != nil {
		return 0, err
	}

	out, ok, err := a.outRing.Receive(ctx)
	if err != nil {
		if crashed := a.checkCrashed(); crashed != nil {
			return 0, crashed
		}
		return 0, err
	}
	if !ok {
		if crashed := a.checkCrashed(); crashed != nil {
			return 0, crashed
		}
		return 0, &apperrors.NodeCrashedErr{NodeID: a.nodeType, Reason: "output ring closed"}
	}

	v, err := wire.Decode(out)
	if err != nil {
		return 0, err
	}
	if err := emit(v); err != nil {
		return 0, err
	}
	return 1, nil
}

// Cleanup stops the worker process and tears down both rings. Safe to call
// even if Initialize failed partway through.
func (a *NodeAdapter) Cleanup(ctx context.Context) error {
	if a.inRing != nil {
		_ = a.inRing.Close()
	}
	if a.outRing != nil {
		_ = a.outRing.Close()
	}
	if a.proc != nil {
		return a.proc.Stop()
	}
	return nil
}

var _ node.Node = (*NodeAdapter)(nil)
