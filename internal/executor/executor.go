package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediarun/mediarun/internal/apperrors"
	"github.com/mediarun/mediarun/internal/capability"
	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/node"
)

// Config tunes executor-wide defaults applied when a node's registered
// capabilities don't specify them explicitly.
type Config struct {
	NodeTimeout             time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerReset     time.Duration
	RetryPolicy             RetryPolicy
}

// DefaultConfig mirrors config.RuntimeConfig's own defaults so a caller
// that builds an Executor directly in a test gets the same tuning as the
// process-wide config.Config would produce.
func DefaultConfig() Config {
	return Config{
		NodeTimeout:             30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerReset:     30 * time.Second,
		RetryPolicy:             DefaultRetryPolicy(),
	}
}

// instance is constructed-at-schedule-time state for one manifest node:
// its live Node value, its resolved outgoing edges, and its circuit
// breaker.
type instance struct {
	id       string
	nodeType string
	node     node.Node
	caps     node.Capabilities
	out      []*Edge
	in       []*Edge
	// inputsByPort maps port name -> edge for every incoming edge that
	// names a ToPort; runNode dispatches through ProcessMulti when it holds
	// more than one.
	inputsByPort map[string]*Edge
	// streaming mirrors the manifest's is_streaming flag for this node
	// (spec.md §3.2): it decides whether runNode dispatches through
	// Process or ProcessStreaming, since Traits alone doesn't distinguish
	// a node that happens to support both modes.
	streaming bool

	breaker *CircuitBreaker
}

// Executor drives one instantiated graph: a goroutine per node,
// communicating over bounded Edges, with per-node retry/circuit-breaking
// and speculative forwarding support. It generalizes tvarr's
// internal/pipeline/core.Orchestrator, which runs a fixed slice of Stages
// sequentially against a single shared State; here every node runs
// concurrently and state flows only along the edges it is wired to.
type Executor struct {
	cfg      Config
	registry *capability.Registry

	mu        sync.Mutex
	instances map[string]*instance

	spec *SpeculativeForwarder
}

// New constructs an Executor against a capability registry. spec may be
// nil if the graph has no speculative-forwarding nodes.
func New(cfg Config, registry *capability.Registry, spec *SpeculativeForwarder) *Executor {
	return &Executor{
		cfg:       cfg,
		registry:  registry,
		instances: make(map[string]*instance),
		spec:      spec,
	}
}

// AddNode registers a live node instance under id, built from the
// capability registry's factory for nodeType. isStreaming mirrors the
// manifest NodeSpec's is_streaming flag and selects Process vs
// ProcessStreaming dispatch.
func (ex *Executor) AddNode(id, nodeType string, n node.Node, isStreaming bool) error {
	entry, ok := ex.registry.Get(nodeType)
	if !ok {
		return fmt.Errorf("executor: unknown node_type %q for node %s", nodeType, id)
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.instances[id] = &instance{
		id:           id,
		nodeType:     nodeType,
		node:         n,
		caps:         entry.Capabilities,
		inputsByPort: make(map[string]*Edge),
		streaming:    isStreaming,
		breaker:      NewCircuitBreaker(ex.cfg.CircuitBreakerThreshold, ex.cfg.CircuitBreakerReset),
	}
	return nil
}

// Connect wires a directed edge. Either endpoint may name a node outside
// the graph (the session's own external input/output edges, spec.md
// §3.4's send_input/receive_output); Connect only requires that at least
// one side be a node already added to this Executor.
func (ex *Executor) Connect(e *Edge) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	from, fromOK := ex.instances[e.From]
	to, toOK := ex.instances[e.To]
	if !fromOK && !toOK {
		return fmt.Errorf("executor: connect: neither %s nor %s is a known node", e.From, e.To)
	}

	if fromOK {
		from.out = append(from.out, e)
	}
	if toOK {
		to.in = append(to.in, e)
		if e.ToPort != "" {
			to.inputsByPort[e.ToPort] = e
		}
	}
	return nil
}

// Run starts every node's task and blocks until the graph drains
// (all sources close their outputs and every downstream edge empties) or
// ctx is cancelled, or a node fails under a FailFast error policy.
// Grounded on app.go's errgroup.WithContext(ctx) fan-out/fan-in shape,
// generalized from a fixed set of long-running services to a dynamic
// per-node task set.
func (ex *Executor) Run(ctx context.Context) error {
	ex.mu.Lock()
	instances := make([]*instance, 0, len(ex.instances))
	for _, in := range ex.instances {
		instances = append(instances, in)
	}
	ex.mu.Unlock()

	if err := ex.initializeAll(ctx, instances); err != nil {
		return err
	}
	defer ex.cleanupAll(context.Background(), instances)

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range instances {
		in := in
		g.Go(func() error {
			return ex.runNode(gctx, in)
		})
	}
	return g.Wait()
}

func (ex *Executor) initializeAll(ctx context.Context, instances []*instance) error {
	for _, in := range instances {
		if err := in.node.Initialize(ctx); err != nil {
			return fmt.Errorf("executor: initialize node %s: %w", in.id, err)
		}
	}
	return nil
}

func (ex *Executor) cleanupAll(ctx context.Context, instances []*instance) {
	for _, in := range instances {
		_ = in.node.Cleanup(ctx)
	}
}

// runNode is the per-node task body: read one item from each input edge,
// dispatch it to the node's supported invocation mode under
// retry/circuit-breaker protection, and forward every emission to the
// node's outgoing edges. A node with no input edge is never invoked; it
// waits for ctx to end and then closes its outputs.
func (ex *Executor) runNode(ctx context.Context, in *instance) error {
	switch {
	case len(in.inputsByPort) > 1:
		return ex.runMultiInput(ctx, in)
	case in.streaming:
		return ex.runStreaming(ctx, in)
	default:
		return ex.runUnary(ctx, in)
	}
}

// closeEdges drops the publish side of every edge in edges, cascading an
// end-of-input signal downstream once a node's own input drains (spec.md
// §4.F: "drops the input channel; each task observes end-of-input... runs
// cleanup(), and exits").
func closeEdges(edges []*Edge) {
	for _, e := range edges {
		_ = e.Close()
	}
}

// runUnary drains a single input edge, invoking Process per item.
func (ex *Executor) runUnary(ctx context.Context, in *instance) error {
	if len(in.in) == 0 {
		<-ctx.Done()
		closeEdges(in.out)
		return nil
	}
	src := in.in[0]
	for {
		v, ok, err := src.Recv(ctx)
		if err != nil {
			return ex.handleNodeError(in, err)
		}
		if !ok {
			closeEdges(in.out)
			return nil
		}

		out, err := ex.invoke(ctx, in, func(ctx context.Context) (data.RuntimeData, error) {
			return in.node.Process(ctx, v)
		})
		if err != nil {
			if herr := ex.handleNodeError(in, err); herr != nil {
				return herr
			}
			continue
		}
		if out != nil {
			if err := emitToEdges(ctx, in.out, out); err != nil {
				return err
			}
		}
	}
}

// runStreaming drains a single input edge, invoking ProcessStreaming per
// item and forwarding every emitted value as it is produced.
func (ex *Executor) runStreaming(ctx context.Context, in *instance) error {
	if len(in.in) == 0 {
		<-ctx.Done()
		closeEdges(in.out)
		return nil
	}
	src := in.in[0]
	emit := func(v data.RuntimeData) error {
		return emitToEdges(ctx, in.out, v)
	}
	for {
		v, ok, err := src.Recv(ctx)
		if err != nil {
			return ex.handleNodeError(in, err)
		}
		if !ok {
			closeEdges(in.out)
			return nil
		}

		sessionID := streamIDOf(v)
		_, err = ex.invoke(ctx, in, func(ctx context.Context) (data.RuntimeData, error) {
			return nil, firstErr(in.node.ProcessStreaming(ctx, v, sessionID, emit))
		})
		if err != nil {
			if herr := ex.handleNodeError(in, err); herr != nil {
				return herr
			}
		}
	}
}

func firstErr(_ int, err error) error { return err }

// runMultiInput accumulates exactly one value per registered input port
// before invoking ProcessMulti (spec.md §4.C join semantics: "a multi-input
// node fires once it has received one value on every declared port since
// its last firing").
func (ex *Executor) runMultiInput(ctx context.Context, in *instance) error {
	pending := make(map[string]data.RuntimeData, len(in.inputsByPort))

	type recv struct {
		port string
		v    data.RuntimeData
		ok   bool
		err  error
	}
	results := make(chan recv)

	for port, edge := range in.inputsByPort {
		port, edge := port, edge
		go func() {
			for {
				v, ok, err := edge.Recv(ctx)
				select {
				case results <- recv{port: port, v: v, ok: ok, err: err}:
				case <-ctx.Done():
					return
				}
				if !ok || err != nil {
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			closeEdges(in.out)
			return nil
		case r := <-results:
			if r.err != nil {
				return ex.handleNodeError(in, r.err)
			}
			if !r.ok {
				closeEdges(in.out)
				return nil
			}
			pending[r.port] = r.v
			if len(pending) < len(in.inputsByPort) {
				continue
			}

			snapshot := make(map[string]data.RuntimeData, len(pending))
			for k, v := range pending {
				snapshot[k] = v
			}
			for k := range pending {
				delete(pending, k)
			}

			out, err := ex.invoke(ctx, in, func(ctx context.Context) (data.RuntimeData, error) {
				return in.node.ProcessMulti(ctx, snapshot)
			})
			if err != nil {
				if herr := ex.handleNodeError(in, err); herr != nil {
					return herr
				}
				continue
			}
			if out != nil {
				if err := emitToEdges(ctx, in.out, out); err != nil {
					return err
				}
			}
		}
	}
}

// invoke runs fn under the node's circuit breaker and retry policy,
// timing out after the executor's configured NodeTimeout. Grounded on
// original_source/crates/core/src/executor/scheduler.rs's
// execute_node_with_retry/schedule_node pair.
func (ex *Executor) invoke(ctx context.Context, in *instance, fn func(context.Context) (data.RuntimeData, error)) (data.RuntimeData, error) {
	if in.breaker.IsOpen() {
		return nil, &CircuitOpenError{NodeID: in.id}
	}

	policy := ex.cfg.RetryPolicy
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(policy.delayFor(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if ex.cfg.NodeTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, ex.cfg.NodeTimeout)
		}
		out, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			in.breaker.RecordSuccess()
			return out, nil
		}
		lastErr = err
		in.breaker.RecordFailure()
		if in.breaker.IsOpen() {
			break
		}
	}
	return nil, &apperrors.ExecutionErr{NodeID: in.id, Err: lastErr}
}

// handleNodeError applies the node's registered ErrorPolicy: Skip errors
// are swallowed so the caller keeps pulling from its input edge, FailFast
// errors propagate and tear down the whole graph (spec.md §4.F).
func (ex *Executor) handleNodeError(in *instance, err error) error {
	if err == nil {
		return nil
	}
	// A cancelled/expired context reaching here is the forced-cancel half
	// of spec.md §4.F, not a node execution failure: the graceful path
	// never produces one (Close drops the input edge instead of cancelling
	// ctx), so this only fires on a timed-out or externally-cancelled
	// session. It unwinds the graph the same way either way, but must not
	// be reported as an ExecutionErr.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if classifyOutcome(in.caps.ErrorPolicy) {
		return &apperrors.ExecutionErr{NodeID: in.id, Err: err}
	}
	return nil
}

func streamIDOf(v data.RuntimeData) string {
	switch t := v.(type) {
	case data.Audio:
		return t.StreamID
	case data.Video:
		return t.StreamID
	case data.File:
		return t.StreamID
	default:
		return ""
	}
}
