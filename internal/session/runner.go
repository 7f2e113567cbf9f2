package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mediarun/mediarun/internal/apperrors"
	"github.com/mediarun/mediarun/internal/capability"
	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/executor"
	"github.com/mediarun/mediarun/internal/ids"
	"github.com/mediarun/mediarun/internal/ipc"
	"github.com/mediarun/mediarun/internal/manifest"
	"github.com/mediarun/mediarun/internal/node"
	"github.com/mediarun/mediarun/internal/observability"
	"github.com/mediarun/mediarun/internal/worker"
)

// Config bundles the tuning knobs a Runner applies to every session it
// creates (spec.md §5's admission control and cancellation deadlines).
type Config struct {
	Executor              executor.Config
	DefaultEdgeCapacity   int
	DefaultOverflowPolicy ipc.OverflowPolicy
	CloseDeadline         time.Duration
	MaxConcurrentSessions int
	Worker                WorkerConfig
}

// WorkerConfig bundles the out-of-process worker spawn parameters a Runner
// applies to every node whose manifest entry sets
// runtime_hint: out_of_process (spec.md §2 Component E, §4.E).
type WorkerConfig struct {
	Command           string
	Args              []string
	SocketDir         string
	ShmDir            string
	SpawnTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxRestarts       int
	RingSlotCount     int
	RingSlotSize      int
}

// DefaultConfig mirrors config.RuntimeConfig's own defaults.
func DefaultConfig() Config {
	return Config{
		Executor:              executor.DefaultConfig(),
		DefaultEdgeCapacity:   64,
		DefaultOverflowPolicy: ipc.Block,
		CloseDeadline:         10 * time.Second,
		Worker: WorkerConfig{
			Command:           "mediarun-worker",
			SocketDir:         "/tmp/mediarun",
			ShmDir:            "/tmp/mediarun/shm",
			SpawnTimeout:      10 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			HeartbeatTimeout:  6 * time.Second,
			MaxRestarts:       5,
			RingSlotCount:     32,
			RingSlotSize:      1 * 1024 * 1024,
		},
	}
}

// Builder provides a fluent interface for constructing a Runner, the
// same shape as internal/pipeline/core.Builder's WithChannelRepository /
// WithSandbox / WithLogger chain, retargeted to the streaming runner's
// dependencies (a capability registry instead of repositories).
type Builder struct {
	registry *capability.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	cfg      Config
}

// NewBuilder creates a new Runner Builder.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// WithRegistry sets the capability registry used to resolve node types.
func (b *Builder) WithRegistry(r *capability.Registry) *Builder {
	b.registry = r
	return b
}

// WithMetrics sets the Prometheus metrics sink.
func (b *Builder) WithMetrics(m *observability.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithConfig sets the runner's tuning configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// Build constructs the configured Runner.
func (b *Builder) Build() (*Runner, error) {
	if b.registry == nil {
		return nil, fmt.Errorf("session: builder requires WithRegistry")
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: b.registry,
		metrics:  b.metrics,
		logger:   logger,
		cfg:      b.cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// Runner builds and owns every active Session, the generalization of
// internal/pipeline/core.Factory ("creates configured Orchestrator
// instances with all required stages") to "creates configured Sessions
// with all manifest-declared nodes wired".
type Runner struct {
	registry *capability.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// CreateSession validates m, instantiates every declared node and edge
// against the registry, and starts the executor (spec.md §4.G/§6.3).
func (r *Runner) CreateSession(ctx context.Context, m *manifest.Manifest) (*Session, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.cfg.MaxConcurrentSessions > 0 && len(r.sessions) >= r.cfg.MaxConcurrentSessions {
		r.mu.Unlock()
		return nil, apperrors.ErrResourceExhausted
	}
	r.mu.Unlock()

	ex := executor.New(r.cfg.Executor, r.registry, nil)
	sessID := ids.New()

	for _, n := range m.Nodes {
		entry, ok := r.registry.Get(n.NodeType)
		if !ok {
			return nil, fmt.Errorf("session: unknown node_type %q for node %s", n.NodeType, n.ID)
		}
		if err := r.registry.ValidateParams(n.ID, n.NodeType, n.Params); err != nil {
			return nil, err
		}

		inst, err := r.instantiateNode(sessID.String(), n, entry)
		if err != nil {
			return nil, err
		}
		if err := ex.AddNode(n.ID, n.NodeType, inst, n.IsStreaming); err != nil {
			return nil, err
		}
	}

	hasIncoming := make(map[string]bool)
	hasOutgoing := make(map[string]bool)
	for _, c := range m.Connections {
		fromNode, _ := m.NodeByID(c.From)
		toNode, _ := m.NodeByID(c.To)
		if err := r.registry.ValidateEdge(c.From, fromNode.NodeType, c.To, toNode.NodeType); err != nil {
			return nil, err
		}

		edge := r.newEdge(c.From, c.To, c.FromPort, c.ToPort)
		if err := ex.Connect(edge); err != nil {
			return nil, err
		}
		hasOutgoing[c.From] = true
		hasIncoming[c.To] = true
	}

	var entryID, exitID string
	for _, n := range m.Nodes {
		if !hasIncoming[n.ID] {
			entryID = n.ID
		}
		if !hasOutgoing[n.ID] {
			exitID = n.ID
		}
	}

	sess := &Session{
		ID:        sessID,
		Manifest:  m,
		state:     StateInitializing,
		createdAt: time.Now(),
		inputCh:   make(chan TransportData, r.cfg.DefaultEdgeCapacity),
		outputCh:  make(chan TransportData, r.cfg.DefaultEdgeCapacity),
		done:      make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel

	inEdge := r.newExternalEdge("external-in", entryID)
	outEdge := r.newExternalEdge(exitID, "external-out")
	if entryID != "" {
		if err := ex.Connect(inEdge); err != nil {
			return nil, err
		}
	}
	if exitID != "" {
		if err := ex.Connect(outEdge); err != nil {
			return nil, err
		}
	}

	sess.inputEdge = inEdge

	r.mu.Lock()
	r.sessions[sess.ID.String()] = sess
	r.mu.Unlock()

	sess.setState(StateActive)

	go r.pumpInput(runCtx, sess, inEdge)
	go r.pumpOutput(runCtx, sess, outEdge)
	go r.runGraph(runCtx, sess, ex)

	return sess, nil
}

// instantiateNode builds the live node.Node for one manifest node entry:
// an in-process instance from the registry's factory (the default, and the
// only path when RuntimeHint is empty), or a worker.NodeAdapter driving a
// spawned child process when the manifest requests
// manifest.RuntimeOutOfProcess (spec.md §2 Component E: "allocates node
// instances (in-process objects or out-of-process workers via the Worker
// Process Manager...)").
func (r *Runner) instantiateNode(sessionID string, n manifest.NodeSpec, entry *capability.Entry) (node.Node, error) {
	switch n.RuntimeHint {
	case "", manifest.RuntimeInProcess:
		if entry.Factory == nil {
			return nil, fmt.Errorf("session: node_type %q has no factory registered", n.NodeType)
		}
		inst, err := entry.Factory()
		if err != nil {
			return nil, fmt.Errorf("session: constructing node %s: %w", n.ID, err)
		}
		return inst, nil

	case manifest.RuntimeOutOfProcess:
		wc := r.cfg.Worker
		adapterCfg := worker.AdapterConfig{
			Process: worker.Config{
				WorkerID:          fmt.Sprintf("%s-%s", sessionID, n.ID),
				NodeType:          n.NodeType,
				Command:           wc.Command,
				Args:              wc.Args,
				SocketDir:         wc.SocketDir,
				SpawnTimeout:      wc.SpawnTimeout,
				HeartbeatInterval: wc.HeartbeatInterval,
				HeartbeatTimeout:  wc.HeartbeatTimeout,
				MaxRestarts:       wc.MaxRestarts,
			},
			ShmDir:        wc.ShmDir,
			RingSlotCount: wc.RingSlotCount,
			RingSlotSize:  wc.RingSlotSize,
		}
		return worker.NewNodeAdapter(n.NodeType, entry.Traits, adapterCfg, r.logger), nil

	default:
		return nil, fmt.Errorf("session: node %s: unknown runtime_hint %q", n.ID, n.RuntimeHint)
	}
}

func (r *Runner) newEdge(fromID, toID, fromPort, toPort string) *executor.Edge {
	ch, err := ipc.NewChannel(ipc.Config{
		Name:     fmt.Sprintf("%s:%s->%s", fromID, toID, toPort),
		Capacity: r.cfg.DefaultEdgeCapacity,
		Policy:   r.cfg.DefaultOverflowPolicy,
		Metrics:  r.metrics,
	})
	if err != nil {
		// Capacity/Policy are runner-controlled constants validated at
		// startup; NewChannel only fails on caller misconfiguration.
		panic(fmt.Sprintf("session: building edge %s->%s: %v", fromID, toID, err))
	}
	return &executor.Edge{From: fromID, To: toID, FromPort: fromPort, ToPort: toPort, Publisher: ch, Subscriber: ch}
}

func (r *Runner) newExternalEdge(fromID, toID string) *executor.Edge {
	return r.newEdge(fromID, toID, "", "")
}

// isShutdownErr reports whether err is a benign side effect of a graceful
// or forced session shutdown rather than a real execution failure: either
// the owning ctx was cancelled/expired (forced cancel), or the edge's
// publish side was dropped out from under an in-flight Send (graceful
// close racing a pump still trying to write).
func isShutdownErr(sess *Session, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	state := sess.State()
	return state == StateClosing || state == StateClosed
}

func (r *Runner) pumpInput(ctx context.Context, sess *Session, edge *executor.Edge) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case td, ok := <-sess.inputCh:
			if !ok {
				return
			}
			if err := edge.Send(ctx, td.Data); err != nil {
				if !isShutdownErr(sess, err) {
					sess.setTerminalError(err)
				}
				return
			}
		}
	}
}

func (r *Runner) pumpOutput(ctx context.Context, sess *Session, edge *executor.Edge) {
	defer close(sess.outputCh)
	for {
		v, ok, err := edge.Recv(ctx)
		if err != nil {
			if !isShutdownErr(sess, err) {
				sess.setTerminalError(err)
			}
			return
		}
		if !ok {
			return
		}
		select {
		case sess.outputCh <- TransportData{Data: v}:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) runGraph(ctx context.Context, sess *Session, ex *executor.Executor) {
	err := ex.Run(ctx)
	if err != nil && !isShutdownErr(sess, err) {
		sess.setTerminalError(err)
	}
	sess.setState(StateClosed)
	close(sess.done)

	r.mu.Lock()
	delete(r.sessions, sess.ID.String())
	r.mu.Unlock()
}

// Close triggers cooperative shutdown of a session: it drops the session's
// external input edge so every task observes end-of-input and unwinds on
// its own (spec.md §4.F's graceful close), waiting up to the runner's
// CloseDeadline before forcing teardown via context cancellation (spec.md
// §5: "close() triggers cooperative shutdown with a per-session deadline,
// default 10s"). Close is idempotent: calling it again once a session has
// already reached Closing or Closed is a no-op (spec.md §8 Property 1).
func (r *Runner) Close(sess *Session) error {
	switch sess.State() {
	case StateClosing, StateClosed:
		return nil
	}
	sess.setState(StateClosing)
	if sess.inputEdge != nil {
		_ = sess.inputEdge.Close()
	}

	deadline := r.cfg.CloseDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	select {
	case <-sess.Done():
		sess.cancel()
		return nil
	case <-time.After(deadline):
		sess.cancel()
		<-sess.Done()
		return &apperrors.TimeoutErr{Op: "session close " + sess.ID.String(), Timeout: deadline}
	}
}

// ExecuteUnary runs a manifest for exactly one input item and returns the
// first output produced, the convenience entry point spec.md §4.G
// describes for one-in/one-out graphs.
func (r *Runner) ExecuteUnary(ctx context.Context, m *manifest.Manifest, input data.RuntimeData) (data.RuntimeData, error) {
	sess, err := r.CreateSession(ctx, m)
	if err != nil {
		return nil, err
	}
	defer r.Close(sess)

	select {
	case sess.Input() <- TransportData{Data: input}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out, ok := <-sess.Output():
		if !ok {
			if sess.LastError() != nil {
				return nil, sess.LastError()
			}
			return nil, fmt.Errorf("session: %w", apperrors.ErrSessionClosed)
		}
		return out.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup returns a currently tracked session by id (spec.md §6.3's
// SessionId-addressed send_input/recv_output/close surface).
func (r *Runner) Lookup(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, &apperrors.NotFoundErr{SessionID: sessionID}
	}
	return sess, nil
}
