package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/mediarun/mediarun/internal/apperrors"
	"github.com/mediarun/mediarun/internal/worker/control"
)

// Config parameterizes a single worker process (spec.md §4.E).
type Config struct {
	WorkerID    string
	NodeType    string
	Command     string
	Args        []string
	Env         []string
	SocketDir   string
	SpawnTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxRestarts       int
}

// Process supervises one out-of-process node worker: it spawns the
// child via os/exec, exposes a unix-domain socket the child dials back
// into to register, and tracks lifecycle state through the Spawning ->
// Initializing -> Ready -> Running -> Stopped|Error machine. Grounded on
// internal/daemon/registration.go's RegistrationClient, rehosted from "a
// remote gRPC-connected transcode daemon" to "a local child process
// reached over a unix socket".
type Process struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	state      State
	cmd        *exec.Cmd
	conn       net.Conn
	reader     *bufio.Reader
	lastSeen   time.Time
	restarts   int
	activeJobs int
	stopped    chan struct{}
}

// NewProcess constructs a supervised worker process, applying the same
// defaults daemon.NewRegistrationClient does for heartbeat/reconnect
// tuning.
func NewProcess(cfg Config, logger *slog.Logger) *Process {
	if cfg.SpawnTimeout == 0 {
		cfg.SpawnTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 2 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 6 * time.Second
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = 5
	}
	return &Process{
		cfg:     cfg,
		logger:  logger,
		state:   Spawning,
		stopped: make(chan struct{}),
	}
}

func (p *Process) socketPath() string {
	dir := p.cfg.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("mediarun-worker-%s.sock", p.cfg.WorkerID))
}

func (p *Process) setState(next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.CanTransition(next) {
		return &TransitionError{From: p.state, To: next}
	}
	prev := p.state
	p.state = next
	p.logger.Info("worker state transition",
		slog.String("worker_id", p.cfg.WorkerID),
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
	return nil
}

// State returns the worker's current lifecycle state.
func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Spawn starts the child process and blocks until it registers over the
// control socket or SpawnTimeout elapses (spec.md §4.E:
// "InitializationFailed on timeout, default 30s, configurable").
func (p *Process) Spawn(ctx context.Context) error {
	sockPath := p.socketPath()
	_ = os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("worker: listen %s: %w", sockPath, err)
	}
	defer listener.Close()

	cmd := exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)
	cmd.Env = append(append([]string{}, p.cfg.Env...),
		"MEDIARUN_WORKER_ID="+p.cfg.WorkerID,
		"MEDIARUN_WORKER_SOCKET="+sockPath,
		"MEDIARUN_NODE_TYPE="+p.cfg.NodeType,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = p.setState(Error)
		return fmt.Errorf("worker: spawn %s: %w", p.cfg.Command, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	if err := p.setState(Initializing); err != nil {
		return err
	}

	acceptCtx, cancel := context.WithTimeout(ctx, p.cfg.SpawnTimeout)
	defer cancel()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept()
		accepted <- acceptResult{conn, err}
	}()

	select {
	case <-acceptCtx.Done():
		_ = p.setState(Error)
		return &apperrors.TimeoutErr{Op: "worker spawn " + p.cfg.WorkerID, Timeout: p.cfg.SpawnTimeout}
	case res := <-accepted:
		if res.err != nil {
			_ = p.setState(Error)
			return fmt.Errorf("worker: accept control connection: %w", res.err)
		}
		p.mu.Lock()
		p.conn = res.conn
		p.reader = bufio.NewReader(res.conn)
		p.lastSeen = time.Now()
		p.mu.Unlock()
	}

	if err := p.handshake(); err != nil {
		_ = p.setState(Error)
		return err
	}

	return p.setState(Ready)
}

func (p *Process) handshake() error {
	p.mu.RLock()
	conn := p.conn
	reader := p.reader
	p.mu.RUnlock()

	env, err := control.Decode(reader)
	if err != nil {
		return fmt.Errorf("worker: handshake decode: %w", err)
	}
	if env.Type != control.MsgRegisterRequest {
		return fmt.Errorf("worker: handshake: expected register_request, got %s", env.Type)
	}

	return control.Encode(conn, control.MsgRegisterResponse, control.RegisterResponse{
		Success:     true,
		HeartbeatMs: p.cfg.HeartbeatInterval.Milliseconds(),
	})
}

// Stop terminates the child process. Idempotent: calling it on an
// already-stopped worker is a no-op (spec.md §4.E).
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return nil
	}
	cmd := p.cmd
	conn := p.conn
	p.state = Stopped
	p.mu.Unlock()

	if conn != nil {
		_ = control.Encode(conn, control.MsgShutdown, struct{}{})
		_ = conn.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	close(p.stopped)
	_ = os.Remove(p.socketPath())
	return nil
}

// ActiveJobs returns the worker's last-reported in-flight job count,
// used by scheduling the way types.Daemon.ActiveJobs feeds
// types.Daemon.CanAcceptJobs.
func (p *Process) ActiveJobs() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeJobs
}
