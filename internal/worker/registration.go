package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediarun/mediarun/internal/apperrors"
	"github.com/mediarun/mediarun/internal/worker/control"
)

// HeartbeatMonitor runs the parent side of the heartbeat loop against an
// already-spawned Process: it reads Heartbeat/ProcessExited messages off
// the control connection and flags the owning session when the worker
// goes unhealthy or crashes. Mirrors
// internal/daemon/registration.go's heartbeatLoop/reconnect pair, but the
// parent here is reading heartbeats pushed by a local child instead of
// polling a remote coordinator.
type HeartbeatMonitor struct {
	process *Process
	logger  *slog.Logger

	timeout time.Duration

	// onExit is invoked once with the terminal error when the worker
	// crashes or misses its heartbeat deadline; always NodeCrashedErr per
	// spec.md §4.E/§4.F ("always fatal to the owning session").
	onExit func(error)
}

// NewHeartbeatMonitor constructs a monitor for an already-running Process.
func NewHeartbeatMonitor(p *Process, logger *slog.Logger, onExit func(error)) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		process: p,
		logger:  logger,
		timeout: p.cfg.HeartbeatTimeout,
		onExit:  onExit,
	}
}

// Run reads control messages until ctx is cancelled, the worker process
// stops, or the heartbeat deadline lapses.
func (m *HeartbeatMonitor) Run(ctx context.Context) error {
	m.process.mu.RLock()
	conn := m.process.conn
	reader := m.process.reader
	m.process.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("worker: heartbeat monitor started before Spawn completed")
	}

	if err := m.process.setState(Running); err != nil {
		return err
	}

	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()

	type readResult struct {
		env control.Envelope
		err error
	}
	reads := make(chan readResult, 1)
	go func() {
		for {
			env, err := control.Decode(reader)
			reads <- readResult{env, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.process.stopped:
			return nil
		case <-deadline.C:
			err := &apperrors.NodeCrashedErr{NodeID: m.process.cfg.WorkerID, Reason: "heartbeat timeout"}
			_ = m.process.setState(Error)
			if m.onExit != nil {
				m.onExit(err)
			}
			return err
		case r := <-reads:
			if r.err != nil {
				crashErr := &apperrors.NodeCrashedErr{NodeID: m.process.cfg.WorkerID, Reason: r.err.Error()}
				_ = m.process.setState(Error)
				if m.onExit != nil {
					m.onExit(crashErr)
				}
				return crashErr
			}
			if !deadline.Stop() {
				<-deadline.C
			}
			deadline.Reset(m.timeout)

			switch r.env.Type {
			case control.MsgHeartbeat:
				var hb control.Heartbeat
				_ = json.Unmarshal(r.env.Payload, &hb)
				m.process.mu.Lock()
				m.process.lastSeen = time.Now()
				m.process.activeJobs = hb.ActiveJobs
				m.process.mu.Unlock()
				_ = control.Encode(conn, control.MsgHeartbeatAck, struct{}{})
			case control.MsgProcessExited:
				err := &apperrors.NodeCrashedErr{NodeID: m.process.cfg.WorkerID, Reason: "process_exited"}
				_ = m.process.setState(Error)
				if m.onExit != nil {
					m.onExit(err)
				}
				return err
			}
		}
	}
}
