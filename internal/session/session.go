// Package session wires a parsed manifest into a running graph and owns
// its lifetime (spec.md §3.4/§4.G). It is the direct generalization of
// tvarr's internal/pipeline/core.Orchestrator: where Orchestrator runs a
// fixed slice of Stages once against a single shared State and returns,
// a Session stays alive for as long as its manifest's graph is, driving
// the internal/executor.Executor concurrently and exposing input/output
// edges to the caller instead of a single Result value.
package session

import (
	"sync"
	"time"

	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/executor"
	"github.com/mediarun/mediarun/internal/ids"
	"github.com/mediarun/mediarun/internal/manifest"
)

// State is a session's lifecycle stage (spec.md §3.4).
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StatePaused       State = "paused"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

// TransportData is the transport-neutral envelope carried across the
// session's external input/output edges (spec.md §4.G): "a thin wrapper
// { data: RuntimeData, metadata: map<string,string> }". Transports
// (gRPC, HTTP, etc.) live outside this package and only ever shuttle
// TransportData values.
type TransportData struct {
	Data     data.RuntimeData
	Metadata map[string]string
}

// Session owns one running instance of a manifest: its node cache, its
// external input/output channels, and every resource the executor
// allocated on its behalf (spec.md §3.4: "the session exclusively owns
// its per-node tasks, edge queues, and child worker processes... no
// task outlives its session").
type Session struct {
	ID       ids.ULID
	Manifest *manifest.Manifest

	mu        sync.RWMutex
	state     State
	createdAt time.Time

	inputCh  chan TransportData
	outputCh chan TransportData

	// inputEdge is the session's external entry edge. Close drops it to
	// signal graceful end-of-input (spec.md §4.F) rather than cancelling
	// cancel outright.
	inputEdge *executor.Edge

	cancel func()
	done   chan struct{}

	lastErr error
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// CreatedAt returns when the session was constructed.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Input returns the channel a caller sends TransportData into
// (spec.md §6.3's send_input).
func (s *Session) Input() chan<- TransportData {
	return s.inputCh
}

// Output returns the channel a caller receives TransportData from
// (spec.md §6.3's recv_output: "None on terminal close" maps to the
// channel closing).
func (s *Session) Output() <-chan TransportData {
	return s.outputCh
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastError returns the terminal error that closed the session, if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) setTerminalError(err error) {
	s.mu.Lock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}
