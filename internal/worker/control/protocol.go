// Package control implements the length-prefixed JSON protocol a worker
// process manager uses to talk to a supervised node-worker child over a
// unix-domain socket (spec.md §4.E). It replaces tvarr's generated gRPC
// FFmpegDaemonClient stubs (pkg/ffmpegd/proto) with a hand-framed
// alternative carrying the same message shapes (RegisterRequest,
// heartbeat, ProcessReady, ProcessExited) — see the top-level DESIGN.md
// for why gRPC/protobuf codegen wasn't reachable in this module.
package control

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single control message, matching the wire
// codec's own payload ceiling so neither protocol can be used to exhaust
// memory on a malformed frame.
const MaxMessageSize = 1 << 20

// MessageType tags the payload carried by an Envelope.
type MessageType string

const (
	MsgRegisterRequest  MessageType = "register_request"
	MsgRegisterResponse MessageType = "register_response"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgHeartbeatAck     MessageType = "heartbeat_ack"
	MsgProcessReady     MessageType = "process_ready"
	MsgProcessExited    MessageType = "process_exited"
	MsgShutdown         MessageType = "shutdown"
)

// Envelope is the outer frame written on the wire: a type tag plus a raw
// JSON payload, so new message shapes can be added without changing the
// framing.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RegisterRequest is the first message the child worker sends after
// dialling the control socket.
type RegisterRequest struct {
	WorkerID     string `json:"worker_id"`
	NodeType     string `json:"node_type"`
	Version      string `json:"version"`
	PID          int    `json:"pid"`
}

// RegisterResponse is the parent's reply, optionally overriding the
// heartbeat cadence the child should use.
type RegisterResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
	HeartbeatMs       int64  `json:"heartbeat_ms,omitempty"`
}

// Heartbeat reports the child's liveness and current load.
type Heartbeat struct {
	WorkerID   string `json:"worker_id"`
	ActiveJobs int    `json:"active_jobs"`
}

// ProcessReady signals the child finished Initialize and can accept work.
type ProcessReady struct {
	WorkerID string `json:"worker_id"`
}

// ProcessExited reports an unexpected child exit, always fatal to the
// owning session (spec.md §4.E/§4.F).
type ProcessExited struct {
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code"`
}

// Encode writes a 4-byte big-endian length prefix followed by the
// envelope's JSON encoding.
func Encode(w io.Writer, msgType MessageType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("control: marshal %s: %w", msgType, err)
	}
	env := Envelope{Type: msgType, Payload: body}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("control: marshal envelope: %w", err)
	}
	if len(frame) > MaxMessageSize {
		return fmt.Errorf("control: encoded message %d bytes exceeds max %d", len(frame), MaxMessageSize)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Decode reads one length-prefixed envelope from r.
func Decode(r *bufio.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageSize {
		return Envelope{}, fmt.Errorf("control: frame length %d exceeds max %d", n, MaxMessageSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("control: unmarshal envelope: %w", err)
	}
	return env, nil
}
