// Package apperrors holds the typed error taxonomy shared by the manifest
// loader, streaming executor, and session runner, the way
// internal/pipeline/core/errors.go gives tvarr's orchestrator a small set
// of wrapping, field-carrying error structs instead of bare fmt.Errorf.
// Capability-specific errors (ValidationErr, CapabilityMismatchErr) live
// in internal/capability/errors.go instead, next to the registry that
// raises them.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors usable with errors.Is.
var (
	// ErrManifestInvalid indicates a manifest failed structural validation
	// (duplicate node id, dangling connection, or a cycle in the graph).
	ErrManifestInvalid = errors.New("manifest: invalid graph")
	// ErrSessionClosed indicates an operation was attempted against a
	// session that has already transitioned to Closing or Closed.
	ErrSessionClosed = errors.New("session: closed")
	// ErrUnsupportedMode indicates a node was invoked in a mode its
	// declared traits do not support (e.g. process() on a strictly
	// streaming node).
	ErrUnsupportedMode = errors.New("node: unsupported invocation mode")
	// ErrResourceExhausted indicates a concurrent-session or in-flight
	// limit was hit and the caller's request was rejected rather than
	// queued (spec.md §5 Admission control).
	ErrResourceExhausted = errors.New("resource: exhausted")
)

// NotFoundErr reports an operation against a session id the runner does
// not know about, including one that has already fully closed (spec.md
// §7: "send_input on a closed session returns a NotFound-class error").
type NotFoundErr struct {
	SessionID string
}

func (e *NotFoundErr) Error() string {
	return fmt.Sprintf("not found: session %s", e.SessionID)
}

// ExecutionErr wraps a node-level processing failure with the offending
// node's id, tagged onto the error the way spec.md §4.F requires before
// surfacing it to the session error channel.
type ExecutionErr struct {
	NodeID string
	Err    error
}

func (e *ExecutionErr) Error() string {
	return fmt.Sprintf("execution: node %s: %v", e.NodeID, e.Err)
}

func (e *ExecutionErr) Unwrap() error { return e.Err }

// TimeoutErr reports an operation exceeding its configured deadline
// (spec.md §5 Cancellation & timeouts).
type TimeoutErr struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutErr) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Op, e.Timeout)
}

// NodeCrashedErr reports an out-of-process worker exiting unexpectedly,
// always fatal to the owning session (spec.md §4.E/§4.F).
type NodeCrashedErr struct {
	NodeID string
	Reason string
}

func (e *NodeCrashedErr) Error() string {
	return fmt.Sprintf("node %s crashed: %s", e.NodeID, e.Reason)
}

// ManifestErr reports a structural problem found while validating a
// manifest's graph (duplicate ids, dangling connections, a cycle).
type ManifestErr struct {
	Reason string
}

func (e *ManifestErr) Error() string {
	return fmt.Sprintf("manifest: %s", e.Reason)
}

func (e *ManifestErr) Unwrap() error { return ErrManifestInvalid }
