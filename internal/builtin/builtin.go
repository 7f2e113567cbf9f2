// Package builtin provides the handful of trivial, domain-agnostic node
// types named directly in spec.md's own testable scenarios (§8: "Identity
// pipeline", "SpeculativeVADGate → Sink") — PassThrough, Sink, and
// SpeculativeVADGate, which exercises the speculative-forward/cancel
// primitive (spec.md §4.F) without any actual VAD/resampling/codec logic.
// These are not "concrete node implementations" in spec.md §1's
// out-of-scope sense (no domain decision logic lives here); they exist so
// the engine is runnable and testable end to end without an external
// worker plugin, the same role tvarr's internal/pipeline/shared base
// stages play for its own orchestrator tests.
package builtin

import (
	"context"
	"time"

	"github.com/mediarun/mediarun/internal/capability"
	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/node"
	"github.com/mediarun/mediarun/internal/syncclock"
)

// PassThrough forwards its input unchanged (spec.md §8 scenario 1:
// "Identity pipeline... Expected output: byte-identical Audio{...}").
type PassThrough struct {
	node.BaseNode
}

func (PassThrough) NodeType() string                     { return "pass_through" }
func (PassThrough) Traits() node.Traits                   { return node.Parallelizable }
func (PassThrough) Initialize(ctx context.Context) error  { return nil }
func (PassThrough) Cleanup(ctx context.Context) error     { return nil }

func (PassThrough) Process(_ context.Context, input data.RuntimeData) (data.RuntimeData, error) {
	return input, nil
}

// Sink is a terminal node: it accepts any RuntimeData, records the last few
// values it saw for inspection, and passes each value on unchanged (spec.md
// §8 scenario 4's "Sink" terminal node, GLOSSARY: "Terminal node: a node
// with no outgoing edges; its emissions go to the session output").
// Sink itself has no outgoing edges in a manifest sense, but it still
// implements streaming mode so the executor can drive it uniformly; its
// "emission" is simply forwarding to whatever the manifest wires as its
// own output (normally nothing, since it is terminal).
type Sink struct {
	node.BaseNode

	mu   chan struct{}
	last []data.RuntimeData
}

// NewSink constructs a Sink retaining up to capacity recent values.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 16
	}
	return &Sink{mu: make(chan struct{}, 1), last: make([]data.RuntimeData, 0, capacity)}
}

func (s *Sink) NodeType() string                    { return "sink" }
func (s *Sink) Traits() node.Traits                 { return node.Parallelizable | node.SupportsControl }
func (s *Sink) Initialize(ctx context.Context) error { return nil }
func (s *Sink) Cleanup(ctx context.Context) error    { return nil }

func (s *Sink) Process(_ context.Context, input data.RuntimeData) (data.RuntimeData, error) {
	s.record(input)
	return input, nil
}

func (s *Sink) ProcessStreaming(_ context.Context, input data.RuntimeData, _ string, emit node.EmitFunc) (int, error) {
	s.record(input)
	if err := emit(input); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Sink) record(v data.RuntimeData) {
	s.mu <- struct{}{}
	defer func() { <-s.mu }()
	if len(s.last) == cap(s.last) {
		copy(s.last, s.last[1:])
		s.last = s.last[:len(s.last)-1]
	}
	s.last = append(s.last, v)
}

// Last returns a snapshot of the most recently received values, oldest
// first.
func (s *Sink) Last() []data.RuntimeData {
	s.mu <- struct{}{}
	defer func() { <-s.mu }()
	out := make([]data.RuntimeData, len(s.last))
	copy(out, s.last)
	return out
}

// SpeculativeVADGate forwards each Audio chunk immediately, then decides
// whether the speculation holds by feeding the chunk's TimestampUs against
// its arrival time into a syncclock.DriftEstimator: a node tagged
// speculative is expected to retract a forward via CancelSpeculation once
// a later decision invalidates it (spec.md §4.F "Speculative forwarding
// primitive", §8 scenario 4 "SpeculativeVADGate → Sink"). This gate uses
// clock-drift confidence as a stand-in for the real VAD decision an actual
// deployment would run (out of scope here per spec.md §1): until the
// estimator has seen enough samples to trust the stream's timing, or once
// it has and flags the drift as more than Monitor-worthy, the gate
// retracts the segment it just forwarded.
type SpeculativeVADGate struct {
	node.BaseNode

	drift *syncclock.DriftEstimator
	epoch time.Time
}

// NewSpeculativeVADGate constructs a gate tracking drift against a single
// upstream stream.
func NewSpeculativeVADGate() *SpeculativeVADGate {
	return &SpeculativeVADGate{
		drift: syncclock.New("default"),
		epoch: time.Unix(0, 0),
	}
}

func (g *SpeculativeVADGate) NodeType() string { return "speculative_vad_gate" }
func (g *SpeculativeVADGate) Traits() node.Traits {
	return node.Parallelizable | node.MultiOutput | node.SupportsControl
}
func (g *SpeculativeVADGate) Initialize(ctx context.Context) error { return nil }
func (g *SpeculativeVADGate) Cleanup(ctx context.Context) error    { return nil }

func (g *SpeculativeVADGate) ProcessStreaming(_ context.Context, input data.RuntimeData, _ string, emit node.EmitFunc) (int, error) {
	if err := emit(input); err != nil {
		return 0, err
	}
	emitted := 1

	audio, ok := input.(data.Audio)
	if !ok {
		return emitted, nil
	}

	remote := g.epoch.Add(time.Duration(audio.TimestampUs) * time.Microsecond)
	received := time.Now()
	if audio.ArrivalTsUs != 0 {
		received = g.epoch.Add(time.Duration(audio.ArrivalTsUs) * time.Microsecond)
	}
	g.drift.AddObservation(remote, received)

	if g.shouldRetract() {
		fromTs := audio.TimestampUs
		toTs := fromTs + audioDurationUs(audio)
		if err := emit(data.ControlMessage{
			Kind:   data.ControlKindCancelSpeculation,
			FromTs: fromTs,
			ToTs:   toTs,
		}); err != nil {
			return emitted, err
		}
		emitted++
	}
	return emitted, nil
}

// shouldRetract reports whether the most recent forward should be
// retracted: conservatively true until enough observations exist to trust
// the stream's timing, then driven by the estimator's recommended action.
func (g *SpeculativeVADGate) shouldRetract() bool {
	est, ok := g.drift.Estimate()
	if !ok {
		return true
	}
	return est.RecommendedAction == syncclock.ActionAdjust || est.RecommendedAction == syncclock.ActionInvestigate
}

// audioDurationUs returns an Audio chunk's playback duration in
// microseconds from its sample count and rate.
func audioDurationUs(a data.Audio) uint64 {
	if a.SampleRate == 0 {
		return 0
	}
	return uint64(a.NumSamples()) * 1_000_000 / uint64(a.SampleRate)
}

// AnyConstraints is the permissive FieldConstraints every builtin node
// type advertises: they accept/produce any media type and impose no
// field constraints, matching spec.md §3.3's MediaConstraints::Any.
func AnyConstraints() capability.FieldConstraints {
	return capability.FieldConstraints{MediaType: capability.MediaAny}
}

// Register installs PassThrough, Sink, and SpeculativeVADGate into reg under
// the node_type names "pass_through", "sink", and "speculative_vad_gate",
// the generic fixtures used by the CLI's
// "run"/"validate" commands and by integration tests that need a runnable
// manifest without a real worker plugin.
func Register(reg *capability.Registry) error {
	if err := reg.Register("pass_through",
		func() (node.Node, error) { return PassThrough{}, nil },
		nil, AnyConstraints(), AnyConstraints(), node.Parallelizable,
	); err != nil {
		return err
	}
	if err := reg.Register("sink",
		func() (node.Node, error) { return NewSink(32), nil },
		nil, AnyConstraints(), AnyConstraints(), node.Parallelizable|node.SupportsControl,
	); err != nil {
		return err
	}
	return reg.Register("speculative_vad_gate",
		func() (node.Node, error) { return NewSpeculativeVADGate(), nil },
		nil, AnyConstraints(), AnyConstraints(), node.Parallelizable|node.MultiOutput|node.SupportsControl,
	)
}
