// Package syncclock estimates clock drift between a remote sender and the
// local receiver from a series of (remote timestamp, local timestamp)
// observations, the way a WebRTC RTCP Sender Report feed would (spec.md
// GLOSSARY: "stream health / clock-drift PPM measurement" is named as
// optional). It is not wired into any required operation; internal/builtin's
// SpeculativeVADGate is its one in-tree consumer, using drift confidence as
// a stand-in for a real VAD decision.
package syncclock

import (
	"math"
	"time"
)

// MaxObservations bounds the sliding window of retained samples.
const MaxObservations = 100

// MinObservations is the minimum sample count before a drift estimate is
// produced.
const MinObservations = 10

// DefaultThresholdPPM is the drift magnitude, in parts per million, above
// which Estimate recommends Adjust.
const DefaultThresholdPPM = 100.0

// Action is the recommended response to a drift estimate.
type Action int

const (
	ActionNone Action = iota
	ActionMonitor
	ActionAdjust
	ActionInvestigate
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionMonitor:
		return "monitor"
	case ActionAdjust:
		return "adjust"
	case ActionInvestigate:
		return "investigate"
	default:
		return "unknown"
	}
}

// observation is one (remote, local) timestamp pair, both expressed as
// microseconds relative to the first observation.
type observation struct {
	remoteUs int64
	localUs  int64
}

// Estimate is the result of fitting a linear model to the observation
// window: local_time ≈ slope * remote_time + intercept.
type Estimate struct {
	// DriftPPM is positive when the remote clock runs faster than the
	// local clock, negative when slower.
	DriftPPM float64
	// SampleCount is the number of observations the estimate used.
	SampleCount int
	// CorrectionFactor converts a remote duration into the equivalent
	// local duration: 1.0 + DriftPPM/1e6.
	CorrectionFactor float64
	// Confidence is sqrt(R²) of the regression, clamped to [0, 1].
	Confidence float64
	// RecommendedAction is derived from Confidence and DriftPPM against
	// the estimator's threshold.
	RecommendedAction Action
}

// DriftEstimator accumulates observations for a single remote peer and
// estimates clock drift via least-squares linear regression. Not safe for
// concurrent use from multiple goroutines without external locking.
type DriftEstimator struct {
	peerID       string
	thresholdPPM float64

	observations []observation
	base         time.Time
	haveBase     bool
}

// New constructs a DriftEstimator using DefaultThresholdPPM.
func New(peerID string) *DriftEstimator {
	return WithThreshold(peerID, DefaultThresholdPPM)
}

// WithThreshold constructs a DriftEstimator with a custom PPM threshold.
func WithThreshold(peerID string, thresholdPPM float64) *DriftEstimator {
	return &DriftEstimator{
		peerID:       peerID,
		thresholdPPM: thresholdPPM,
		observations: make([]observation, 0, MaxObservations),
	}
}

// PeerID returns the peer identifier this estimator tracks.
func (e *DriftEstimator) PeerID() string {
	return e.peerID
}

// ObservationCount returns how many samples are currently retained.
func (e *DriftEstimator) ObservationCount() int {
	return len(e.observations)
}

// CanEstimate reports whether enough samples exist to call Estimate.
func (e *DriftEstimator) CanEstimate() bool {
	return len(e.observations) >= MinObservations
}

// Reset discards all retained observations.
func (e *DriftEstimator) Reset() {
	e.observations = e.observations[:0]
	e.haveBase = false
}

// AddObservation records one (remoteTime, receivedAt) pair. remoteTime is
// the sender-side clock reading (e.g. an NTP timestamp converted to a time
// value); receivedAt is the local time the sample was received.
func (e *DriftEstimator) AddObservation(remoteTime, receivedAt time.Time) {
	if !e.haveBase {
		e.base = receivedAt
		e.haveBase = true
	}

	obs := observation{
		remoteUs: remoteTime.Sub(e.base).Microseconds(),
		localUs:  receivedAt.Sub(e.base).Microseconds(),
	}

	if len(e.observations) >= MaxObservations {
		e.observations = append(e.observations[1:], obs)
		return
	}
	e.observations = append(e.observations, obs)
}

// Estimate fits a linear model across the retained observations and
// returns the drift estimate, or false if fewer than MinObservations
// samples have been collected or the local-time spread is degenerate.
func (e *DriftEstimator) Estimate() (Estimate, bool) {
	n := len(e.observations)
	if n < MinObservations {
		return Estimate{}, false
	}

	var sumX, sumY, sumXY, sumXX, sumYY float64
	for _, obs := range e.observations {
		x := float64(obs.localUs)
		y := float64(obs.remoteUs)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
		sumYY += y * y
	}
	fn := float64(n)

	denom := fn*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-10 {
		return Estimate{}, false
	}

	slope := (fn*sumXY - sumX*sumY) / denom
	driftPPM := (slope - 1.0) * 1_000_000.0

	meanY := sumY / fn
	ssTot := sumYY - fn*meanY*meanY
	ssRes := ssTot - slope*(sumXY-sumX*meanY)
	rSquared := 1.0
	if math.Abs(ssTot) > 1e-10 {
		rSquared = clampFloat(1.0-math.Max(ssRes/ssTot, 0), 0, 1)
	}
	confidence := clampFloat(math.Sqrt(rSquared), 0, 1)

	action := recommendAction(confidence, driftPPM, e.thresholdPPM)

	return Estimate{
		DriftPPM:          driftPPM,
		SampleCount:       n,
		CorrectionFactor:  1.0 + driftPPM/1_000_000.0,
		Confidence:        confidence,
		RecommendedAction: action,
	}, true
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func recommendAction(confidence, driftPPM, thresholdPPM float64) Action {
	switch {
	case confidence < 0.5:
		return ActionInvestigate
	case math.Abs(driftPPM) < thresholdPPM/2.0:
		return ActionNone
	case math.Abs(driftPPM) < thresholdPPM:
		return ActionMonitor
	default:
		return ActionAdjust
	}
}
