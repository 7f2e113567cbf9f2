package syncclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsEmpty(t *testing.T) {
	e := New("peer1")
	assert.Equal(t, "peer1", e.PeerID())
	assert.Equal(t, 0, e.ObservationCount())
	assert.False(t, e.CanEstimate())
}

func TestEstimate_InsufficientObservations(t *testing.T) {
	e := New("peer1")
	base := time.Now()
	for i := 0; i < 5; i++ {
		t := base.Add(time.Duration(i) * time.Second)
		e.AddObservation(t, t)
	}

	assert.False(t, e.CanEstimate())
	_, ok := e.Estimate()
	assert.False(t, ok)
}

func TestEstimate_NoDrift(t *testing.T) {
	e := New("peer1")
	base := time.Now()
	for i := 0; i < 20; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		e.AddObservation(ts, ts)
	}

	est, ok := e.Estimate()
	require.True(t, ok)
	assert.InDelta(t, 0, est.DriftPPM, 10)
	assert.Greater(t, est.Confidence, 0.9)
	assert.Equal(t, ActionNone, est.RecommendedAction)
}

func TestEstimate_PositiveDrift(t *testing.T) {
	e := WithThreshold("peer1", 100.0)
	base := time.Now()
	for i := 0; i < 20; i++ {
		local := base.Add(time.Duration(i) * time.Second)
		remote := base.Add(time.Duration(float64(i)*1.0005*float64(time.Second)))
		e.AddObservation(remote, local)
	}

	est, ok := e.Estimate()
	require.True(t, ok)
	assert.Greater(t, est.DriftPPM, 400.0)
	assert.Less(t, est.DriftPPM, 600.0)
	assert.Equal(t, ActionAdjust, est.RecommendedAction)
}

func TestReset(t *testing.T) {
	e := New("peer1")
	base := time.Now()
	for i := 0; i < 15; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		e.AddObservation(ts, ts)
	}
	require.True(t, e.CanEstimate())

	e.Reset()
	assert.False(t, e.CanEstimate())
	assert.Equal(t, 0, e.ObservationCount())
}

func TestAddObservation_CapsAtMaxObservations(t *testing.T) {
	e := New("peer1")
	base := time.Now()
	for i := 0; i < 150; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		e.AddObservation(ts, ts)
	}
	assert.Equal(t, MaxObservations, e.ObservationCount())
}
