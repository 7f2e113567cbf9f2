package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	require.NotNil(t, m1)
	require.NotNil(t, m2)
	assert.NotSame(t, m1.Registry(), m2.Registry())
}

func TestRecordNodeInvocation(t *testing.T) {
	m := NewMetrics()

	m.RecordNodeInvocation("vad-1", "ok")
	m.RecordNodeInvocation("vad-1", "ok")
	m.RecordNodeInvocation("vad-1", "error")

	assert.InDelta(t, 2, testutil.ToFloat64(m.NodeInvocationsTotal.WithLabelValues("vad-1", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NodeInvocationsTotal.WithLabelValues("vad-1", "error")), 0)
}

func TestRecordEdgeOverflow(t *testing.T) {
	m := NewMetrics()

	m.RecordEdgeOverflow("edge-1", "drop_oldest")

	assert.InDelta(t, 1, testutil.ToFloat64(m.EdgeOverflowTotal.WithLabelValues("edge-1", "drop_oldest")), 0)
}

func TestRecordWorkerStateTransition(t *testing.T) {
	m := NewMetrics()

	m.RecordWorkerStateTransition("spawning", "initializing")

	assert.InDelta(t, 1, testutil.ToFloat64(m.WorkerStateTransitionsTotal.WithLabelValues("spawning", "initializing")), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ActiveSessions.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "mediarun_active_sessions 3")
}
