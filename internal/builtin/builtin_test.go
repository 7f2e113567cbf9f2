package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediarun/mediarun/internal/capability"
	"github.com/mediarun/mediarun/internal/data"
)

func TestPassThrough_ReturnsInputUnchanged(t *testing.T) {
	pt := PassThrough{}
	in := data.Audio{Samples: []float32{0.1, 0.2, 0.3}, SampleRate: 16000, Channels: 1}

	out, err := pt.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSink_RecordsRecentValues(t *testing.T) {
	s := NewSink(2)

	_, err := s.Process(context.Background(), data.Text("a"))
	require.NoError(t, err)
	_, err = s.Process(context.Background(), data.Text("b"))
	require.NoError(t, err)
	_, err = s.Process(context.Background(), data.Text("c"))
	require.NoError(t, err)

	last := s.Last()
	require.Len(t, last, 2)
	assert.Equal(t, data.Text("b"), last[0])
	assert.Equal(t, data.Text("c"), last[1])
}

func TestSink_ProcessStreamingEmitsOnce(t *testing.T) {
	s := NewSink(4)
	var emitted []data.RuntimeData
	n, err := s.ProcessStreaming(context.Background(), data.Text("x"), "sess-1", func(v data.RuntimeData) error {
		emitted = append(emitted, v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []data.RuntimeData{data.Text("x")}, emitted)
}

func TestSpeculativeVADGate_ForwardsThenCancelsFirstSegment(t *testing.T) {
	g := NewSpeculativeVADGate()
	audio := data.Audio{
		Samples:     make([]float32, 320), // 20ms @ 16kHz mono
		SampleRate:  16000,
		Channels:    1,
		TimestampUs: 0,
	}

	var emitted []data.RuntimeData
	n, err := g.ProcessStreaming(context.Background(), audio, "sess-1", func(v data.RuntimeData) error {
		emitted = append(emitted, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, emitted, 2)

	assert.Equal(t, audio, emitted[0])

	cm, ok := emitted[1].(data.ControlMessage)
	require.True(t, ok)
	assert.Equal(t, data.ControlKindCancelSpeculation, cm.Kind)
	assert.Equal(t, uint64(0), cm.FromTs)
	assert.Equal(t, uint64(20_000), cm.ToTs)
}

func TestSpeculativeVADGate_NonAudioForwardsOnly(t *testing.T) {
	g := NewSpeculativeVADGate()
	var emitted []data.RuntimeData
	n, err := g.ProcessStreaming(context.Background(), data.Text("x"), "sess-1", func(v data.RuntimeData) error {
		emitted = append(emitted, v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []data.RuntimeData{data.Text("x")}, emitted)
}

func TestRegister_InstallsAllTypes(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, Register(reg))

	_, ok := reg.Get("pass_through")
	assert.True(t, ok)
	_, ok = reg.Get("sink")
	assert.True(t, ok)
	_, ok = reg.Get("speculative_vad_gate")
	assert.True(t, ok)

	require.NoError(t, reg.ValidateEdge("a", "pass_through", "b", "sink"))
	require.NoError(t, reg.ValidateEdge("a", "speculative_vad_gate", "b", "sink"))
}
