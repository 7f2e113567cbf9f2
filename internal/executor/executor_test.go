package executor

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediarun/mediarun/internal/capability"
	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/ipc"
	"github.com/mediarun/mediarun/internal/node"
)

func f32Buffer(values ...float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func f32At(buf []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
}

// passthroughNode doubles every Tensor value's first element; used to
// verify unary dispatch and edge wiring end to end.
type passthroughNode struct {
	node.BaseNode
	calls int
}

func (n *passthroughNode) NodeType() string           { return "passthrough" }
func (n *passthroughNode) Traits() node.Traits         { return node.Parallelizable }
func (n *passthroughNode) Initialize(ctx context.Context) error { return nil }
func (n *passthroughNode) Cleanup(ctx context.Context) error    { return nil }

func (n *passthroughNode) Process(ctx context.Context, input data.RuntimeData) (data.RuntimeData, error) {
	n.calls++
	t := input.(data.Tensor)
	out := make([]byte, len(t.Buffer))
	copy(out, t.Buffer)
	if len(out) >= 4 {
		doubled := f32At(out, 0) * 2
		binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(doubled))
	}
	return data.Tensor{Shape: t.Shape, DType: t.DType, Buffer: out}, nil
}

func newChannelEdge(t *testing.T, from, to string, capacity int) *Edge {
	t.Helper()
	ch, err := ipc.NewChannel(ipc.Config{
		Name:     from + "->" + to,
		Capacity: capacity,
		Policy:   ipc.DropOldest,
	})
	require.NoError(t, err)
	return &Edge{From: from, To: to, Publisher: ch, Subscriber: ch}
}

func newTestRegistry(t *testing.T, nodeType string) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	err := reg.Register(nodeType, nil, json.RawMessage(`{}`), capability.FieldConstraints{}, capability.FieldConstraints{}, node.Parallelizable)
	require.NoError(t, err)
	return reg
}

func TestExecutor_UnaryPassthrough(t *testing.T) {
	reg := newTestRegistry(t, "passthrough")
	ex := New(DefaultConfig(), reg, nil)

	require.NoError(t, ex.AddNode("producer", "passthrough", &passthroughNode{}, false))

	in := newChannelEdge(t, "external", "producer", 4)
	outEdge := newChannelEdge(t, "producer", "external", 4)
	require.NoError(t, ex.Connect(in))
	require.NoError(t, ex.Connect(outEdge))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ex.Run(ctx) }()

	input := data.Tensor{Shape: []int{1}, DType: data.DTypeF32, Buffer: f32Buffer(2)}
	require.NoError(t, in.Send(context.Background(), input))

	result, ok, err := outEdge.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	tensor := result.(data.Tensor)
	assert.Equal(t, float32(4), f32At(tensor.Buffer, 0))

	cancel()
	<-done
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}

func TestRetryPolicy_DelayDoublesUpToMax(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.delayFor(0))
	assert.Equal(t, 20*time.Millisecond, p.delayFor(1))
	assert.Equal(t, 30*time.Millisecond, p.delayFor(2))
	assert.Equal(t, 30*time.Millisecond, p.delayFor(3))
}
