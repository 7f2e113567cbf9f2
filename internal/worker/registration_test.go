package worker

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediarun/mediarun/internal/worker/control"
)

func bufioReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReader(conn)
}

// newTestProcess builds a Process already past Spawn, wired to one end of
// an in-memory net.Pipe, so HeartbeatMonitor can be exercised without
// actually forking a child process.
func newTestProcess(t *testing.T, timeout time.Duration) (*Process, net.Conn) {
	t.Helper()
	parentConn, childConn := net.Pipe()
	t.Cleanup(func() { parentConn.Close(); childConn.Close() })

	p := NewProcess(Config{WorkerID: "w1", HeartbeatTimeout: timeout}, slog.Default())
	p.state = Ready
	p.conn = parentConn
	p.reader = bufioReader(parentConn)
	return p, childConn
}

func TestHeartbeatMonitor_AcksHeartbeats(t *testing.T) {
	p, child := newTestProcess(t, 200*time.Millisecond)

	var exitErr error
	mon := NewHeartbeatMonitor(p, slog.Default(), func(err error) { exitErr = err })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	require.NoError(t, control.Encode(child, control.MsgHeartbeat, control.Heartbeat{WorkerID: "w1", ActiveJobs: 1}))

	reader := bufioReader(child)
	env, err := control.Decode(reader)
	require.NoError(t, err)
	assert.Equal(t, control.MsgHeartbeatAck, env.Type)

	<-done
	assert.Nil(t, exitErr)
	assert.Equal(t, Running, p.State())
}

func TestHeartbeatMonitor_ProcessExitedIsFatal(t *testing.T) {
	p, child := newTestProcess(t, time.Second)

	var exitErr error
	mon := NewHeartbeatMonitor(p, slog.Default(), func(err error) { exitErr = err })

	done := make(chan error, 1)
	go func() { done <- mon.Run(context.Background()) }()

	require.NoError(t, control.Encode(child, control.MsgProcessExited, control.ProcessExited{WorkerID: "w1", Reason: "panic", ExitCode: 1}))

	err := <-done
	require.Error(t, err)
	assert.Equal(t, err, exitErr)
	assert.Equal(t, Error, p.State())
}
