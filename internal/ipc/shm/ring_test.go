package shm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediarun/mediarun/internal/ipc"
)

func newTestRing(t *testing.T, policy ipc.OverflowPolicy, merge ipc.MergeFunc) *Ring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edge.ring")
	r, err := Create(Config{Path: path, SlotCount: 2, SlotSize: 64, Policy: policy, Merge: merge})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRing_PublishReceive_FIFO(t *testing.T) {
	r := newTestRing(t, ipc.DropOldest, nil)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, []byte("a")))
	require.NoError(t, r.Publish(ctx, []byte("b")))

	frame, ok, err := r.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), frame)

	frame, ok, err = r.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), frame)

	assert.Equal(t, 0, r.Depth())
}

func TestRing_DropOldestEvictsOnOverflow(t *testing.T) {
	r := newTestRing(t, ipc.DropOldest, nil)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, []byte("1")))
	require.NoError(t, r.Publish(ctx, []byte("2")))
	require.NoError(t, r.Publish(ctx, []byte("3")))

	assert.Equal(t, 2, r.Depth())
	frame, ok, err := r.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), frame)
}

func TestRing_DropNewestRejectsSilently(t *testing.T) {
	r := newTestRing(t, ipc.DropNewest, nil)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, []byte("1")))
	require.NoError(t, r.Publish(ctx, []byte("2")))
	require.NoError(t, r.Publish(ctx, []byte("dropped")))

	assert.Equal(t, 2, r.Depth())
	frame, _, _ := r.Receive(ctx)
	assert.Equal(t, []byte("1"), frame)
	frame, _, _ = r.Receive(ctx)
	assert.Equal(t, []byte("2"), frame)
}

func TestRing_MergeOnOverflowInvokesMergeFunc(t *testing.T) {
	merge := func(oldest, incoming []byte) []byte {
		return append(append([]byte{}, oldest...), incoming...)
	}
	r := newTestRing(t, ipc.MergeOnOverflow, merge)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, []byte("1")))
	require.NoError(t, r.Publish(ctx, []byte("2")))
	require.NoError(t, r.Publish(ctx, []byte("3")))

	assert.Equal(t, 2, r.Depth())
	frame, ok, err := r.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("13"), frame)
}

func TestRing_BlockWaitsThenSucceeds(t *testing.T) {
	r := newTestRing(t, ipc.Block, nil)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, []byte("1")))
	require.NoError(t, r.Publish(ctx, []byte("2")))

	done := make(chan error, 1)
	go func() {
		done <- r.Publish(ctx, []byte("3"))
	}()

	select {
	case <-done:
		t.Fatal("Publish should have blocked on a full ring")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok, err := r.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Publish never unblocked after Receive freed a slot")
	}
}

func TestRing_BlockRespectsContextCancellation(t *testing.T) {
	r := newTestRing(t, ipc.Block, nil)
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, []byte("1")))
	require.NoError(t, r.Publish(ctx, []byte("2")))

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Publish(cctx, []byte("3"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRing_ReceiveBlocksUntilPublish(t *testing.T) {
	r := newTestRing(t, ipc.DropOldest, nil)
	ctx := context.Background()

	type result struct {
		frame []byte
		ok    bool
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		frame, ok, err := r.Receive(ctx)
		resCh <- result{frame, ok, err}
	}()

	select {
	case <-resCh:
		t.Fatal("Receive should have blocked on an empty ring")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r.Publish(ctx, []byte("hello")))

	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		assert.True(t, res.ok)
		assert.Equal(t, []byte("hello"), res.frame)
	case <-time.After(time.Second):
		t.Fatal("Receive never woke up after Publish")
	}
}

func TestRing_PublishRejectsOversizedFrame(t *testing.T) {
	r := newTestRing(t, ipc.DropOldest, nil)
	oversized := make([]byte, 65)
	err := r.Publish(context.Background(), oversized)
	assert.Error(t, err)
}

func TestRing_CloseWakesReceiveAndRejectsPublish(t *testing.T) {
	r := newTestRing(t, ipc.DropOldest, nil)
	ctx := context.Background()

	resCh := make(chan struct {
		ok  bool
		err error
	}, 1)
	go func() {
		_, ok, err := r.Receive(ctx)
		resCh <- struct {
			ok  bool
			err error
		}{ok, err}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case res := <-resCh:
		assert.NoError(t, res.err)
		assert.False(t, res.ok)
	case <-time.After(time.Second):
		t.Fatal("Receive never woke up after Close")
	}

	err := r.Publish(ctx, []byte("x"))
	assert.Error(t, err)
}

func TestCreateAndOpen_ShareState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.ring")
	creator, err := Create(Config{Path: path, SlotCount: 4, SlotSize: 32, Policy: ipc.DropOldest})
	require.NoError(t, err)
	defer creator.Close()

	opener, err := Open(Config{Path: path, Policy: ipc.DropOldest})
	require.NoError(t, err)
	defer opener.Close()

	ctx := context.Background()
	require.NoError(t, creator.Publish(ctx, []byte("shared")))

	frame, ok, err := opener.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("shared"), frame)
}
