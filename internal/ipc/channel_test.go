package ipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannel_RejectsBadConfig(t *testing.T) {
	_, err := NewChannel(Config{Name: "c", Capacity: 0})
	assert.Error(t, err)

	_, err = NewChannel(Config{Name: "c", Capacity: 2, Policy: MergeOnOverflow})
	assert.Error(t, err)
}

func TestPublishReceive_FIFO(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 4, Policy: DropOldest})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, []byte("a")))
	require.NoError(t, c.Publish(ctx, []byte("b")))

	frame, ok, err := c.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), frame)

	frame, ok, err = c.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), frame)

	assert.Equal(t, 0, c.Depth())
}

func TestPublish_DropOldestEvictsAndNotifies(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 2, Policy: DropOldest})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, []byte("1")))
	require.NoError(t, c.Publish(ctx, []byte("2")))
	require.NoError(t, c.Publish(ctx, []byte("3")))

	assert.Equal(t, 2, c.Depth())

	frame, ok, err := c.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), frame, "oldest item (\"1\") should have been dropped")

	select {
	case notif := <-c.Overflow():
		assert.Equal(t, "c", notif.ChannelName)
		assert.Equal(t, 1, notif.Count)
	default:
		t.Fatal("expected a QueueOverflow notification")
	}

	assert.Equal(t, uint64(1), c.Stats().Overwrites)
}

func TestPublish_DropNewestRejectsSilently(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 1, Policy: DropNewest})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, []byte("keep")))
	require.NoError(t, c.Publish(ctx, []byte("dropped")))

	assert.Equal(t, 1, c.Depth())
	frame, ok, err := c.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("keep"), frame)
}

func TestPublish_MergeOnOverflowInvokesMergeFunc(t *testing.T) {
	var mergedOldest, mergedIncoming []byte
	merge := func(oldest, incoming []byte) []byte {
		mergedOldest = append([]byte(nil), oldest...)
		mergedIncoming = append([]byte(nil), incoming...)
		return append(append([]byte{}, oldest...), incoming...)
	}

	c, err := NewChannel(Config{Name: "c", Capacity: 1, Policy: MergeOnOverflow, Merge: merge})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, []byte("A")))
	require.NoError(t, c.Publish(ctx, []byte("B")))

	assert.Equal(t, []byte("A"), mergedOldest)
	assert.Equal(t, []byte("B"), mergedIncoming)
	assert.Equal(t, 1, c.Depth())

	frame, ok, err := c.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("AB"), frame)
}

func TestPublish_BlockWaitsForCapacityThenSucceeds(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 1, Policy: Block})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, []byte("1")))

	done := make(chan error, 1)
	go func() {
		done <- c.Publish(ctx, []byte("2"))
	}()

	select {
	case <-done:
		t.Fatal("Publish should have blocked while the channel is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok, err := c.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Publish never unblocked after Receive freed capacity")
	}

	assert.Equal(t, 1, c.Depth())
}

func TestPublish_BlockRespectsContextCancellation(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 1, Policy: Block})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, []byte("1")))

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = c.Publish(cctx, []byte("2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceive_BlocksUntilPublish(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 4, Policy: DropOldest})
	require.NoError(t, err)

	ctx := context.Background()
	type result struct {
		frame []byte
		ok    bool
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		frame, ok, err := c.Receive(ctx)
		resCh <- result{frame, ok, err}
	}()

	select {
	case <-resCh:
		t.Fatal("Receive should have blocked on an empty channel")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Publish(ctx, []byte("hello")))

	select {
	case r := <-resCh:
		require.NoError(t, r.err)
		assert.True(t, r.ok)
		assert.Equal(t, []byte("hello"), r.frame)
	case <-time.After(time.Second):
		t.Fatal("Receive never woke up after Publish")
	}
}

func TestReceive_ContextCancellation(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 4, Policy: DropOldest})
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := c.Receive(cctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_IsIdempotentAndWakesWaiters(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 1, Policy: Block})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan struct {
		ok  bool
		err error
	}, 2)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, ok, err := c.Receive(context.Background())
			results <- struct {
				ok  bool
				err error
			}{ok, err}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	c.Close()
	c.Close() // idempotent

	wg.Wait()
	close(results)
	for r := range results {
		assert.NoError(t, r.err)
		assert.False(t, r.ok)
	}
}

func TestClose_PublishAfterCloseErrors(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 1, Policy: DropOldest})
	require.NoError(t, err)
	c.Close()

	err = c.Publish(context.Background(), []byte("x"))
	assert.Error(t, err)
}

func TestTryReceive_NonBlocking(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 1, Policy: DropOldest})
	require.NoError(t, err)

	_, ok := c.TryReceive()
	assert.False(t, ok)

	require.NoError(t, c.Publish(context.Background(), []byte("x")))
	frame, ok := c.TryReceive()
	require.True(t, ok)
	assert.Equal(t, []byte("x"), frame)
}

func TestStats_TracksSentReceivedBytes(t *testing.T) {
	c, err := NewChannel(Config{Name: "c", Capacity: 4, Policy: DropOldest})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, []byte("abc")))
	require.NoError(t, c.Publish(ctx, []byte("de")))
	_, _, err = c.Receive(ctx)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.MessagesSent)
	assert.Equal(t, uint64(1), stats.MessagesReceived)
	assert.Equal(t, uint64(5), stats.BytesTransferred)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestName(t *testing.T) {
	c, err := NewChannel(Config{Name: "session:edge", Capacity: 1, Policy: DropOldest})
	require.NoError(t, err)
	assert.Equal(t, "session:edge", c.Name())
}
