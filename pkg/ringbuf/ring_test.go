package ringbuf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func push(t *testing.T, r *Ring, data string) {
	s, err := r.TryAcquire(len(data))
	require.NoError(t, err)
	copy(s.Bytes(), data)
	require.NoError(t, r.Commit(s))
}

func TestNewInvalidSize(t *testing.T) {
	_, err := New(0)
	require.Equal(t, ErrInvalidSize, err)
	_, err = New(MinSize - 1)
	require.Equal(t, ErrInvalidSize, err)
	r, err := New(512)
	require.NoError(t, err)
	assert.Equal(t, 512, r.Free())
	assert.Equal(t, 504, r.MaxItemSize())
}

func TestCost(t *testing.T) {
	assert.Equal(t, ItemHeader, Cost(0))
	assert.Equal(t, ItemHeader+4, Cost(1))
	assert.Equal(t, ItemHeader+4, Cost(4))
	assert.Equal(t, ItemHeader+8, Cost(5))
}

func TestFIFO(t *testing.T) {
	r, err := New(128)
	require.NoError(t, err)
	push(t, r, "one")
	push(t, r, "two")
	push(t, r, "")
	item, err := r.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, "one", string(item))
	item, err = r.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, "two", string(item))
	item, err = r.TryReceive()
	require.NoError(t, err)
	assert.Empty(t, item)
	_, err = r.TryReceive()
	require.Equal(t, ErrWouldBlock, err)
	assert.Equal(t, 128, r.Free())
}

func TestFullRingDropsNewest(t *testing.T) {
	r, err := New(64)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		push(t, r, "abcdefg") // 16 bytes each
	}
	_, err = r.TryAcquire(1)
	require.Equal(t, ErrWouldBlock, err)
	assert.Equal(t, 4, r.Len())
	item, err := r.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", string(item))
}

func TestTooLarge(t *testing.T) {
	r, err := New(64)
	require.NoError(t, err)
	_, err = r.TryAcquire(r.MaxItemSize() + 1)
	require.Equal(t, ErrTooLarge, err)
	_, err = r.Acquire(context.Background(), 1000)
	require.Equal(t, ErrTooLarge, err)
}

func TestAcquireTimeout(t *testing.T) {
	r, err := New(MinSize)
	require.NoError(t, err)
	_, err = r.TryAcquire(r.MaxItemSize())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, 1)
	require.Equal(t, context.DeadlineExceeded, err)
}

func TestAcquireWaitsForSpace(t *testing.T) {
	r, err := New(MinSize)
	require.NoError(t, err)
	push(t, r, "0123456789ab")
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.TryReceive()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := r.Acquire(ctx, 12)
	require.NoError(t, err)
	require.NoError(t, r.Commit(s))
}

func TestUncommittedHeadBlocksReaders(t *testing.T) {
	r, err := New(128)
	require.NoError(t, err)
	head, err := r.TryAcquire(3)
	require.NoError(t, err)
	push(t, r, "second")
	_, err = r.TryReceive()
	require.Equal(t, ErrWouldBlock, err)

	copy(head.Bytes(), "one")
	require.NoError(t, r.Commit(head))
	require.Equal(t, ErrCommitted, r.Commit(head))
	item, err := r.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, "one", string(item))
}

func TestRelease(t *testing.T) {
	r, err := New(128)
	require.NoError(t, err)
	s, err := r.TryAcquire(10)
	require.NoError(t, err)
	push(t, r, "next")
	require.NoError(t, r.Release(s))
	require.Equal(t, ErrCommitted, r.Release(s))
	item, err := r.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, "next", string(item))
	assert.Equal(t, 128, r.Free())
}

func TestCloseWakesWaiters(t *testing.T) {
	r, err := New(128)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Receive(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()
	select {
	case err := <-errCh:
		require.Equal(t, ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("receiver not woken up")
	}
}

func TestCommitAfterClose(t *testing.T) {
	r, err := New(128)
	require.NoError(t, err)
	s, err := r.TryAcquire(4)
	require.NoError(t, err)
	r.Close()
	require.Equal(t, ErrClosed, r.Commit(s))
	_, err = r.TryAcquire(4)
	require.Equal(t, ErrClosed, err)
}
