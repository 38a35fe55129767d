package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_AddAssignsIncreasingSequence(t *testing.T) {
	q := New(10)

	assert.Equal(t, int64(1), q.Add("$GPRMC,1", "a"))
	assert.Equal(t, int64(2), q.Add("$GPRMC,2", "b"))
	assert.Equal(t, int64(3), q.Add("$GPRMC,3", "a"))
	assert.Equal(t, int64(3), q.Head())
	assert.Equal(t, 3, q.Len())
}

func TestQueue_FetchAfterCursor(t *testing.T) {
	q := New(10)
	q.Add("one", "a")
	q.Add("two", "b")

	e, ok, err := q.Fetch(context.Background(), 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.Sequence)
	assert.Equal(t, "one", e.Data)
	assert.Equal(t, "a", e.Source)

	e, ok, err = q.Fetch(context.Background(), e.Sequence, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", e.Data)
	assert.Equal(t, "b", e.Source)
}

func TestQueue_FetchNoCursorStartsAtHead(t *testing.T) {
	q := New(10)
	q.Add("old", "a")

	done := make(chan Entry)
	go func() {
		e, ok, err := q.Fetch(context.Background(), NoCursor, time.Second)
		if err == nil && ok {
			done <- e
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Add("new", "a")

	select {
	case e := <-done:
		assert.Equal(t, "new", e.Data)
		assert.Equal(t, int64(2), e.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return")
	}
}

func TestQueue_FetchTimeout(t *testing.T) {
	q := New(10)

	start := time.Now()
	_, ok, err := q.Fetch(context.Background(), NoCursor, 30*time.Millisecond)

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestQueue_FetchCancelled(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, _, err := q.Fetch(ctx, NoCursor, time.Minute)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled")
	}
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := New(10)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := q.Fetch(context.Background(), NoCursor, time.Minute)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not woken by close")
	}
	assert.Equal(t, int64(0), q.Add("late", "a"))
}

func TestQueue_OverrunReturnsOldestRetained(t *testing.T) {
	q := New(3)
	for _, s := range []string{"1", "2", "3", "4", "5"} {
		q.Add(s, "a")
	}
	assert.Equal(t, 3, q.Len())

	e, ok, err := q.Fetch(context.Background(), 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), e.Sequence)
	assert.Equal(t, "3", e.Data)
}

func TestQueue_ConcurrentProducersKeepSequenceUnique(t *testing.T) {
	q := New(1000)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Add("x", "p")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), q.Head())

	cursor := int64(0)
	for i := 0; i < 400; i++ {
		e, ok, err := q.Fetch(context.Background(), cursor, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Greater(t, e.Sequence, cursor)
		cursor = e.Sequence
	}
	assert.Equal(t, int64(400), cursor)
}
