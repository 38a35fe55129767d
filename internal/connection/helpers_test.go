package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaunagostinho/nmeahub/internal/queue"
)

// pipeTransport is fed by the test through feed and records everything the
// engine writes.
type pipeTransport struct {
	r    *io.PipeReader
	feed *io.PipeWriter

	mu       sync.Mutex
	out      bytes.Buffer
	writeErr error

	closeCount atomic.Int32
	closed     atomic.Bool
}

func newPipeTransport() *pipeTransport {
	r, w := io.Pipe()
	return &pipeTransport{r: r, feed: w}
}

func (p *pipeTransport) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipeTransport) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.out.Write(b)
}

// Close fails on every call after the first, the engine must not care.
func (p *pipeTransport) Close() error {
	if p.closeCount.Add(1) > 1 {
		return errors.New("already closed")
	}
	p.closed.Store(true)
	return p.r.CloseWithError(io.ErrClosedPipe)
}

func (p *pipeTransport) IsClosed() bool { return p.closed.Load() }

func (p *pipeTransport) ID() string { return "pipe" }

func (p *pipeTransport) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func (p *pipeTransport) failWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// scriptedQueue hands out entries pushed by the test and records the cursor
// of every Fetch. It waits at most pollTimeout per Fetch, ignoring the
// timeout requested by the engine.
type scriptedQueue struct {
	entries     chan queue.Entry
	pollTimeout time.Duration

	mu      sync.Mutex
	cursors []int64
	added   []queue.Entry
	fetches atomic.Int32
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{
		entries:     make(chan queue.Entry, 16),
		pollTimeout: 5 * time.Millisecond,
	}
}

func (q *scriptedQueue) Add(data, source string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	seq := int64(len(q.added) + 1)
	q.added = append(q.added, queue.Entry{Sequence: seq, Data: data, Source: source})
	return seq
}

func (q *scriptedQueue) Fetch(ctx context.Context, after int64, _ time.Duration) (queue.Entry, bool, error) {
	q.fetches.Add(1)
	q.mu.Lock()
	q.cursors = append(q.cursors, after)
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return queue.Entry{}, false, ctx.Err()
	case e := <-q.entries:
		return e, true, nil
	case <-time.After(q.pollTimeout):
		return queue.Entry{}, false, nil
	}
}

// lastCursor returns the cursor of the latest Fetch; ok is false before the
// first one.
func (q *scriptedQueue) lastCursor() (cursor int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cursors) == 0 {
		return 0, false
	}
	return q.cursors[len(q.cursors)-1], true
}

func (q *scriptedQueue) firstCursor() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursors[0]
}

// recordingQueue is a real queue that records the cursor of every Fetch.
type recordingQueue struct {
	*queue.Queue

	mu      sync.Mutex
	cursors []int64
}

func (q *recordingQueue) Fetch(ctx context.Context, after int64, timeout time.Duration) (queue.Entry, bool, error) {
	q.mu.Lock()
	q.cursors = append(q.cursors, after)
	q.mu.Unlock()
	return q.Queue.Fetch(ctx, after, timeout)
}

func (q *recordingQueue) firstCursor() (cursor int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cursors) == 0 {
		return 0, false
	}
	return q.cursors[0], true
}

type fakeClock struct {
	now atomic.Int64
}

func newFakeClock(t time.Time) *fakeClock {
	c := &fakeClock{}
	c.Set(t)
	return c
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, c.now.Load()) }

func (c *fakeClock) Set(t time.Time) { c.now.Store(t.UnixNano()) }

// runAsync starts rw.Run and returns a channel closed when it returns.
func runAsync(ctx context.Context, rw *ReaderWriter) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw.Run(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
	}
}

// drain returns all entries of q after cursor 0 without waiting.
func drain(t *testing.T, q *queue.Queue) []queue.Entry {
	t.Helper()
	var result []queue.Entry
	cursor := int64(0)
	for cursor < q.Head() {
		e, ok, err := q.Fetch(context.Background(), cursor, 10*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("fetch after %d failed: ok=%v err=%v", cursor, ok, err)
		}
		result = append(result, e)
		cursor = e.Sequence
	}
	return result
}
