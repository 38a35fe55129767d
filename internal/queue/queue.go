package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// NoCursor is the cursor value of a consumer that has not fetched anything
// yet. Fetching with it starts at the current head of the queue.
const NoCursor int64 = -1

// DefaultSize is the number of entries kept when New is given a size <= 0.
const DefaultSize = 1000

// ErrClosed is returned by Fetch once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// Entry is a single sentence as stored in the queue.
type Entry struct {
	Sequence int64     `json:"seq"`
	Data     string    `json:"data"`
	Source   string    `json:"source"`
	Received time.Time `json:"received"`
}

// Queue is the sentence queue shared by all connections. It keeps the newest
// entries in a fixed ring and hands every consumer the entries after its own
// cursor, so any number of producers and consumers can use one Queue.
type Queue struct {
	mu      sync.Mutex
	ring    []Entry
	seq     int64         // last assigned sequence, 0 = nothing added yet
	changed chan struct{} // closed and replaced on every Add
	closed  bool

	timeNow func() time.Time
}

// New creates a queue keeping the newest size entries.
func New(size int) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{
		ring:    make([]Entry, size),
		changed: make(chan struct{}),
		timeNow: time.Now,
	}
}

// Add appends a sentence and returns its sequence number. It never waits for
// consumers; slow consumers lose the oldest entries instead.
func (q *Queue) Add(data, source string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return q.seq
	}
	q.seq++
	q.ring[q.seq%int64(len(q.ring))] = Entry{
		Sequence: q.seq,
		Data:     data,
		Source:   source,
		Received: q.timeNow(),
	}

	close(q.changed)
	q.changed = make(chan struct{})
	return q.seq
}

// Head returns the last assigned sequence number.
func (q *Queue) Head() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

// Len returns the number of entries currently retained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seq < int64(len(q.ring)) {
		return int(q.seq)
	}
	return len(q.ring)
}

// Fetch returns the first entry with a sequence greater than after.
//
// With after == NoCursor only entries added after the call are returned. If
// after is older than the oldest retained entry, the oldest retained entry is
// returned. Fetch blocks until such an entry exists, the timeout elapses
// (ok == false, err == nil), ctx is done (ctx.Err()) or the queue is closed
// (ErrClosed).
func (q *Queue) Fetch(ctx context.Context, after int64, timeout time.Duration) (entry Entry, ok bool, err error) {
	q.mu.Lock()
	if after < 0 {
		after = q.seq
	}
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Entry{}, false, ErrClosed
		}
		if e, found := q.nextLocked(after); found {
			q.mu.Unlock()
			return e, true, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		case <-timer.C:
			return Entry{}, false, nil
		case <-changed:
		}
	}
}

func (q *Queue) nextLocked(after int64) (Entry, bool) {
	if after >= q.seq {
		return Entry{}, false
	}
	next := after + 1
	oldest := q.seq - int64(len(q.ring)) + 1
	if oldest < 1 {
		oldest = 1
	}
	if next < oldest {
		log.Printf("[queue] consumer at %d lost %d entries", after, oldest-next)
		next = oldest
	}
	return q.ring[next%int64(len(q.ring))], true
}

// Close wakes every waiting consumer; later Fetch calls return ErrClosed and
// Add becomes a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.changed)
}
