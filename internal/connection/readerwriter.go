// Package connection implements the per-transport engine of the hub: a
// reader loop moving sentences from a transport into the shared queue and
// an optional writer goroutine moving queued sentences back out.
package connection

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaunagostinho/nmeahub/internal/nmea"
	"github.com/shaunagostinho/nmeahub/internal/queue"
)

// fetchTimeout bounds one blocking queue fetch of the writer so that it
// re-checks the stop flag regularly.
const fetchTimeout = 1000 * time.Millisecond

// maxLineLength is the longest line accepted from a transport. Longer input
// is treated as a broken stream.
const maxLineLength = 64 * 1024

// Transport is the stream an engine runs on. Close must be idempotent and
// safe to call while a Read or Write is pending, making that call fail.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
	IsClosed() bool
	ID() string
}

// Queue is the sentence queue shared by all engines.
type Queue interface {
	// Add stores a sentence and returns its sequence number.
	Add(data, source string) int64
	// Fetch waits for the first entry after the given sequence. It returns
	// ok == false when timeout elapsed without a new entry.
	Fetch(ctx context.Context, after int64, timeout time.Duration) (queue.Entry, bool, error)
}

// headReporter is implemented by queues that can report their last assigned
// sequence. The writer then starts from that sequence instead of
// queue.NoCursor, so nothing appended after writer start is skipped between
// two timed out fetches.
type headReporter interface {
	Head() int64
}

// State is the lifecycle state of a ReaderWriter.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Stats are counters of a ReaderWriter.
type Stats struct {
	Received  uint64 `json:"received"`  // lines read from the transport
	Forwarded uint64 `json:"forwarded"` // lines added to the queue
	Written   uint64 `json:"written"`   // sentences written to the transport
}

// Option configures a ReaderWriter.
type Option func(*ReaderWriter)

// WithSanitizer replaces nmea.Sanitize on the read path.
func WithSanitizer(f func(line string) string) Option {
	return func(rw *ReaderWriter) { rw.sanitize = f }
}

// WithMatcher replaces nmea.MatchesFilter for both directions.
func WithMatcher(f func(line string, patterns []string) bool) Option {
	return func(rw *ReaderWriter) { rw.matches = f }
}

// WithDebug logs every received line and every filtered sentence.
func WithDebug(debug bool) Option {
	return func(rw *ReaderWriter) { rw.debug = debug }
}

// ReaderWriter bridges one transport and the shared queue. Run it once; a
// stopped ReaderWriter cannot be restarted.
type ReaderWriter struct {
	transport Transport
	queue     Queue
	props     Properties
	session   string

	sanitize func(string) string
	matches  func(string, []string) bool
	debug    bool
	timeNow  func() time.Time

	// shared between the reader loop, the writer goroutine and callers
	stopped       atomic.Bool
	dataAvailable atomic.Bool
	lastReceived  atomic.Int64 // unix nanoseconds
	state         atomic.Int32

	received  atomic.Uint64
	forwarded atomic.Uint64
	written   atomic.Uint64

	writerCtx    context.Context
	cancelWriter context.CancelFunc
}

// New creates a ReaderWriter for transport. props is copied.
func New(transport Transport, q Queue, props Properties, opts ...Option) *ReaderWriter {
	rw := &ReaderWriter{
		transport: transport,
		queue:     q,
		props:     props.clone(),
		session:   uuid.NewString(),
		sanitize:  nmea.Sanitize,
		matches:   nmea.MatchesFilter,
		timeNow:   time.Now,
	}
	rw.writerCtx, rw.cancelWriter = context.WithCancel(context.Background())
	for _, o := range opts {
		o(rw)
	}
	return rw
}

// Name returns the source name sentences of this connection are tagged with.
func (rw *ReaderWriter) Name() string { return rw.props.SourceName }

// Session returns an id unique to this ReaderWriter.
func (rw *ReaderWriter) Session() string { return rw.session }

// Properties returns a copy of the properties in use.
func (rw *ReaderWriter) Properties() Properties { return rw.props.clone() }

// State returns the current lifecycle state.
func (rw *ReaderWriter) State() State { return State(rw.state.Load()) }

// IsStopped reports whether Stop was called or either direction failed.
func (rw *ReaderWriter) IsStopped() bool { return rw.stopped.Load() }

// LastReceived returns the time the last sentence was accepted from the
// transport, zero if none was.
func (rw *ReaderWriter) LastReceived() time.Time {
	n := rw.lastReceived.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stats returns the current counters.
func (rw *ReaderWriter) Stats() Stats {
	return Stats{
		Received:  rw.received.Load(),
		Forwarded: rw.forwarded.Load(),
		Written:   rw.written.Load(),
	}
}

// HasData reports whether the connection is alive and accepted a sentence
// within the last NoDataTime seconds. With NoDataTime == 0 it is false as
// soon as the clock moves past the last receipt.
func (rw *ReaderWriter) HasData() bool {
	return !rw.stopped.Load() &&
		!rw.transport.IsClosed() &&
		rw.dataAvailable.Load() &&
		rw.timeNow().UnixNano() < rw.lastReceived.Load()+int64(rw.props.NoDataWindow())
}

// Run starts the writer (if WriteData is set) and runs the reader loop on
// the calling goroutine. It returns once both directions have ended, after
// end of stream, an I/O failure on either side, Stop, or ctx being done.
// Failures are logged, never returned.
func (rw *ReaderWriter) Run(ctx context.Context) {
	if err := rw.props.Validate(); err != nil {
		log.Printf("[conn %s] error starting on %s: %v", rw.props.SourceName, rw.transport.ID(), err)
		rw.Stop()
		rw.state.Store(int32(StateStopped))
		return
	}
	if !rw.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		log.Printf("[conn %s] already started, a new engine is needed to reconnect", rw.props.SourceName)
		return
	}
	defer rw.state.Store(int32(StateStopped))
	if rw.stopped.Load() {
		return
	}
	rw.dataAvailable.Store(false)

	stopOnDone := context.AfterFunc(ctx, rw.Stop)
	defer stopOnDone()

	writerDone := rw.startWriter()
	rw.readLoop()
	rw.Stop()
	if writerDone != nil {
		<-writerDone
	}
	log.Printf("[conn %s] connection handler stopped", rw.props.SourceName)
}

// Stop ends both directions and closes the transport. It may be called any
// number of times from any goroutine, including before Run.
func (rw *ReaderWriter) Stop() {
	rw.stopped.Store(true)
	rw.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	if rw.debug {
		log.Printf("[conn %s] closing connection %s", rw.props.SourceName, rw.transport.ID())
	}
	_ = rw.transport.Close()
	rw.cancelWriter()
}

func (rw *ReaderWriter) readLoop() {
	scanner := bufio.NewScanner(rw.transport)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)

	for !rw.stopped.Load() {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !rw.stopped.Load() {
				log.Printf("[conn %s] exception during read: %v", rw.props.SourceName, err)
			}
			return
		}
		rw.handleLine(scanner.Text())
	}
}

func (rw *ReaderWriter) handleLine(line string) {
	rw.received.Add(1)
	if rw.debug {
		log.Printf("[conn %s] received: %s", rw.props.SourceName, line)
	}
	rw.dataAvailable.Store(true)
	if !rw.props.ReadData {
		return
	}

	line = rw.sanitize(line)
	if !rw.matches(line, rw.props.ReadFilter) {
		if rw.debug {
			log.Printf("[conn %s] ignore %s due to filter", rw.props.SourceName, line)
		}
		return
	}

	now := rw.timeNow().UnixNano()
	if now > rw.lastReceived.Load() {
		rw.lastReceived.Store(now)
	}
	rw.queue.Add(line, rw.props.SourceName)
	rw.forwarded.Add(1)
}

func (rw *ReaderWriter) startWriter() <-chan struct{} {
	if !rw.props.WriteData {
		return nil
	}
	log.Printf("[conn %s] starting sender for %s", rw.props.SourceName, rw.transport.ID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		rw.writeLoop()
	}()
	return done
}

func (rw *ReaderWriter) writeLoop() {
	cursor := queue.NoCursor
	if hr, ok := rw.queue.(headReporter); ok {
		cursor = hr.Head()
	}
	for !rw.stopped.Load() {
		entry, ok, err := rw.queue.Fetch(rw.writerCtx, cursor, fetchTimeout)
		if err != nil {
			rw.writerFailed(err)
			return
		}
		if !ok {
			continue
		}
		cursor = entry.Sequence

		if rw.isBlacklisted(entry.Source) {
			continue
		}
		if !rw.matches(entry.Data, rw.props.WriteFilter) {
			if rw.debug {
				log.Printf("[conn %s] ignore %s due to filter", rw.props.SourceName, entry.Data)
			}
			continue
		}
		if _, err := io.WriteString(rw.transport, entry.Data+"\r\n"); err != nil {
			rw.writerFailed(err)
			return
		}
		rw.written.Add(1)
		rw.dataAvailable.Store(true)
	}
}

// writerFailed takes the whole connection down: the transport is presumed
// broken for the reader as well.
func (rw *ReaderWriter) writerFailed(err error) {
	if !errors.Is(err, context.Canceled) && !rw.stopped.Load() {
		log.Printf("[conn %s] writer %s: %v", rw.props.SourceName, rw.transport.ID(), err)
	}
	_ = rw.transport.Close()
	rw.stopped.Store(true)
}

func (rw *ReaderWriter) isBlacklisted(source string) bool {
	for _, b := range rw.props.Blacklist {
		if b == source {
			return true
		}
	}
	return false
}
