// Package hub runs one connection engine per configured transport and
// reconnects it whenever it ends.
package hub

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/nmeahub/internal/config"
	"github.com/shaunagostinho/nmeahub/internal/connection"
	"github.com/shaunagostinho/nmeahub/internal/transport"
)

// maxLoggedAttempts is the number of connect attempts logged with their
// attempt budget before switching to the plain message.
const maxLoggedAttempts = 10

// Opener opens the transport of a connection.
type Opener func(ctx context.Context, cc config.ConnectionConfig) (connection.Transport, error)

// OpenTransport opens a serial port or dials a TCP address depending on the
// connection type.
func OpenTransport(ctx context.Context, cc config.ConnectionConfig) (connection.Transport, error) {
	switch cc.Type {
	case config.TypeSerial:
		c, err := transport.OpenSerial(cc.SerialConfig(), cc.TransportOptions()...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.TypeTCP:
		c, err := transport.DialTCP(ctx, cc.TCPConfig(), cc.TransportOptions()...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("hub: unknown connection type %q", cc.Type)
}

// Status is a snapshot of one supervised connection.
type Status struct {
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	Transport    string           `json:"transport,omitempty"`
	Session      string           `json:"session,omitempty"`
	State        string           `json:"state"`
	Connected    bool             `json:"connected"`
	HasData      bool             `json:"hasData"`
	Connects     int              `json:"connects"`
	LastError    string           `json:"lastError,omitempty"`
	LastReceived *time.Time       `json:"lastReceived,omitempty"`
	Stats        connection.Stats `json:"stats"`
}

type supervised struct {
	cfg config.ConnectionConfig

	mu        sync.Mutex
	engine    *connection.ReaderWriter
	transport string
	connects  int
	lastErr   string
}

func (s *supervised) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:      s.cfg.Name,
		Type:      s.cfg.Type,
		Transport: s.transport,
		State:     "connecting",
		Connects:  s.connects,
		LastError: s.lastErr,
	}
	if s.engine != nil {
		st.Session = s.engine.Session()
		st.State = s.engine.State().String()
		st.Connected = !s.engine.IsStopped()
		st.HasData = s.engine.HasData()
		st.Stats = s.engine.Stats()
		if lr := s.engine.LastReceived(); !lr.IsZero() {
			st.LastReceived = &lr
		}
	}
	return st
}

// Option configures a Hub.
type Option func(*Hub)

// WithOpener replaces OpenTransport.
func WithOpener(o Opener) Option {
	return func(h *Hub) { h.open = o }
}

// WithDebug enables per-sentence logging of every engine.
func WithDebug(debug bool) Option {
	return func(h *Hub) { h.debug = debug }
}

// WithBackoff sets the first and the longest delay between failed connect
// attempts.
func WithBackoff(first, max time.Duration) Option {
	return func(h *Hub) {
		h.firstDelay = first
		h.maxDelay = max
	}
}

// Hub supervises the connections of one queue.
type Hub struct {
	queue connection.Queue
	open  Opener
	debug bool

	firstDelay    time.Duration
	maxDelay      time.Duration
	reconnectWait func(cc config.ConnectionConfig) time.Duration

	conns []*supervised
}

// New creates a hub for the given connections.
func New(q connection.Queue, conns []config.ConnectionConfig, opts ...Option) *Hub {
	h := &Hub{
		queue:         q,
		open:          OpenTransport,
		firstDelay:    1 * time.Second,
		maxDelay:      60 * time.Second,
		reconnectWait: config.ConnectionConfig.ReconnectWait,
	}
	for _, cc := range conns {
		h.conns = append(h.conns, &supervised{cfg: cc})
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run supervises every connection until ctx is done and all engines have
// stopped.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range h.conns {
		wg.Add(1)
		go func(s *supervised) {
			defer wg.Done()
			h.supervise(ctx, s)
		}(s)
	}
	log.Printf("[hub] supervising %d connections", len(h.conns))
	wg.Wait()
	log.Printf("[hub] all connections stopped")
}

// Status returns a snapshot of every connection in configuration order.
func (h *Hub) Status() []Status {
	result := make([]Status, 0, len(h.conns))
	for _, s := range h.conns {
		result = append(result, s.status())
	}
	return result
}

func (h *Hub) supervise(ctx context.Context, s *supervised) {
	for {
		t, err := h.connect(ctx, s)
		if err != nil {
			return
		}

		rw := connection.New(t, h.queue, s.cfg.Properties(), connection.WithDebug(h.debug))
		s.mu.Lock()
		s.engine = rw
		s.transport = t.ID()
		s.mu.Unlock()

		rw.Run(ctx)

		wait := h.reconnectWait(s.cfg)
		log.Printf("[hub] %s on %s ended (received=%d), reconnecting in %v",
			s.cfg.Name, t.ID(), rw.Stats().Received, wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connect attempts to open the transport with exponential backoff. Starts at
// firstDelay, doubles each attempt up to maxDelay and keeps retrying at that
// interval until ctx is done.
func (h *Hub) connect(ctx context.Context, s *supervised) (connection.Transport, error) {
	delay := h.firstDelay
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		t, err := h.open(ctx, s.cfg)
		if err == nil {
			s.mu.Lock()
			s.connects++
			s.lastErr = ""
			s.mu.Unlock()
			log.Printf("[hub] %s connected to %s (attempt %d)", s.cfg.Name, t.ID(), attempt+1)
			return t, nil
		}

		attempt++
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		if attempt <= maxLoggedAttempts {
			log.Printf("[hub] %s connect attempt %d/%d failed: %v (retry in %v)",
				s.cfg.Name, attempt, maxLoggedAttempts, err, delay)
		} else {
			log.Printf("[hub] %s connect attempt %d failed: %v (retry in %v)",
				s.cfg.Name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > h.maxDelay {
			delay = h.maxDelay
		}
	}
}
