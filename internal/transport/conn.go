// Package transport provides the byte streams a connection engine runs on:
// serial ports, TCP sockets and arbitrary io.ReadWriteClosers.
package transport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("transport: closed")

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn wraps a stream with an identifier and an idempotent Close that may be
// called concurrently with pending reads and writes.
type Conn struct {
	rwc io.ReadWriteCloser
	id  string

	readTimeout  time.Duration
	writeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Conn.
type Option func(*Conn)

// WithReadTimeout fails a Read that sees no data for d. Only applied when the
// wrapped stream supports read deadlines.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Conn) { c.readTimeout = d }
}

// WithWriteTimeout fails a Write that does not complete within d. Only applied
// when the wrapped stream supports write deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// Wrap creates a Conn around rwc.
func Wrap(id string, rwc io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{rwc: rwc, id: id}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) IsClosed() bool { return c.closed.Load() }

func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if c.readTimeout > 0 {
		if d, ok := c.rwc.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
	}
	n, err := c.rwc.Read(p)
	if err != nil && c.closed.Load() {
		// whatever the stream reported, the cause is our own Close
		return n, ErrClosed
	}
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if c.writeTimeout > 0 {
		if d, ok := c.rwc.(writeDeadliner); ok {
			_ = d.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
	}
	n, err := c.rwc.Write(p)
	if err != nil && c.closed.Load() {
		return n, ErrClosed
	}
	return n, err
}

// Close closes the underlying stream once. Later calls return the result of
// the first one.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
