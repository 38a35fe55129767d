package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// TCPConfig holds configuration for a TCP client transport.
type TCPConfig struct {
	Address        string        `yaml:"address" json:"address"`
	ConnectTimeout time.Duration `yaml:"-" json:"-"`
}

// DialTCP connects to cfg.Address. A zero ConnectTimeout waits until ctx is
// done.
func DialTCP(ctx context.Context, cfg TCPConfig, opts ...Option) (*Conn, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("tcp: failed to connect to %s: %w", cfg.Address, err)
	}
	log.Printf("[tcp] connected to %s", conn.RemoteAddr())
	return Wrap(fmt.Sprintf("tcp:%s", cfg.Address), conn, opts...), nil
}
