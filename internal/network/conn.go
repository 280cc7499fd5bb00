// Package network carries framed game messages over TCP. Each frame is a
// little-endian u32 length followed by one net message. Reliability and
// encryption are left to whatever relay sits at the other end.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/protocol"
)

// ErrClosed is returned by Send after Disconnect.
var ErrClosed = errors.New("connection is closed")

const writeTimeout = 10 * time.Second

// Conn is a framed game connection. It implements session.Transport and
// session.RoundTripper.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time
	rtt          time.Duration
	sentAt       time.Time // oldest send not yet followed by a read
	closed       bool
}

// Dial connects to addr. The handshake time seeds the round trip estimate.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	start := time.Now()
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := NewConn(nc)
	c.rtt = time.Since(start)
	return c, nil
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn) *Conn {
	now := time.Now()
	return &Conn{
		conn:         nc,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "network").Str("remote", nc.RemoteAddr().String()).Logger(),
	}
}

// Send writes one message frame.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := protocol.WritePacket(c.conn, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	c.lastActivity = time.Now()
	if c.sentAt.IsZero() {
		c.sentAt = c.lastActivity
	}
	return nil
}

// Disconnect closes the connection. Later calls are no-ops.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info().Msg("connection closed")
	return c.conn.Close()
}

// ReadLoop delivers every inbound frame to handle, on the calling goroutine,
// until the connection fails or ctx is done. A clean remote close returns nil.
func (c *Conn) ReadLoop(ctx context.Context, handle func([]byte)) error {
	stop := context.AfterFunc(ctx, func() { c.Disconnect() })
	defer stop()

	for {
		data, err := protocol.ReadPacket(c.conn)
		if err != nil {
			if ctx.Err() != nil || c.IsClosed() {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.sampleRTT(c.lastActivity)
		c.mu.Unlock()

		handle(data)
	}
}

// sampleRTT folds the gap between the oldest unanswered send and now into the
// estimate. Callers hold c.mu.
func (c *Conn) sampleRTT(now time.Time) {
	if c.sentAt.IsZero() {
		return
	}
	sample := now.Sub(c.sentAt)
	c.sentAt = time.Time{}
	if c.rtt == 0 {
		c.rtt = sample
		return
	}
	c.rtt = (7*c.rtt + sample) / 8
}

// RoundTripTime is a smoothed send-to-reply time, seeded by the connect
// handshake and refreshed on every frame that answers a send.
func (c *Conn) RoundTripTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// IsClosed reports whether Disconnect has been called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read or write.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
