package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// Transport is one client's bidirectional channel. Receive blocks until a
// text frame arrives or the channel fails; Close unblocks pending calls.
type Transport interface {
	Send(ctx context.Context, p []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close(code websocket.StatusCode, reason string) error
}

// pinger is implemented by transports that support keepalive probes.
type pinger interface {
	Ping(ctx context.Context) error
}

// Conn adapts a coder/websocket connection to Transport.
type Conn struct {
	conn *websocket.Conn
}

// NewConn wraps an accepted websocket connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) Send(ctx context.Context, p []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, p); err != nil {
		return fmt.Errorf("%w: %w", errTransportWrite, err)
	}
	return nil
}

// Receive skips non-text frames; the chat protocol is JSON text only.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if msgType != websocket.MessageText {
			continue
		}
		return p, nil
	}
}

func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

var errTransportWrite = errors.New("transport write failed")

// isExpectedClose reports whether err is the normal end of a connection.
func isExpectedClose(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, errSessionClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}

// keepalive pings the client every interval. The default connection behavior
// is to wait indefinitely for incoming data, so proxies and firewalls may
// drop an idle connection unless traffic flows within their deadlines.
func (s *Session) keepalive(ctx context.Context, p pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := p.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger(ctx).Debug().Err(err).Msg("keepalive ping failed")
				s.Close()
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
