package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	nws "nhooyr.io/websocket"
)

// NhooyrFactory dials with nhooyr.io/websocket.
type NhooyrFactory struct{}

type nhooyrConn struct {
	cfg    DialConfig
	logger *slog.Logger
	conn   *nws.Conn

	stale     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial establishes the WebSocket connection.
func (NhooyrFactory) Dial(ctx context.Context, url string, cfg DialConfig) (Conn, error) {
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := nws.Dial(ctx, url, &nws.DialOptions{
		HTTPHeader: cfg.Header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status: %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	c := &nhooyrConn{
		cfg:    cfg,
		logger: cfg.logger(),
		conn:   conn,
		done:   make(chan struct{}),
	}

	if cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	return c, nil
}

func (c *nhooyrConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil && c.stale.Load() {
		return nil, ErrStaleConnection
	}
	return data, err
}

func (c *nhooyrConn) Write(ctx context.Context, data []byte) error {
	if deadline := writeDeadline(ctx, c.cfg.WriteTimeout); !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	return c.conn.Write(ctx, nws.MessageText, data)
}

func (c *nhooyrConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close(nws.StatusNormalClosure, "")
	})
	return err
}

// heartbeatLoop pings the peer; a ping that is not answered within
// PingTimeout marks the socket stale and closes it.
func (c *nhooyrConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			timeout := c.cfg.PingTimeout
			if timeout <= 0 {
				timeout = c.cfg.PingInterval
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				select {
				case <-c.done:
					return
				default:
				}
				c.logger.Warn("no pong received, connection stale",
					"timeout", timeout,
					"error", err,
				)
				c.stale.Store(true)
				c.conn.Close(nws.StatusGoingAway, "keepalive timeout")
				return
			}
		}
	}
}

func isNhooyrNormalClose(err error) bool {
	switch nws.CloseStatus(err) {
	case nws.StatusNormalClosure, nws.StatusGoingAway:
		return true
	default:
		return false
	}
}
