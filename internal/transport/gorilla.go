package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaFactory dials with github.com/gorilla/websocket.
type GorillaFactory struct{}

// gorillaConn implements Conn.
type gorillaConn struct {
	cfg    DialConfig
	logger *slog.Logger
	conn   *websocket.Conn

	// Write serialization
	writeMu sync.Mutex

	mu         sync.Mutex
	lastPingAt time.Time

	stale     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial establishes the WebSocket connection.
func (GorillaFactory) Dial(ctx context.Context, url string, cfg DialConfig) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status: %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	c := &gorillaConn{
		cfg:        cfg,
		logger:     cfg.logger(),
		conn:       conn,
		lastPingAt: time.Now(),
		done:       make(chan struct{}),
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	if cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	return c, nil
}

func (c *gorillaConn) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// Read returns the next frame. gorilla reads cannot be interrupted by ctx;
// only its deadline is honoured.
func (c *gorillaConn) Read(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(d)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil && c.stale.Load() {
		return nil, ErrStaleConnection
	}
	return data, err
}

func (c *gorillaConn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(writeDeadline(ctx, c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		// WriteControl is safe alongside concurrent writers
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// heartbeatLoop pings the peer and closes the socket when it goes quiet.
func (c *gorillaConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.stale.Store(true)
				c.conn.Close()
				return
			}
		}
	}
}

func isGorillaNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}
