package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/autobridge/internal/emitter"
	"github.com/rickgao/autobridge/internal/transport"
)

// Client is the default Conn: one rosbridge socket at a time over a
// pluggable transport.
type Client struct {
	opts    Options
	factory transport.Factory
	logger  *slog.Logger

	// emitMu is held from each generation check through the lifecycle
	// notification it guards, so a superseded attempt cannot emit after
	// Connect or Close has returned.
	emitMu sync.Mutex

	// State
	mu        sync.Mutex
	gen       uint64 // bumped by Connect and Close; stale attempts stay silent
	active    bool   // an attempt or socket exists that still owes a close notification
	conn      transport.Conn
	url       string
	sessionID uuid.UUID

	// Lifecycle notifications
	connection emitter.Emitter[struct{}]
	closed     emitter.Emitter[struct{}]
	errored    emitter.Emitter[error]
	messages   emitter.Emitter[[]byte]
}

// New decodes raw connection options and creates a Client.
func New(raw map[string]any, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, unused, err := ParseOptions(raw)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		logger.Debug("ignoring unknown connection options", "keys", unused)
	}

	return NewClient(opts, nil, logger), nil
}

// NewConn is New returning the Conn interface.
func NewConn(raw map[string]any, logger *slog.Logger) (Conn, error) {
	c, err := New(raw, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewClient creates a Client from decoded options. A nil factory selects the
// transport named in opts.
func NewClient(opts Options, factory transport.Factory, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		var err error
		if factory, err = transport.Lookup(opts.Transport); err != nil {
			logger.Warn("unknown transport, using default", "transport", opts.Transport)
			factory = transport.GorillaFactory{}
		}
	}

	logger.Debug("creating bridge client",
		"encoding", opts.Encoding,
		"transport", opts.Transport,
	)

	return &Client{
		opts:    opts,
		factory: factory,
		logger:  logger,
	}
}

// Options returns the decoded options.
func (c *Client) Options() Options {
	return c.opts
}

// Connect starts a connection attempt in the background. An open or pending
// socket is replaced without a close notification.
func (c *Client) Connect(rawURL string) error {
	if err := validateURL(rawURL); err != nil {
		return err
	}

	c.emitMu.Lock()
	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.conn
	c.conn = nil
	c.active = true
	c.url = rawURL
	c.sessionID = uuid.Nil
	c.mu.Unlock()
	c.emitMu.Unlock()

	if prev != nil {
		c.logger.Debug("replacing open socket", "url", rawURL)
		prev.Close()
	}

	go c.run(gen, rawURL)
	return nil
}

// Close closes the current socket and emits close if an attempt was active.
func (c *Client) Close() error {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	wasActive := c.active
	c.gen++
	c.active = false
	conn := c.conn
	c.conn = nil
	c.sessionID = uuid.Nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if wasActive {
		c.closed.Emit(struct{}{})
	}
	return err
}

// Send writes one text frame to the open socket.
func (c *Client) Send(data []byte) error {
	if c.opts.Encoding == EncodingASCII && !isASCII(data) {
		return ErrNonASCII
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(context.Background(), data)
}

// IsConnected reports whether a socket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// URL returns the target of the most recent Connect.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SessionID identifies the open socket; uuid.Nil when none is open.
func (c *Client) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// OnConnection implements Conn. Lifecycle handlers run while the client
// serializes its notifications and must not call Connect or Close.
func (c *Client) OnConnection(fn func()) emitter.Subscription {
	if fn == nil {
		return 0
	}
	return c.connection.On(func(struct{}) { fn() })
}

// OnClose implements Conn.
func (c *Client) OnClose(fn func()) emitter.Subscription {
	if fn == nil {
		return 0
	}
	return c.closed.On(func(struct{}) { fn() })
}

// OnError implements Conn.
func (c *Client) OnError(fn func(error)) emitter.Subscription {
	return c.errored.On(fn)
}

// OnMessage registers a handler for inbound frames. Handlers run on the read
// goroutine and must not block.
func (c *Client) OnMessage(fn func([]byte)) emitter.Subscription {
	return c.messages.On(fn)
}

// Off removes a handler registered with any of the On methods.
func (c *Client) Off(sub emitter.Subscription) bool {
	return c.connection.Off(sub) || c.closed.Off(sub) || c.errored.Off(sub) || c.messages.Off(sub)
}

// run dials and then reads until the socket fails or is superseded.
func (c *Client) run(gen uint64, rawURL string) {
	cfg := transport.DialConfig{
		Header:           c.opts.header(),
		HandshakeTimeout: c.opts.HandshakeTimeout,
		WriteTimeout:     c.opts.WriteTimeout,
		PingInterval:     c.opts.PingInterval,
		PingTimeout:      c.opts.PingTimeout,
		ReadLimit:        c.opts.ReadLimit,
		Logger:           c.logger,
	}

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if c.opts.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	}
	conn, err := c.factory.Dial(ctx, rawURL, cfg)
	cancel()

	if err != nil {
		c.logger.Debug("dial failed", "url", rawURL, "error", err)
		c.finish(gen, err)
		return
	}

	sessionID := uuid.New()

	c.emitMu.Lock()
	c.mu.Lock()
	if c.gen != gen || !c.active {
		c.mu.Unlock()
		c.emitMu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.sessionID = sessionID
	c.mu.Unlock()

	c.logger.Info("bridge socket open", "url", rawURL, "session", sessionID)
	c.connection.Emit(struct{}{})
	c.emitMu.Unlock()

	c.readLoop(gen, conn, sessionID)
}

func (c *Client) readLoop(gen uint64, conn transport.Conn, sessionID uuid.UUID) {
	defer conn.Close()

	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			if transport.IsNormalClose(err) {
				c.logger.Info("bridge socket closed", "session", sessionID)
				c.finish(gen, nil)
			} else {
				c.logger.Debug("bridge socket failed", "session", sessionID, "error", err)
				c.finish(gen, err)
			}
			return
		}

		if !c.current(gen) {
			return
		}
		c.messages.Emit(data)
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.active
}

// finish ends attempt gen: error (when err != nil) then close. Superseded or
// closed attempts emit nothing.
func (c *Client) finish(gen uint64, err error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.gen != gen || !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.conn = nil
	c.sessionID = uuid.Nil
	c.mu.Unlock()

	if err != nil {
		c.errored.Emit(err)
	}
	c.closed.Emit(struct{}{})
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}
	return nil
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b > 0x7f {
			return false
		}
	}
	return true
}
