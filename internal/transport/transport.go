package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Transport names accepted by Lookup.
const (
	Gorilla = "gorilla"
	Nhooyr  = "nhooyr"
)

// Errors
var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
)

// Conn is a single open WebSocket carrying text frames.
type Conn interface {
	// Read blocks until the next frame arrives or the socket fails.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame. Safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close sends a normal closure frame and releases the socket.
	Close() error
}

// Factory opens transport connections.
type Factory interface {
	Dial(ctx context.Context, url string, cfg DialConfig) (Conn, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, url string, cfg DialConfig) (Conn, error)

// Dial calls f.
func (f FactoryFunc) Dial(ctx context.Context, url string, cfg DialConfig) (Conn, error) {
	return f(ctx, url, cfg)
}

// DialConfig configures a single dial.
type DialConfig struct {
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Max time for the opening handshake
	WriteTimeout     time.Duration // Write deadline per frame
	PingInterval     time.Duration // Keepalive period (0 disables keepalive)
	PingTimeout      time.Duration // Max time without ping/pong before the socket is considered stale
	ReadLimit        int64         // Max inbound frame size (0 = library default)
	Logger           *slog.Logger
}

// DefaultDialConfig returns sensible defaults.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
	}
}

func (c DialConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Lookup returns the factory registered under name. An empty name selects
// the default (gorilla).
func Lookup(name string) (Factory, error) {
	switch strings.ToLower(name) {
	case "", Gorilla:
		return GorillaFactory{}, nil
	case Nhooyr:
		return NhooyrFactory{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
}

// IsNormalClose reports whether err is a clean close initiated by either side.
func IsNormalClose(err error) bool {
	if err == nil {
		return false
	}
	return isGorillaNormalClose(err) || isNhooyrNormalClose(err)
}

// writeDeadline returns the earlier of ctx's deadline and now+timeout.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}
