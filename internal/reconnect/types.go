package reconnect

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/autobridge/internal/bridge"
)

// Status is the simplified connection state.
type Status string

const (
	StatusClosed     Status = "closed"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Statuses lists every Status value.
var Statuses = []Status{StatusClosed, StatusConnecting, StatusConnected, StatusError}

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of Statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusClosed, StatusConnecting, StatusConnected, StatusError:
		return true
	}
	return false
}

const (
	// DefaultReconnectTimeout is the delay between a close and the retry.
	DefaultReconnectTimeout = 5 * time.Second

	// DefaultPort is the port of the derived default address.
	DefaultPort = "9090"
)

// Errors
var (
	ErrAddressInOptions        = bridge.ErrAddressInOptions
	ErrInvalidReconnectTimeout = errors.New("reconnect timeout must be >= 0")
	ErrNilConnection           = errors.New("dial returned a nil connection")
)

// DialFunc creates the underlying connection from pass-through options.
type DialFunc func(opts map[string]any, logger *slog.Logger) (bridge.Conn, error)

// Options configures a Manager.
type Options struct {
	// ReconnectTimeout is the fixed delay before each automatic retry.
	// Zero selects DefaultReconnectTimeout.
	ReconnectTimeout time.Duration

	// ConnectionOptions are passed through to Dial. They must not carry the
	// target address.
	ConnectionOptions map[string]any

	Logger *slog.Logger

	// Clock schedules retries. Defaults to the real clock.
	Clock clockwork.Clock

	// Dial creates the underlying connection. Defaults to bridge.NewConn.
	Dial DialFunc

	// Hostname resolves the host of the default address. Defaults to
	// os.Hostname.
	Hostname func() (string, error)
}

// Stats is a point-in-time snapshot of a Manager.
type Stats struct {
	Status              Status            `json:"status"`
	Address             string            `json:"address"`
	DefaultAddress      string            `json:"default_address"`
	ReconnectTimeout    time.Duration     `json:"reconnect_timeout"`
	ConnectAttempts     uint64            `json:"connect_attempts"`
	ScheduledReconnects uint64            `json:"scheduled_reconnects"`
	PendingReconnects   int64             `json:"pending_reconnects"`
	Transitions         map[Status]uint64 `json:"transitions"`
}
