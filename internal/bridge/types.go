package bridge

import (
	"errors"

	"github.com/rickgao/autobridge/internal/emitter"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrNonASCII         = errors.New("frame contains non-ASCII bytes")
	ErrInvalidURL       = errors.New("invalid bridge url")
	ErrInvalidEncoding  = errors.New("invalid encoding")
	ErrAddressInOptions = errors.New("option is not allowed in connection options; pass the address to Connect instead")
)

// ReservedKeys are option keys that would carry the target address. The
// address is only ever supplied through Connect.
var ReservedKeys = []string{"url", "address"}

// Conn is the lifecycle contract the reconnect manager relies on.
type Conn interface {
	// Connect starts a connection attempt to url. It returns an error only
	// when the attempt cannot be started at all.
	Connect(url string) error

	// Close closes the current socket, if any.
	Close() error

	// OnConnection registers a handler for "socket open".
	OnConnection(fn func()) emitter.Subscription

	// OnClose registers a handler for "socket gone".
	OnClose(fn func()) emitter.Subscription

	// OnError registers a handler for connection failures.
	OnError(fn func(error)) emitter.Subscription
}

// CheckReserved returns an error wrapping ErrAddressInOptions when opts
// carries one of ReservedKeys.
func CheckReserved(opts map[string]any) error {
	for _, key := range ReservedKeys {
		if _, ok := opts[key]; ok {
			return &reservedKeyError{key: key}
		}
	}
	return nil
}

type reservedKeyError struct {
	key string
}

func (e *reservedKeyError) Error() string {
	return `"` + e.key + `" ` + ErrAddressInOptions.Error()
}

func (e *reservedKeyError) Unwrap() error {
	return ErrAddressInOptions
}
