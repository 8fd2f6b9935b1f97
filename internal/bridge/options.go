package bridge

import (
	"fmt"
	"maps"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/rickgao/autobridge/internal/transport"
)

// Encodings accepted by the client.
const (
	EncodingASCII = "ascii"
	EncodingUTF8  = "utf8"
)

// Options configures a Client. It is decoded from the opaque connection
// options map the reconnect manager passes through.
type Options struct {
	Encoding         string            `mapstructure:"encoding"`
	Transport        string            `mapstructure:"transport"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration     `mapstructure:"write_timeout"`
	PingInterval     time.Duration     `mapstructure:"ping_interval"`
	PingTimeout      time.Duration     `mapstructure:"ping_timeout"`
	ReadLimit        int64             `mapstructure:"read_limit"`
	Headers          map[string]string `mapstructure:"headers"`
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	dial := transport.DefaultDialConfig()
	return Options{
		Encoding:         EncodingASCII,
		Transport:        transport.Gorilla,
		HandshakeTimeout: dial.HandshakeTimeout,
		WriteTimeout:     dial.WriteTimeout,
		PingInterval:     dial.PingInterval,
		PingTimeout:      dial.PingTimeout,
	}
}

// WithDefaults returns a copy of raw with the encoding and transport
// defaults filled in. raw itself is never modified.
func WithDefaults(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+2)
	maps.Copy(out, raw)
	if _, ok := out["encoding"]; !ok {
		out["encoding"] = EncodingASCII
	}
	if _, ok := out["transport"]; !ok {
		out["transport"] = transport.Gorilla
	}
	return out
}

// ParseOptions decodes raw into Options. Keys that Options does not know are
// returned sorted so callers can log them; they are not an error.
func ParseOptions(raw map[string]any) (Options, []string, error) {
	if err := CheckReserved(raw); err != nil {
		return Options{}, nil, err
	}

	opts := DefaultOptions()
	var md mapstructure.Metadata

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           &opts,
	})
	if err != nil {
		return Options{}, nil, fmt.Errorf("create options decoder: %w", err)
	}

	if err := dec.Decode(WithDefaults(raw)); err != nil {
		return Options{}, nil, fmt.Errorf("decode connection options: %w", err)
	}

	if err := opts.validate(); err != nil {
		return Options{}, nil, err
	}

	sort.Strings(md.Unused)
	return opts, md.Unused, nil
}

func (o *Options) validate() error {
	o.Encoding = strings.ToLower(o.Encoding)
	if o.Encoding != EncodingASCII && o.Encoding != EncodingUTF8 {
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidEncoding, o.Encoding, EncodingASCII, EncodingUTF8)
	}

	if _, err := transport.Lookup(o.Transport); err != nil {
		return err
	}

	if o.HandshakeTimeout < 0 || o.WriteTimeout < 0 || o.PingInterval < 0 || o.PingTimeout < 0 {
		return fmt.Errorf("connection option timeouts must be >= 0")
	}
	return nil
}

func (o Options) header() http.Header {
	if len(o.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(o.Headers))
	for k, v := range o.Headers {
		h.Set(k, v)
	}
	return h
}
