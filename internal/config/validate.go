package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rickgao/autobridge/internal/bridge"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Bridge.validate(); err != nil {
		return err
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with /, got %q", c.Server.MetricsPath)
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.History.BatchSize < 1 {
		return errors.New("history.batch_size must be >= 1")
	}
	if c.History.BufferSize < 1 {
		return errors.New("history.buffer_size must be >= 1")
	}
	if c.History.FlushInterval <= 0 {
		return errors.New("history.flush_interval must be > 0")
	}
	if !tableName.MatchString(c.History.Table) {
		return fmt.Errorf("history.table %q is not a valid table name", c.History.Table)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Watch.Debounce < 0 {
		return errors.New("watch.debounce must be >= 0")
	}

	return nil
}

func (b *BridgeConfig) validate() error {
	if b.ReconnectTimeout < 0 {
		return errors.New("bridge.reconnect_timeout must be >= 0")
	}

	for _, key := range bridge.ReservedKeys {
		if _, ok := b.ConnectionOptions[key]; ok {
			return fmt.Errorf("bridge.connection_options.%s is not allowed; set bridge.address instead", key)
		}
	}

	if b.Address != "" {
		u, err := url.Parse(b.Address)
		if err != nil {
			return fmt.Errorf("bridge.address: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("bridge.address must use ws or wss, got %q", b.Address)
		}
		if u.Host == "" {
			return fmt.Errorf("bridge.address has no host: %q", b.Address)
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
