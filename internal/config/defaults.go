package config

import (
	"os"
	"time"

	"github.com/rickgao/autobridge/internal/reconnect"
)

// Default values for optional configuration fields.
const (
	DefaultReconnectTimeout = reconnect.DefaultReconnectTimeout
	DefaultServerPort       = 8080
	DefaultMetricsPath      = "/metrics"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 1 * time.Second
	DefaultBufferSize       = 1024
	DefaultHistoryTable     = "bridge_status_events"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultWatchDebounce    = 250 * time.Millisecond
)

func (c *Config) applyDefaults() {
	// Instance defaults
	if c.Instance.ID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Instance.ID = host
		} else {
			c.Instance.ID = "bridgemon"
		}
	}

	// Bridge defaults
	if c.Bridge.ReconnectTimeout == 0 {
		c.Bridge.ReconnectTimeout = DefaultReconnectTimeout
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}

	// Database defaults
	applyDBDefaults(&c.Database)

	// History defaults
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultFlushInterval
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = DefaultBufferSize
	}
	if c.History.Table == "" {
		c.History.Table = DefaultHistoryTable
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Watch defaults
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = DefaultWatchDebounce
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
