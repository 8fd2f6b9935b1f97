package config

import (
	"time"

	"github.com/rickgao/autobridge/internal/reconnect"
)

// Config is the root configuration for a bridgemon instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance" toml:"instance"`
	Bridge   BridgeConfig   `yaml:"bridge" toml:"bridge"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DBConfig       `yaml:"database" toml:"database"`
	History  HistoryConfig  `yaml:"history" toml:"history"`
	Log      LogConfig      `yaml:"log" toml:"log"`
	Watch    WatchConfig    `yaml:"watch" toml:"watch"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID string `yaml:"id" toml:"id"`
}

// BridgeConfig holds the reconnect manager settings.
type BridgeConfig struct {
	Address          string        `yaml:"address" toml:"address"` // Empty = ws://<hostname>:9090
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout" toml:"reconnect_timeout"`

	// ConnectionOptions are passed through to the bridge client untouched.
	ConnectionOptions map[string]any `yaml:"connection_options" toml:"connection_options"`
}

// ReconnectOptions returns the manager options described by b. Logger,
// clock and dial hooks are left for the caller.
func (b BridgeConfig) ReconnectOptions() reconnect.Options {
	return reconnect.Options{
		ReconnectTimeout:  b.ReconnectTimeout,
		ConnectionOptions: b.ConnectionOptions,
	}
}

// ServerConfig holds the HTTP status server settings.
type ServerConfig struct {
	Port        int    `yaml:"port" toml:"port"`
	MetricsPath string `yaml:"metrics_path" toml:"metrics_path"`
}

// DBConfig holds the TimescaleDB/PostgreSQL connection for status history.
// History is disabled when Host is empty.
type DBConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// HistoryConfig holds the status history writer settings.
type HistoryConfig struct {
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size" toml:"buffer_size"`
	Table         string        `yaml:"table" toml:"table"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text, json
}

// WatchConfig holds config hot-reload settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce"`
}
