package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/autobridge/internal/emitter"
	"github.com/rickgao/autobridge/internal/reconnect"
)

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Source publishes status transitions. *reconnect.Manager implements it.
type Source interface {
	OnStatus(fn func(reconnect.Status)) emitter.Subscription
	Address() string
}

// Config holds writer settings.
type Config struct {
	InstanceID    string
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:         "bridge_status_events",
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1024,
	}
}

// Event is one persisted status transition.
type Event struct {
	ID         uuid.UUID
	InstanceID string
	Status     reconnect.Status
	Address    string
	OccurredAt time.Time
}

// Stats tracks writer performance.
type Stats struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Flushes   int64 `json:"flushes"`
	Errors    int64 `json:"errors"`
	Dropped   int64 `json:"dropped"`
}
