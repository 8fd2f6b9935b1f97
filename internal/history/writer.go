package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/autobridge/internal/emitter"
	"github.com/rickgao/autobridge/internal/reconnect"
)

// Writer batches status events into the history table.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	table  string // sanitized identifier

	// Input from Record
	input chan Event

	// Database
	db DB

	// Batching
	batch   []Event
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	stats   Stats
	dropped atomic.Int64
	now     func() time.Time
}

// NewWriter creates a Writer. Zero config fields take DefaultConfig values.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "history"),
		table:  sanitizeTable(cfg.Table),
		input:  make(chan Event, cfg.BufferSize),
		db:     db,
		batch:  make([]Event, 0, cfg.BatchSize),
		now:    time.Now,
	}
}

func sanitizeTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// EnsureSchema creates the history table and its time index if missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	parts := strings.Split(w.cfg.Table, ".")
	index := pgx.Identifier{parts[len(parts)-1] + "_occurred_at_idx"}.Sanitize()

	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          UUID PRIMARY KEY,
				instance_id TEXT NOT NULL,
				status      TEXT NOT NULL,
				address     TEXT NOT NULL,
				occurred_at TIMESTAMPTZ NOT NULL
			)`, w.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (occurred_at DESC)`, index, w.table),
	}

	for _, stmt := range stmts {
		if _, err := w.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure history schema: %w", err)
		}
	}
	return nil
}

// Observe records every status change published by src.
func (w *Writer) Observe(src Source) emitter.Subscription {
	return src.OnStatus(func(s reconnect.Status) {
		w.Record(s, src.Address())
	})
}

// Record queues one transition. It never blocks; when the buffer is full
// the event is dropped and false is returned.
func (w *Writer) Record(status reconnect.Status, address string) bool {
	ev := Event{
		ID:         uuid.New(),
		InstanceID: w.cfg.InstanceID,
		Status:     status,
		Address:    address,
		OccurredAt: w.now(),
	}

	select {
	case w.input <- ev:
		return true
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.logger.Warn("history buffer full, dropping event",
				"status", status,
				"dropped", n,
			)
		}
		return false
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("history writer started",
		"table", w.cfg.Table,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events and performs a final flush with ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
		return ctx.Err()
	}

	// Drain whatever is still queued
drain:
	for {
		select {
		case ev := <-w.input:
			w.add(ev)
		default:
			break drain
		}
	}

	err := w.flush(ctx)
	w.logger.Info("history writer stopped")
	return err
}

// Stats returns current metrics.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	s := w.stats
	s.Dropped = w.dropped.Load()
	return s
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.input:
			if w.add(ev) {
				w.flush(w.ctx)
			}
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends ev and reports whether the batch is full.
func (w *Writer) add(ev Event) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, ev)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return fmt.Errorf("insert status events: %w", err)
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed status events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Event) (conflicts int, err error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, instance_id, status, address, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, w.table)

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query, r.ID, r.InstanceID, string(r.Status), r.Address, r.OccurredAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
