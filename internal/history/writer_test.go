package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/autobridge/internal/emitter"
	"github.com/rickgao/autobridge/internal/reconnect"
)

// fakeDB records statements and batches.
type fakeDB struct {
	mu       sync.Mutex
	execs    []string
	batches  [][]*pgx.QueuedQuery
	execErr  error
	batchErr error
	conflict map[int]bool // row index within a batch reported as conflict
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execs = append(db.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), db.execErr
}

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches = append(db.batches, b.QueuedQueries)
	return &fakeResults{db: db, n: b.Len()}
}

func (db *fakeDB) rows() []*pgx.QueuedQuery {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range db.batches {
		out = append(out, b...)
	}
	return out
}

type fakeResults struct {
	db *fakeDB
	n  int
	i  int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.batchErr != nil {
		return pgconn.CommandTag{}, r.db.batchErr
	}
	i := r.i
	r.i++
	if r.db.conflict[i] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row          { return nil }
func (r *fakeResults) Close() error               { return nil }

// fakeSource is a minimal status publisher.
type fakeSource struct {
	events  emitter.Emitter[reconnect.Status]
	address string
}

func (s *fakeSource) OnStatus(fn func(reconnect.Status)) emitter.Subscription {
	return s.events.On(fn)
}

func (s *fakeSource) Address() string { return s.address }

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(Config{}, &fakeDB{}, nil)

	def := DefaultConfig()
	if w.cfg.Table != def.Table || w.cfg.BatchSize != def.BatchSize ||
		w.cfg.FlushInterval != def.FlushInterval || w.cfg.BufferSize != def.BufferSize {
		t.Errorf("cfg = %+v, want defaults %+v", w.cfg, def)
	}
	if w.table != `"bridge_status_events"` {
		t.Errorf("table = %s", w.table)
	}
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bridge_status_events", `"bridge_status_events"`},
		{"telemetry.bridge_events", `"telemetry"."bridge_events"`},
	}

	for _, tt := range tests {
		if got := sanitizeTable(tt.in); got != tt.want {
			t.Errorf("sanitizeTable(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWriter_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{Table: "telemetry.bridge_events"}, db, nil)

	if err := w.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.execs) != 2 {
		t.Fatalf("got %d statements, want 2", len(db.execs))
	}
	if !strings.Contains(db.execs[0], `CREATE TABLE IF NOT EXISTS "telemetry"."bridge_events"`) {
		t.Errorf("table statement = %s", db.execs[0])
	}
	if !strings.Contains(db.execs[1], `"bridge_events_occurred_at_idx"`) {
		t.Errorf("index statement = %s", db.execs[1])
	}

	db.execErr = errors.New("permission denied")
	if err := w.EnsureSchema(context.Background()); err == nil {
		t.Error("EnsureSchema() expected error")
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{
		InstanceID:    "monitor-1",
		BatchSize:     3,
		FlushInterval: time.Hour,
	}, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.Record(reconnect.StatusConnecting, "ws://robot:9090")
	w.Record(reconnect.StatusConnected, "ws://robot:9090")
	w.Record(reconnect.StatusClosed, "ws://robot:9090")

	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().Flushes == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rows := db.rows()
	if len(rows) != 3 {
		t.Fatalf("inserted %d rows, want 3", len(rows))
	}
	if !strings.Contains(rows[0].SQL, `INSERT INTO "bridge_status_events"`) {
		t.Errorf("SQL = %s", rows[0].SQL)
	}
	if !strings.Contains(rows[0].SQL, "ON CONFLICT (id) DO NOTHING") {
		t.Errorf("SQL missing conflict clause: %s", rows[0].SQL)
	}

	args := rows[1].Arguments
	if args[1] != "monitor-1" || args[2] != "connected" || args[3] != "ws://robot:9090" {
		t.Errorf("arguments = %v", args)
	}
	if args[0] == rows[0].Arguments[0] {
		t.Error("rows share an id")
	}

	if err := w.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s := w.Stats(); s.Inserts != 3 || s.Flushes != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	db := &fakeDB{conflict: map[int]bool{1: true}}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.Record(reconnect.StatusConnecting, "ws://a:9090")
	w.Record(reconnect.StatusError, "ws://a:9090")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := len(db.rows()); got != 2 {
		t.Errorf("inserted %d rows, want 2", got)
	}
	s := w.Stats()
	if s.Inserts != 1 || s.Conflicts != 1 {
		t.Errorf("Stats() = %+v, want 1 insert and 1 conflict", s)
	}
}

func TestWriter_FlushInterval(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(context.Background())

	w.Record(reconnect.StatusConnecting, "ws://a:9090")

	deadline := time.Now().Add(2 * time.Second)
	for len(db.rows()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(db.rows()) != 1 {
		t.Errorf("inserted %d rows, want 1", len(db.rows()))
	}
}

func TestWriter_InsertError(t *testing.T) {
	db := &fakeDB{batchErr: errors.New("connection reset")}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	w.Record(reconnect.StatusClosed, "ws://a:9090")
	w.add(<-w.input)

	if err := w.flush(context.Background()); err == nil {
		t.Fatal("flush() expected error")
	}
	if s := w.Stats(); s.Errors != 1 || s.Inserts != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestWriter_RecordDropsWhenFull(t *testing.T) {
	w := NewWriter(Config{BufferSize: 2}, &fakeDB{}, nil)

	// Not started: nothing drains the buffer.
	if !w.Record(reconnect.StatusConnecting, "ws://a:9090") {
		t.Error("Record() #1 = false")
	}
	if !w.Record(reconnect.StatusConnected, "ws://a:9090") {
		t.Error("Record() #2 = false")
	}
	if w.Record(reconnect.StatusClosed, "ws://a:9090") {
		t.Error("Record() #3 = true, want drop")
	}

	if got := w.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestWriter_Observe(t *testing.T) {
	src := &fakeSource{address: "ws://robot:9090"}
	w := NewWriter(Config{InstanceID: "m"}, &fakeDB{}, nil)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	w.Observe(src)
	src.events.Emit(reconnect.StatusConnected)

	select {
	case ev := <-w.input:
		if ev.Status != reconnect.StatusConnected || ev.Address != "ws://robot:9090" ||
			ev.InstanceID != "m" || !ev.OccurredAt.Equal(fixed) {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no event recorded")
	}
}
