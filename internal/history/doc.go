// Package history persists bridge status transitions to PostgreSQL or
// TimescaleDB.
//
// The Writer subscribes to a reconnect manager, buffers one row per
// transition and writes batches with pgx.Batch. Recording never blocks the
// manager: when the buffer is full the event is dropped and counted.
//
// Rows are append-only and keyed by a random UUID, so replayed batches are
// absorbed by ON CONFLICT (id) DO NOTHING.
package history
