// Package database provides the pgx connection pool for the status history
// store (PostgreSQL or TimescaleDB).
package database
