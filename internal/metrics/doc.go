// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Bridge status (one-hot gauge) and transition counts
//   - Connect attempts, scheduled and pending reconnects
//   - Status history writer throughput, errors and drops
//   - Live status stream subscribers
//   - Build info, Go runtime and process collectors
package metrics
