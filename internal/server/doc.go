// Package server exposes the bridge monitor over HTTP.
//
// Endpoints:
//   - GET /health   healthy, degraded or unhealthy (503) from the bridge status
//   - GET /status   manager stats, history writer stats and build info
//   - GET /metrics  Prometheus exposition (path configurable)
//   - GET /ws       WebSocket stream of status events, one JSON object per transition
//
// Status events fan out through a Hub backed by github.com/cskr/pubsub.
// Publishing never blocks: a stream client that falls behind misses events
// rather than stalling the reconnect manager.
package server
