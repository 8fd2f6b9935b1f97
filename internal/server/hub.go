package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/autobridge/internal/emitter"
	"github.com/rickgao/autobridge/internal/reconnect"
)

const statusTopic = "status"

// DefaultHubCapacity is the per-subscriber event buffer.
const DefaultHubCapacity = 64

// Event is one status transition as sent to stream clients.
type Event struct {
	Status  reconnect.Status `json:"status"`
	Address string           `json:"address"`
	At      time.Time        `json:"at"`
}

// StatusSource publishes status transitions. *reconnect.Manager implements
// it.
type StatusSource interface {
	OnStatus(fn func(reconnect.Status)) emitter.Subscription
	Status() reconnect.Status
	Address() string
	Stats() reconnect.Stats
}

// Hub fans status events out to stream clients.
type Hub struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
	gauge  prometheus.Gauge

	mu     sync.RWMutex
	closed bool

	subscribers atomic.Int64
	published   atomic.Int64
	now         func() time.Time
}

// NewHub creates a Hub. gauge, when non-nil, tracks the subscriber count.
func NewHub(capacity int, gauge prometheus.Gauge, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultHubCapacity
	}
	return &Hub{
		ps:     pubsub.New(capacity),
		logger: logger.With("component", "hub"),
		gauge:  gauge,
		now:    time.Now,
	}
}

// Observe publishes every transition of src.
func (h *Hub) Observe(src StatusSource) emitter.Subscription {
	return src.OnStatus(func(s reconnect.Status) {
		h.Publish(Event{Status: s, Address: src.Address(), At: h.now()})
	})
}

// Publish sends ev to every subscriber with buffer space. It is a no-op
// after Close.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.ps.TryPub(ev, statusTopic)
	h.published.Add(1)
}

// Subscribe returns a channel of Event values and a cancel func. The channel
// is closed after cancel or Close.
func (h *Hub) Subscribe() (<-chan interface{}, func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		ch := make(chan interface{})
		close(ch)
		return ch, func() {}
	}

	ch := h.ps.Sub(statusTopic)
	h.track(1)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.track(-1)

			// The pubsub loop only ever TryPubs, so it never blocks on this
			// channel and Unsub can run on the consuming goroutine.
			h.mu.RLock()
			if !h.closed {
				h.ps.Unsub(ch, statusTopic)
			}
			h.mu.RUnlock()

			for range ch {
			}
		})
	}
	return ch, cancel
}

func (h *Hub) track(delta int64) {
	h.subscribers.Add(delta)
	if h.gauge != nil {
		h.gauge.Add(float64(delta))
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int64 {
	return h.subscribers.Load()
}

// Published returns the number of events published.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close shuts the hub down and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.ps.Shutdown()
	h.logger.Debug("hub closed")
}
