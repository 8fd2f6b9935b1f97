package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/autobridge/internal/history"
	"github.com/rickgao/autobridge/internal/reconnect"
	"github.com/rickgao/autobridge/internal/version"
)

// Health states reported by /health.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// Options wires the handler to its data sources. Only Manager is required.
type Options struct {
	InstanceID  string
	Manager     StatusSource
	Hub         *Hub
	Metrics     http.Handler
	MetricsPath string

	// History, when set, is reported by /status.
	History func() history.Stats

	// Ping, when set, checks the history database for /health.
	Ping func(ctx context.Context) error

	Logger *slog.Logger
}

type handler struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the HTTP handler for health, status, metrics and the
// live stream.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	h := &handler{
		opts:   opts,
		logger: logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /status", h.status)
	if opts.Metrics != nil {
		mux.Handle("GET "+opts.MetricsPath, opts.Metrics)
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", h.stream)
	}
	return mux
}

// HealthOf maps a bridge status to a health state.
func HealthOf(s reconnect.Status) string {
	switch s {
	case reconnect.StatusConnected:
		return Healthy
	case reconnect.StatusConnecting:
		return Degraded
	default:
		return Unhealthy
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.opts.Manager.Status()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status: HealthOf(status),
		Components: map[string]any{
			"bridge": map[string]string{
				"status":  status.String(),
				"address": h.opts.Manager.Address(),
			},
		},
	}

	// Check database
	if h.opts.Ping != nil {
		if err := h.opts.Ping(ctx); err != nil {
			if health.Status == Healthy {
				health.Status = Degraded
			}
			health.Components["history_db"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["history_db"] = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	InstanceID        string            `json:"instance_id,omitempty"`
	Version           version.BuildInfo `json:"version"`
	Bridge            reconnect.Stats   `json:"bridge"`
	History           *history.Stats    `json:"history,omitempty"`
	StreamSubscribers int64             `json:"stream_subscribers"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		InstanceID: h.opts.InstanceID,
		Version:    version.Info(),
		Bridge:     h.opts.Manager.Stats(),
	}
	if h.opts.History != nil {
		s := h.opts.History()
		resp.History = &s
	}
	if h.opts.Hub != nil {
		resp.StreamSubscribers = h.opts.Hub.Subscribers()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// stream sends the current status, then one event per transition until the
// client goes away.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.opts.Hub.Subscribe()
	defer cancel()

	h.logger.Debug("stream client connected", "remote", r.RemoteAddr)

	// Reader: detects client close. Inbound frames are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	current := Event{
		Status:  h.opts.Manager.Status(),
		Address: h.opts.Manager.Address(),
		At:      time.Now(),
	}
	if err := writeEvent(conn, current); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			h.logger.Debug("stream client disconnected", "remote", r.RemoteAddr)
			return
		case msg, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			ev, ok := msg.(Event)
			if !ok {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				h.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
