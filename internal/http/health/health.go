// Package health serves the gate's liveness and readiness probes. Readiness
// flips on once the procedure cache is warmed and the MCP handler is mounted,
// and off again while the server drains.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

type Handler struct {
	ready   atomic.Bool
	started time.Time
}

// New returns a health handler. The process is reported live immediately and
// ready only after SetReady.
func New() *Handler {
	return &Handler{started: time.Now()}
}

// SetReady marks the gate as ready to accept tool calls.
func (h *Handler) SetReady() {
	h.ready.Store(true)
}

// SetNotReady marks the gate as draining.
func (h *Handler) SetNotReady() {
	h.ready.Store(false)
}

// Healthz handles liveness probes.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	})
}

// Readyz handles readiness probes.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	if h.ready.Load() {
		h.respond(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	h.respond(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
}

func (h *Handler) respond(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
