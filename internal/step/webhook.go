package step

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/procgov/pop-mcp-server/internal/protocol"
)

// WebhookHandler accepts step fulfilments from external actors: approval
// decisions, quiz answers, and information acknowledgments.
type WebhookHandler struct {
	// Store holds the suspended steps.
	Store *PendingStore
	// Logger records unmatched fulfilments.
	Logger *slog.Logger
}

// ServeHTTP processes a fulfilment callback.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Store == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var payload protocol.Fulfilment
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	payload.RunID = strings.TrimSpace(payload.RunID)
	payload.StepID = strings.TrimSpace(payload.StepID)
	if payload.RunID == "" || payload.StepID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if payload.Decision != "" {
		switch strings.ToLower(strings.TrimSpace(payload.Decision)) {
		case protocol.DecisionAllow, "approve", protocol.DecisionDeny:
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	if !h.Store.Resolve(payload) {
		if h.Logger != nil {
			h.Logger.Warn("fulfilment for unknown step", "run_id", payload.RunID, "step_id", payload.StepID)
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}
