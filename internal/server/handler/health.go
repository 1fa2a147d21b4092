package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/aftchain/internal/pipeline"
)

// StatusSource reports the node status.
type StatusSource interface {
	Status() pipeline.Status
}

// HealthHandler serves liveness and chain status.
type HealthHandler struct {
	node   string
	mode   string
	source StatusSource
	maxLag time.Duration
	now    func() time.Time
}

// NewHealthHandler reports unhealthy once the status is older than maxLag.
func NewHealthHandler(node, mode string, source StatusSource, maxLag time.Duration) *HealthHandler {
	return &HealthHandler{node: node, mode: mode, source: source, maxLag: maxLag, now: time.Now}
}

// HealthCheck answers 200 while the chain loop keeps stepping, 503 after.
// GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	st := h.source.Status()
	lag := h.now().Sub(st.UpdatedAt)
	if h.maxLag > 0 && lag > h.maxLag {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "stalled",
			"lag":    lag.Round(time.Millisecond).String(),
			"head":   st.Head,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "head": st.Head})
}

// GetStatus returns the full node status.
// GET /status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Node string `json:"node"`
		Mode string `json:"mode"`
		pipeline.Status
	}{h.node, h.mode, h.source.Status()})
}
