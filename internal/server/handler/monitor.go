package handler

import (
	"net/http"

	"github.com/alanyoungcy/aftchain/internal/monitor"
)

// MonitorHandler exposes the feed monitor.
type MonitorHandler struct {
	mon *monitor.FeedMonitor
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(mon *monitor.FeedMonitor) *MonitorHandler {
	return &MonitorHandler{mon: mon}
}

// GetStats returns the per-pair and per-feeder statistics.
// GET /monitor/stats
func (h *MonitorHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.Snapshot())
}

// GetAlarms returns alarms waiting for delivery.
// GET /monitor/alarms
func (h *MonitorHandler) GetAlarms(w http.ResponseWriter, _ *http.Request) {
	alarms := h.mon.Pending()
	if alarms == nil {
		alarms = []monitor.Alarm{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": alarms})
}
