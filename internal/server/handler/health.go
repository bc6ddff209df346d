package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/keeper"
)

// HealthHandler serves the liveness probe.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// HealthCheck GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CycleReporter exposes the keeper's most recent cycle.
type CycleReporter interface {
	LastReport() *keeper.CycleReport
}

// PendingCounter is get_pending_orders_count.
type PendingCounter interface {
	PendingCount() uint64
}

// StatusHandler reports the process mode and keeper progress.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	keeper    CycleReporter
	orders    PendingCounter
}

// NewStatusHandler builds the handler. reporter is nil in server-only mode.
func NewStatusHandler(mode string, reporter CycleReporter, orders PendingCounter) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: time.Now().UTC(), keeper: reporter, orders: orders}
}

// GetStatus GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"pending_orders": h.orders.PendingCount(),
		"keeper_running": h.keeper != nil,
	}
	if h.keeper != nil {
		if rep := h.keeper.LastReport(); rep != nil {
			resp["last_cycle"] = rep
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
