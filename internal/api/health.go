package api

import (
	"net/http"
	"time"

	"piano/internal/history"
	"piano/internal/ws"
)

type HealthHandler struct {
	store    *history.Store
	registry *ws.Registry
	started  time.Time
}

func NewHealthHandler(store *history.Store, registry *ws.Registry, started time.Time) *HealthHandler {
	return &HealthHandler{store: store, registry: registry, started: started}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := http.StatusOK

	if err := h.store.Ping(); err != nil {
		dbStatus = "error"
		status = http.StatusServiceUnavailable
	}

	result := "ok"
	if status != http.StatusOK {
		result = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":      result,
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"connections": h.registry.ConnectionCount(),
		"checks": map[string]string{
			"database": dbStatus,
		},
	})
}
