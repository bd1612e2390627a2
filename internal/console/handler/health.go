package handler

import (
	"context"
	"net/http"
	"time"
)

type HealthChecker interface {
	Health(ctx context.Context) map[string]error
}

type HealthHandler struct {
	backends HealthChecker
	timeout  time.Duration
}

func NewHealthHandler(backends HealthChecker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{backends: backends, timeout: timeout}
}

// Health: GET /health. Процесс жив: всегда 200, состояние бэкендов в теле.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := "ok"
	backends := map[string]string{}
	for name, err := range h.backends.Health(ctx) {
		if err != nil {
			backends[name] = err.Error()
			status = "degraded"
			continue
		}
		backends[name] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "backends": backends})
}
