package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/simulation"
)

type Simulator interface {
	DryRun(ctx context.Context, trigger *domain.Trigger, payload map[string]any) (*simulation.Report, error)
	Load(ctx context.Context, triggerID string) (*simulation.Report, error)
}

type SimulationHandler struct {
	triggers  TriggerService
	simulator Simulator
	logger    *zap.Logger
}

func NewSimulationHandler(triggers TriggerService, sim Simulator, logger *zap.Logger) *SimulationHandler {
	return &SimulationHandler{triggers: triggers, simulator: sim, logger: logger.Named("simulation-api")}
}

// Simulate: POST /triggers/{id}/simulate: оценка политики без запуска, отчет сохраняется.
func (h *SimulationHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.triggers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			writeError(w, http.StatusNotFound, domain.ReasonTriggerNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	report, err := h.simulator.DryRun(r.Context(), t, payload)
	if err != nil {
		h.logger.Error("dry run", zap.String("trigger", t.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// Report: GET /triggers/{id}/simulation
func (h *SimulationHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.simulator.Load(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, simulation.ErrReportNotFound):
		writeError(w, http.StatusNotFound, "simulation report not found")
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}
