package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/engine"
)

type TriggerService interface {
	List(ctx context.Context) ([]domain.Trigger, error)
	Get(ctx context.Context, id string) (*domain.Trigger, error)
	Create(ctx context.Context, draft domain.TriggerDraft) (*domain.Trigger, error)
	Update(ctx context.Context, id string, patch domain.TriggerPatch) (*domain.Trigger, error)
	SoftDelete(ctx context.Context, id string) error
}

type Starter interface {
	StartTrigger(ctx context.Context, id string, payload map[string]any) (*engine.Result, error)
}

type TriggerHandler struct {
	service    TriggerService
	dispatcher Starter
	logger     *zap.Logger
}

func NewTriggerHandler(s TriggerService, d Starter, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{service: s, dispatcher: d, logger: logger.Named("triggers-api")}
}

// List: GET /triggers
func (h *TriggerHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list triggers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create: POST /triggers
func (h *TriggerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var draft domain.TriggerDraft
	if err := decodeBody(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.service.Create(r.Context(), draft)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Get: GET /triggers/{id}
func (h *TriggerHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Update: PATCH /triggers/{id}
func (h *TriggerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch domain.TriggerPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Delete: DELETE /triggers/{id}, мягкое удаление.
func (h *TriggerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startResponse struct {
	OK     bool           `json:"ok"`
	Result *engine.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Start: POST /triggers/{id}/start. Тело: payload запуска (может быть пустым).
func (h *TriggerHandler) Start(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeBody(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Error: "invalid request body"})
		return
	}

	res, err := h.dispatcher.StartTrigger(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		var rej *domain.Rejection
		if errors.As(err, &rej) {
			writeJSON(w, statusOf(rej.Kind), startResponse{Error: rej.Reason})
			return
		}
		h.logger.Error("start trigger", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, startResponse{Error: domain.ReasonOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, startResponse{OK: true, Result: res})
}

func (h *TriggerHandler) writeStoreError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, domain.ErrTriggerNotFound):
		writeError(w, http.StatusNotFound, domain.ReasonTriggerNotFound)
	case errors.Is(err, domain.ErrTriggerExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("trigger store", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
