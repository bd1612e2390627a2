package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/infra/auth"
)

type KillSwitchService interface {
	Status(ctx context.Context) (domain.KillSwitchState, error)
	SetGlobalKill(ctx context.Context, on bool, actor domain.Actor) (domain.KillSwitchState, error)
	SetTriggerKill(ctx context.Context, id string, on bool, actor domain.Actor) (domain.KillSwitchState, error)
}

type KillSwitchHandler struct {
	service KillSwitchService
	logger  *zap.Logger
}

func NewKillSwitchHandler(s KillSwitchService, logger *zap.Logger) *KillSwitchHandler {
	return &KillSwitchHandler{service: s, logger: logger.Named("killswitch-api")}
}

type toggleRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// Status: GET /kill-switch
func (h *KillSwitchHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context())
	if err != nil {
		h.logger.Error("read kill-switch state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, domain.ReasonKillSwitchUnreadable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetGlobal: POST /kill-switch/global. Только за OperatorGuard.
func (h *KillSwitchHandler) SetGlobal(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.parse(w, r)
	if !ok {
		return
	}
	st, err := h.service.SetGlobalKill(r.Context(), req.Enabled, actor)
	h.respond(w, st, err)
}

// SetTrigger: POST /kill-switch/triggers/{id}. Только за OperatorGuard.
func (h *KillSwitchHandler) SetTrigger(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.parse(w, r)
	if !ok {
		return
	}
	st, err := h.service.SetTriggerKill(r.Context(), chi.URLParam(r, "id"), req.Enabled, actor)
	h.respond(w, st, err)
}

func (h *KillSwitchHandler) parse(w http.ResponseWriter, r *http.Request) (toggleRequest, domain.Actor, bool) {
	var req toggleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, domain.Actor{}, false
	}
	operator := auth.OperatorFromContext(r.Context())
	if operator == "" {
		writeError(w, http.StatusForbidden, "unauthorized")
		return req, domain.Actor{}, false
	}
	return req, domain.Actor{By: operator, Reason: req.Reason}, true
}

func (h *KillSwitchHandler) respond(w http.ResponseWriter, st domain.KillSwitchState, err error) {
	if err != nil {
		h.logger.Error("persist kill-switch state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to persist kill-switch state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
