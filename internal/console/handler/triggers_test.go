package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/engine"
)

type stubStarter struct {
	res *engine.Result
	err error
}

func (s stubStarter) StartTrigger(context.Context, string, map[string]any) (*engine.Result, error) {
	return s.res, s.err
}

func startRequest(t *testing.T, s Starter) (int, startResponse) {
	t.Helper()
	h := NewTriggerHandler(nil, s, zap.NewNop())
	r := chi.NewRouter()
	r.Post("/triggers/{id}/start", h.Start)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/triggers/t1/start", nil))

	var body startResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestStart_StatusByRejectionKind(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"not found", domain.Reject(domain.KindNotFound, domain.ReasonTriggerNotFound, nil), http.StatusNotFound, domain.ReasonTriggerNotFound},
		{"global kill", domain.Reject(domain.KindForbidden, domain.ReasonGlobalKill, nil), http.StatusForbidden, domain.ReasonGlobalKill},
		{"policy", domain.Reject(domain.KindForbidden, domain.ReasonPolicyDeniedPrefix+"r1", nil), http.StatusForbidden, domain.ReasonPolicyDeniedPrefix + "r1"},
		{"backend", domain.Reject(domain.KindUnavailable, "backend-unavailable:dag", nil), http.StatusInternalServerError, "backend-unavailable:dag"},
		{"internal", domain.Reject(domain.KindInternal, "token-issuance-failed", nil), http.StatusInternalServerError, "token-issuance-failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := startRequest(t, stubStarter{err: tc.err})
			assert.Equal(t, tc.status, status)
			assert.False(t, body.OK)
			assert.Equal(t, tc.reason, body.Error)
		})
	}
}

func TestStart_PlainErrorIs500(t *testing.T) {
	status, body := startRequest(t, stubStarter{err: errors.New("boom")})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, body.OK)
	assert.NotEmpty(t, body.Error)
}

func TestStart_OK(t *testing.T) {
	status, body := startRequest(t, stubStarter{res: &engine.Result{Backend: "temporal", IdempotencyKey: "t1"}})
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.OK)
	require.NotNil(t, body.Result)
	assert.Equal(t, "temporal", body.Result.Backend)
}
