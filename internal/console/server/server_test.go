package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/connectors"
	"github.com/xela07ax/spaceai-control-plane/internal/console/handler"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/engine"
	"github.com/xela07ax/spaceai-control-plane/internal/infra/auth"
	"github.com/xela07ax/spaceai-control-plane/internal/killswitch"
	"github.com/xela07ax/spaceai-control-plane/internal/policy"
	"github.com/xela07ax/spaceai-control-plane/internal/registry"
	"github.com/xela07ax/spaceai-control-plane/internal/repository/memory"
	"github.com/xela07ax/spaceai-control-plane/internal/simulation"
	"github.com/xela07ax/spaceai-control-plane/internal/token"
)

var operatorSecret = []byte("operator-secret")

type testEnv struct {
	srv  *httptest.Server
	log  *audit.MemoryLog
	echo *connectors.EchoBackend
}

func newTestEnv(t *testing.T, rules policy.StaticSource) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	log := audit.NewMemoryLog(500)
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	triggers := registry.New(memory.NewTriggerRepo(), log, logger)
	kill := killswitch.NewManager(killswitch.NewMemoryStore(), log, logger)
	pdp := policy.NewPDP(rules, logger)
	sim := simulation.NewService(simulation.NewFileStore(t.TempDir()), pdp, []byte("sim"), log, logger)
	echo := connectors.NewEchoBackend("echo", 0)
	backends := connectors.NewSet(echo)

	d := engine.NewDispatcher(engine.Deps{
		Triggers:       triggers,
		KillSwitch:     kill,
		PDP:            pdp,
		Simulation:     sim,
		Tokens:         token.NewIssuer(token.Options{Local: token.NewLocalSigner([]byte("k"))}, logger),
		Backends:       backends,
		Auditor:        log,
		Metrics:        metrics,
		Logger:         logger,
		DefaultBackend: "echo",
	})

	guard := auth.NewOperatorGuard([]auth.Operator{
		{ID: "alice"},
		{ID: "bob", KeyHash: string(hash)},
	}, auth.NewBaseValidator(nil, operatorSecret), logger)

	s := NewControlPlaneServer(logger, guard, Handlers{
		Triggers:   handler.NewTriggerHandler(triggers, d, logger),
		Simulation: handler.NewSimulationHandler(triggers, sim, logger),
		KillSwitch: handler.NewKillSwitchHandler(kill, logger),
		Audit:      handler.NewAuditHandler(log),
		Health:     handler.NewHealthHandler(backends, time.Second),
	}, "/metrics", reg)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, log: log, echo: echo}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) createTrigger(t *testing.T, body map[string]any) string {
	t.Helper()
	resp, out := e.do(t, http.MethodPost, "/triggers", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return out["id"].(string)
}

func TestTriggerCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, out := env.do(t, http.MethodPost, "/triggers", map[string]any{"name": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation failed", out["error"])
	assert.Len(t, out["fields"], 3)

	id := env.createTrigger(t, map[string]any{"name": "orders.sync", "owner": "ops", "type": "manual"})

	resp, out = env.do(t, http.MethodGet, "/triggers/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "orders.sync", out["name"])
	assert.Equal(t, true, out["enabled"])
	assert.Equal(t, "low", out["safety_level"])

	resp, out = env.do(t, http.MethodPatch, "/triggers/"+id, map[string]any{"owner": "platform"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "platform", out["owner"])

	resp, _ = env.do(t, http.MethodDelete, "/triggers/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = env.do(t, http.MethodGet, "/triggers/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, domain.ReasonTriggerNotFound, out["error"])

	resp, _ = env.do(t, http.MethodPatch, "/triggers/missing", map[string]any{"owner": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStart_HappyPathAndNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createTrigger(t, map[string]any{"name": "orders.sync", "owner": "ops", "type": "manual"})

	resp, out := env.do(t, http.MethodPost, "/triggers/"+id+"/start", map[string]any{"idempotency_key": "k-1"},
		map[string]string{"X-Trace-ID": "trace-xyz", "X-Actor": "router"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])
	result := out["result"].(map[string]any)
	assert.Equal(t, "echo", result["backend"])
	assert.Equal(t, "k-1", result["idempotency_key"])
	assert.Equal(t, "trace-xyz", resp.Header.Get("X-Trace-ID"))

	starts := env.log.ByAction(audit.ActionTriggerStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "trace-xyz", starts[0].TraceID)
	assert.Equal(t, "router", starts[0].Actor)

	resp, out = env.do(t, http.MethodPost, "/triggers/ghost/start", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, domain.ReasonTriggerNotFound, out["error"])
}

func TestStart_PolicyDeniedIs403(t *testing.T) {
	env := newTestEnv(t, policy.StaticSource{{
		ID: "refunds", When: map[string]any{"name": "payments.refund_requested"},
		Effect: domain.EffectDenyIfMissing, Require: []string{"amount"},
	}})
	id := env.createTrigger(t, map[string]any{"name": "payments.refund_requested", "owner": "billing", "type": "event"})

	resp, out := env.do(t, http.MethodPost, "/triggers/"+id+"/start", map[string]any{}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "policy-denied:refunds:missing:amount", out["error"])
	assert.Empty(t, env.echo.Calls())
}

func TestKillSwitch_RequiresOperator(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createTrigger(t, map[string]any{"name": "orders.sync", "owner": "ops", "type": "manual"})

	resp, _ := env.do(t, http.MethodPost, "/kill-switch/global", map[string]any{"enabled": true}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/kill-switch/global", map[string]any{"enabled": true},
		map[string]string{auth.HeaderOperatorID: "mallory"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/kill-switch/global", map[string]any{"enabled": true},
		map[string]string{auth.HeaderOperatorID: "bob", auth.HeaderOperatorKey: "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, env.log.ByAction(audit.ActionKillGlobal), "state untouched on denied requests")

	resp, out := env.do(t, http.MethodPost, "/kill-switch/global", map[string]any{"enabled": true, "reason": "incident"},
		map[string]string{auth.HeaderOperatorID: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["global"])
	assert.Equal(t, "alice", out["global_by"])

	resp, out = env.do(t, http.MethodPost, "/triggers/"+id+"/start", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, domain.ReasonGlobalKill, out["error"])

	resp, _ = env.do(t, http.MethodPost, "/kill-switch/global", map[string]any{"enabled": false},
		map[string]string{auth.HeaderOperatorID: "bob", auth.HeaderOperatorKey: "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/triggers/"+id+"/start", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestKillSwitch_BearerOperator(t *testing.T) {
	env := newTestEnv(t, nil)

	sign := func(claims *domain.OperatorClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(operatorSecret)
		require.NoError(t, err)
		return "Bearer " + s
	}

	viewer := sign(&domain.OperatorClaims{UserID: "vic", Role: "viewer"})
	resp, _ := env.do(t, http.MethodPost, "/kill-switch/triggers/t1", map[string]any{"enabled": true},
		map[string]string{"Authorization": viewer})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ops := sign(&domain.OperatorClaims{UserID: "olga", Roles: []string{"ops"}})
	resp, out := env.do(t, http.MethodPost, "/kill-switch/triggers/t1", map[string]any{"enabled": true},
		map[string]string{"Authorization": ops})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := out["triggers"].(map[string]any)["t1"].(map[string]any)
	assert.Equal(t, true, entry["killed"])
	assert.Equal(t, "olga", entry["by"])

	resp, out = env.do(t, http.MethodGet, "/kill-switch", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["global"])
}

func TestSimulationGateOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createTrigger(t, map[string]any{"name": "payments.payout", "owner": "billing", "type": "manual", "safety_level": "high"})

	resp, out := env.do(t, http.MethodPost, "/triggers/"+id+"/start", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, domain.ReasonSimulationMissing, out["error"])

	resp, _ = env.do(t, http.MethodGet, "/triggers/"+id+"/simulation", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/triggers/"+id+"/simulate", map[string]any{"amount": 10}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/triggers/"+id+"/start", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAuditMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createTrigger(t, map[string]any{"name": "a", "owner": "o", "type": "cron", "schedule": "*/5 * * * *"})

	resp, out := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, map[string]any{"echo": "ok"}, out["backends"])

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/audit?action=trigger.create&limit=5", nil)
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var entries []audit.Entry
	require.NoError(t, json.NewDecoder(r.Body).Decode(&entries))
	r.Body.Close()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionTriggerCreate, entries[0].Action)

	resp, _ = env.do(t, http.MethodGet, "/audit?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err = http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}
