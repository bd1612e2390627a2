package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/connectors"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/engine"
	"github.com/xela07ax/spaceai-control-plane/internal/killswitch"
	"github.com/xela07ax/spaceai-control-plane/internal/policy"
	"github.com/xela07ax/spaceai-control-plane/internal/registry"
	"github.com/xela07ax/spaceai-control-plane/internal/repository/memory"
	"github.com/xela07ax/spaceai-control-plane/internal/simulation"
	"github.com/xela07ax/spaceai-control-plane/internal/token"
)

type staticTriggers []domain.Trigger

func (s staticTriggers) List(context.Context) ([]domain.Trigger, error) {
	return s, nil
}

type startCall struct {
	id      string
	payload map[string]any
}

type fakeStarter struct {
	mu    sync.Mutex
	calls []startCall
	fail  map[string]error
}

func (f *fakeStarter) StartTrigger(_ context.Context, id string, payload map[string]any) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startCall{id: id, payload: payload})
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return &engine.Result{Backend: "echo", IdempotencyKey: payload["idempotency_key"].(string)}, nil
}

func TestDetector(t *testing.T) {
	d := NewDetector([]DetectionRule{
		{Match: "re:^billing\\.", Issue: "ledger-drift", Severity: domain.SeverityHigh, Action: "recount"},
		{Match: "*", Issue: "", Severity: domain.SeverityLow},           // без issue
		{Match: "x", Issue: "bad", Severity: domain.Severity("extreme")}, // неизвестная severity
	})

	task := d.Detect(&domain.Trigger{ID: "b1", Name: "billing.close"})
	require.NotNil(t, task)
	assert.Equal(t, "ledger-drift", task.Issue)
	assert.Equal(t, domain.SeverityHigh, task.Severity)

	assert.Nil(t, d.Detect(&domain.Trigger{ID: "x", Name: "x"}))

	def := NewDetector(nil).Detect(&domain.Trigger{ID: "i1", Name: "inventory.low_stock"})
	require.NotNil(t, def)
	assert.Equal(t, domain.RepairTask{
		TriggerID: "i1", Issue: "stock-below-threshold", Severity: domain.SeverityMedium, SuggestedAction: "reorder",
	}, *def)
}

func TestRunWindow_SeverityGate(t *testing.T) {
	triggers := staticTriggers{
		{ID: "t-low", Name: "cache.stale", Enabled: true},
		{ID: "t-high", Name: "billing.close", Enabled: true},
		{ID: "t-off", Name: "cache.stale", Enabled: false},
		{ID: "t-ok", Name: "orders.sync", Enabled: true},
	}
	det := NewDetector([]DetectionRule{
		{Match: "cache.stale", Issue: "stale", Severity: domain.SeverityLow, Action: "flush"},
		{Match: "billing.close", Issue: "ledger-drift", Severity: domain.SeverityHigh, Action: "recount"},
	})
	starter := &fakeStarter{}
	log := audit.NewMemoryLog(100)

	sum, err := New(triggers, starter, det, log, nil, zap.NewNop()).RunWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Scanned: 4, Detected: 3, Scheduled: 1, Escalated: 1, Skipped: 1}, sum)

	require.Len(t, starter.calls, 1)
	assert.Equal(t, "t-low", starter.calls[0].id)
	assert.Equal(t, "repair:t-low:stale", starter.calls[0].payload["idempotency_key"])
	repair := starter.calls[0].payload["repair"].(map[string]any)
	assert.Equal(t, "flush", repair["suggested_action"])

	required := log.ByAction(audit.ActionRepairRequired)
	require.Len(t, required, 1)
	assert.Equal(t, "t-high", required[0].TargetID)
	assert.Len(t, log.ByAction(audit.ActionReconcileDetect), 3)
	assert.Len(t, log.ByAction(audit.ActionRepairScheduled), 1)
}

func TestRunWindow_DisabledTriggerDetectedNotScheduled(t *testing.T) {
	triggers := staticTriggers{
		{ID: "t-off", Name: "inventory.low_stock", Enabled: false},
	}
	starter := &fakeStarter{}
	log := audit.NewMemoryLog(100)

	sum, err := New(triggers, starter, NewDetector(nil), log, nil, zap.NewNop()).RunWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Scanned: 1, Detected: 1, Skipped: 1}, sum)
	assert.Empty(t, starter.calls)

	detected := log.ByAction(audit.ActionReconcileDetect)
	require.Len(t, detected, 1)
	assert.Equal(t, "t-off", detected[0].TargetID)
	assert.Equal(t, audit.OutcomeDetected, detected[0].Outcome)
	assert.Equal(t, domain.ReasonTriggerDisabled+"t-off", detected[0].Reason)
	assert.Empty(t, log.ByAction(audit.ActionRepairScheduled))
	assert.Empty(t, log.ByAction(audit.ActionRepairSchedFailed))
}

func TestRunWindow_FailureDoesNotStopSweep(t *testing.T) {
	triggers := staticTriggers{
		{ID: "a", Name: "inventory.low_stock", Enabled: true},
		{ID: "b", Name: "inventory.low_stock", Enabled: true},
	}
	starter := &fakeStarter{fail: map[string]error{
		"a": domain.Reject(domain.KindForbidden, domain.ReasonGlobalKill, nil),
	}}
	log := audit.NewMemoryLog(100)

	sum, err := New(triggers, starter, nil, log, nil, zap.NewNop()).RunWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Scheduled)
	assert.Len(t, starter.calls, 2)

	failed := log.ByAction(audit.ActionRepairSchedFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].TargetID)
	assert.Equal(t, domain.ReasonGlobalKill, failed[0].Reason)
}

type errLister struct{}

func (errLister) List(context.Context) ([]domain.Trigger, error) { return nil, errors.New("db down") }

func TestRunWindow_ListError(t *testing.T) {
	_, err := New(errLister{}, &fakeStarter{}, nil, audit.NewMemoryLog(10), nil, zap.NewNop()).RunWindow(context.Background())
	assert.ErrorContains(t, err, "db down")
}

// Property: high никогда не запускается автоматически, low/medium: ровно один запуск.
func TestSeverityGateProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("starts follow severity", prop.ForAll(
		func(sev string, name string) bool {
			severity := domain.Severity(sev)
			starter := &fakeStarter{}
			det := NewDetector([]DetectionRule{{Match: "*", Issue: "i", Severity: severity, Action: "fix"}})
			triggers := staticTriggers{{ID: "t", Name: name, Enabled: true}}

			_, err := New(triggers, starter, det, audit.NewMemoryLog(10), nil, zap.NewNop()).RunWindow(context.Background())
			if err != nil {
				return false
			}
			if severity == domain.SeverityHigh {
				return len(starter.calls) == 0
			}
			return len(starter.calls) == 1 && starter.calls[0].payload["idempotency_key"] == "repair:t:i"
		},
		gen.OneConstOf("low", "medium", "high"),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Сквозной сценарий: low_stock детектится, ремонт идет через настоящий диспетчер.
func TestRunWindow_LowStockThroughDispatcher(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	log := audit.NewMemoryLog(200)

	reg := registry.New(memory.NewTriggerRepo(), log, logger)
	name, owner, typ := "inventory.low_stock", "warehouse", domain.TriggerEvent
	tr, err := reg.Create(ctx, domain.TriggerDraft{TriggerPatch: domain.TriggerPatch{Name: &name, Owner: &owner, Type: &typ}})
	require.NoError(t, err)

	pdp := policy.NewPDP(policy.StaticSource(nil), logger)
	echo := connectors.NewEchoBackend("echo", 0)
	d := engine.NewDispatcher(engine.Deps{
		Triggers:       reg,
		KillSwitch:     killswitch.NewManager(killswitch.NewMemoryStore(), log, logger),
		PDP:            pdp,
		Simulation:     simulation.NewService(simulation.NewFileStore(t.TempDir()), pdp, []byte("s"), log, logger),
		Tokens:         token.NewIssuer(token.Options{Local: token.NewLocalSigner([]byte("k"))}, logger),
		Backends:       connectors.NewSet(echo),
		Auditor:        log,
		Logger:         logger,
		DefaultBackend: "echo",
	})

	rec := New(reg, d, nil, log, nil, logger)
	for i := 0; i < 2; i++ {
		sum, err := rec.RunWindow(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Scheduled)
	}

	calls := echo.Calls()
	require.Len(t, calls, 2)
	key := "repair:" + tr.ID + ":stock-below-threshold"
	assert.Equal(t, key, calls[0].Opts.IdempotencyKey)
	assert.Equal(t, key, calls[1].Opts.IdempotencyKey)

	starts := log.ByAction(audit.ActionTriggerStart)
	require.Len(t, starts, 2)
	assert.Equal(t, Actor, starts[0].Actor)
	assert.Equal(t, audit.OutcomeOK, starts[0].Outcome)
}
