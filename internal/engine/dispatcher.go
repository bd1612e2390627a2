package engine

/*
Dispatcher: центральная последовательность запуска триггера.
Шаги строго по порядку, первый отказ обрывает цепочку, побочных эффектов после него нет:
  загрузка -> enabled -> глобальный kill -> kill триггера -> PDP -> гейт симуляции ->
  токен -> ключ идемпотентности -> выбор бэкенда и отправка -> аудит.
Каждый отказ возвращается как *domain.Rejection и пишется в аудит с той же причиной.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/connectors"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/simulation"
	"github.com/xela07ax/spaceai-control-plane/internal/token"
)

const tracerName = "github.com/xela07ax/spaceai-control-plane/internal/engine"

type TriggerReader interface {
	Get(ctx context.Context, id string) (*domain.Trigger, error)
}

type KillSwitch interface {
	IsGloballyKilled(ctx context.Context) (bool, error)
	IsTriggerKilled(ctx context.Context, id string) (bool, error)
}

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, trigger *domain.Trigger, payload map[string]any) (domain.Decision, error)
}

type SimulationGate interface {
	Check(ctx context.Context, live *domain.Trigger) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, req token.Request) (*token.Token, error)
}

type BackendResolver interface {
	Get(name string) (connectors.Backend, error)
}

type Deps struct {
	Triggers   TriggerReader
	KillSwitch KillSwitch
	PDP        PolicyEvaluator
	Simulation SimulationGate
	Tokens     TokenIssuer
	Backends   BackendResolver
	Auditor    audit.Auditor
	Metrics    *Metrics
	Logger     *zap.Logger

	DefaultBackend string
}

// Result: успешный запуск.
type Result struct {
	Backend        string             `json:"backend"`
	IdempotencyKey string             `json:"idempotency_key"`
	TokenKind      token.Kind         `json:"token_kind"`
	Handle         *connectors.Handle `json:"result"`
}

type Dispatcher struct {
	triggers       TriggerReader
	kill           KillSwitch
	pdp            PolicyEvaluator
	sim            SimulationGate
	tokens         TokenIssuer
	backends       BackendResolver
	auditor        audit.Auditor
	metrics        *Metrics
	tracer         trace.Tracer
	logger         *zap.Logger
	defaultBackend string
}

func NewDispatcher(d Deps) *Dispatcher {
	metrics := d.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		triggers:       d.Triggers,
		kill:           d.KillSwitch,
		pdp:            d.PDP,
		sim:            d.Simulation,
		tokens:         d.Tokens,
		backends:       d.Backends,
		auditor:        d.Auditor,
		metrics:        metrics,
		tracer:         otel.Tracer(tracerName),
		logger:         d.Logger.Named("dispatcher"),
		defaultBackend: d.DefaultBackend,
	}
}

// StartTrigger проводит запуск через все гейты и отправляет его в бэкенд.
func (d *Dispatcher) StartTrigger(ctx context.Context, id string, payload map[string]any) (*Result, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatcher.StartTrigger",
		trace.WithAttributes(attribute.String("trigger.id", id)))
	defer span.End()

	if payload == nil {
		payload = map[string]any{}
	}

	// 1. Загрузка
	tr, err := d.triggers.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			return nil, d.reject(ctx, span, id, domain.Reject(domain.KindNotFound, domain.ReasonTriggerNotFound, err))
		}
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindInternal, domain.ReasonStoreError, err))
	}

	// 2. Глобальный kill-switch. Нечитаемое состояние: отказ, а не разрешение.
	killed, err := d.kill.IsGloballyKilled(ctx)
	if err != nil {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindUnavailable, domain.ReasonKillSwitchUnreadable, err))
	}
	if killed {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindForbidden, domain.ReasonGlobalKill, nil))
	}

	// 3. Kill-switch триггера
	killed, err = d.kill.IsTriggerKilled(ctx, id)
	if err != nil {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindUnavailable, domain.ReasonKillSwitchUnreadable, err))
	}
	if killed {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindForbidden, domain.ReasonTriggerKillPrefix+id, nil))
	}
	// Выключенный триггер: после обоих kill-switch, до PDP.
	if !tr.Enabled {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindForbidden, domain.ReasonTriggerDisabled+id, nil))
	}

	// 4. PDP
	decision, err := d.pdp.Evaluate(ctx, tr, payload)
	if err != nil {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindUnavailable,
			domain.ReasonPolicyDeniedPrefix+domain.ReasonRulesUnavailable, err))
	}
	if !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = decision.Rule
		}
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindForbidden, domain.ReasonPolicyDeniedPrefix+reason, nil))
	}

	// 5. Гейт симуляции
	if decision.RequireSimulation || tr.SafetyLevel == domain.SafetyHigh || tr.SimulationRequired {
		if rej := d.checkSimulation(ctx, tr); rej != nil {
			return nil, d.reject(ctx, span, id, rej)
		}
	}

	// 6. Токен исполнения
	tok, err := d.tokens.Issue(ctx, token.Request{
		Subject: "workflow:" + tr.ID,
		Scope:   tr.ExecutionScopes(),
		Metadata: map[string]any{
			"trigger_id":   tr.ID,
			"trigger_name": tr.Name,
			"data_scope":   tr.DataScope,
		},
	})
	if err != nil {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindInternal, domain.ReasonTokenIssuance, err))
	}

	// 7. Ключ идемпотентности
	key := idempotencyKey(payload, tr.ID)

	// 8. Бэкенд
	backendName := tr.Source.Orchestrator
	if backendName == "" {
		backendName = d.defaultBackend
	}
	span.SetAttributes(attribute.String("backend", backendName), attribute.String("idempotency.key", key))

	backend, err := d.backends.Get(backendName)
	if err != nil {
		return nil, d.reject(ctx, span, id, domain.Reject(domain.KindUnavailable, domain.ReasonBackendUnavailable+backendName, err))
	}

	handle, err := backend.Submit(ctx, tr.WorkflowName(), payload, connectors.SubmitOptions{
		Token:          tok.Value,
		IdempotencyKey: key,
		TriggerID:      tr.ID,
		RateLimit:      tr.RateLimit,
	})

	// 9. Аудит результата
	meta := map[string]any{
		"backend":         backendName,
		"workflow":        tr.WorkflowName(),
		"idempotency_key": key,
		"token_kind":      string(tok.Kind),
		"rule":            decision.Rule,
		"duration_ms":     time.Since(start).Milliseconds(),
	}
	if err != nil {
		reason := domain.ReasonBackendErrorPrefix + backendName
		meta["error"] = err.Error()
		d.auditor.Log(audit.Entry{
			TraceID:  TraceIDFrom(ctx),
			Action:   audit.ActionTriggerStart,
			Actor:    audit.ActorFrom(ctx),
			TargetID: id,
			Outcome:  audit.OutcomeFailed,
			Reason:   reason,
			Metadata: meta,
		})
		d.metrics.StartsTotal.WithLabelValues(audit.OutcomeFailed).Inc()
		d.metrics.RejectionsTotal.WithLabelValues(reasonClass(reason)).Inc()
		d.metrics.DispatchDuration.WithLabelValues(backendName, audit.OutcomeFailed).Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		d.logger.Error("backend dispatch failed",
			zap.String("trigger", id), zap.String("backend", backendName), zap.Error(err))
		return nil, domain.Reject(domain.KindUnavailable, reason, err)
	}

	if handle != nil {
		meta["run_id"] = handle.RunID
		meta["status"] = handle.Status
	}
	d.auditor.Log(audit.Entry{
		TraceID:  TraceIDFrom(ctx),
		Action:   audit.ActionTriggerStart,
		Actor:    audit.ActorFrom(ctx),
		TargetID: id,
		Outcome:  audit.OutcomeOK,
		Metadata: meta,
	})
	d.metrics.StartsTotal.WithLabelValues(audit.OutcomeOK).Inc()
	d.metrics.DispatchDuration.WithLabelValues(backendName, audit.OutcomeOK).Observe(time.Since(start).Seconds())
	d.logger.Info("trigger started",
		zap.String("trigger", id), zap.String("backend", backendName), zap.String("idempotency_key", key))

	return &Result{Backend: backendName, IdempotencyKey: key, TokenKind: tok.Kind, Handle: handle}, nil
}

func (d *Dispatcher) checkSimulation(ctx context.Context, tr *domain.Trigger) *domain.Rejection {
	if d.sim == nil {
		return domain.Reject(domain.KindForbidden, domain.ReasonSimulationMissing, errors.New("simulation gate not configured"))
	}
	err := d.sim.Check(ctx, tr)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, simulation.ErrTriggerMismatch):
		return domain.Reject(domain.KindForbidden, domain.ReasonSimulationMismatch, err)
	case errors.Is(err, simulation.ErrPolicyFailed):
		return domain.Reject(domain.KindForbidden, domain.ReasonSimulationPolicy, err)
	default:
		return domain.Reject(domain.KindForbidden, domain.ReasonSimulationMissing, err)
	}
}

// reject пишет отказ в аудит, метрики и спан и возвращает его вызывающему.
func (d *Dispatcher) reject(ctx context.Context, span trace.Span, id string, rej *domain.Rejection) error {
	entry := audit.Entry{
		TraceID:  TraceIDFrom(ctx),
		Action:   audit.ActionTriggerStart,
		Actor:    audit.ActorFrom(ctx),
		TargetID: id,
		Outcome:  audit.OutcomeRejected,
		Reason:   rej.Reason,
	}
	if rej.Cause != nil {
		entry.Metadata = map[string]any{"error": rej.Cause.Error()}
	}
	d.auditor.Log(entry)

	d.metrics.StartsTotal.WithLabelValues(audit.OutcomeRejected).Inc()
	d.metrics.RejectionsTotal.WithLabelValues(reasonClass(rej.Reason)).Inc()
	span.SetStatus(codes.Error, rej.Reason)

	fields := []zap.Field{zap.String("trigger", id), zap.String("reason", rej.Reason)}
	if rej.Cause != nil {
		fields = append(fields, zap.Error(rej.Cause))
	}
	if rej.Kind == domain.KindForbidden || rej.Kind == domain.KindNotFound {
		d.logger.Info("trigger start rejected", fields...)
	} else {
		d.logger.Error("trigger start failed", fields...)
	}
	return rej
}

// idempotencyKey: payload.idempotency_key, иначе id триггера (стабилен между повторами).
func idempotencyKey(payload map[string]any, triggerID string) string {
	switch v := payload["idempotency_key"].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64, int, int64:
		return fmt.Sprint(v)
	}
	return triggerID
}
