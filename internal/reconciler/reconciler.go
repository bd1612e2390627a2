// Package reconciler: периодическая сверка: находит проблемные триггеры и
// либо ставит ремонтный запуск через диспетчер, либо поднимает задачу человеку.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/engine"
)

// Actor: от чьего имени сверка пишет аудит и запускает ремонт.
const Actor = "reconciler"

type TriggerLister interface {
	List(ctx context.Context) ([]domain.Trigger, error)
}

type Starter interface {
	StartTrigger(ctx context.Context, id string, payload map[string]any) (*engine.Result, error)
}

// Summary: итог одного окна сверки.
type Summary struct {
	Scanned   int `json:"scanned"`
	Detected  int `json:"detected"`
	Scheduled int `json:"scheduled"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
}

type Reconciler struct {
	triggers TriggerLister
	starter  Starter
	detector *Detector
	auditor  audit.Auditor
	metrics  *engine.Metrics
	logger   *zap.Logger
}

func New(triggers TriggerLister, starter Starter, detector *Detector, auditor audit.Auditor, metrics *engine.Metrics, logger *zap.Logger) *Reconciler {
	if detector == nil {
		detector = NewDetector(nil)
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &Reconciler{
		triggers: triggers,
		starter:  starter,
		detector: detector,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger.Named("reconciler"),
	}
}

// RepairKey: ключ идемпотентности ремонта: повторные окна не плодят запуски.
func RepairKey(t domain.RepairTask) string {
	return "repair:" + t.TriggerID + ":" + t.Issue
}

// RunWindow проходит по активным триггерам один раз.
// Ошибка постановки одного ремонта не прерывает окно.
func (r *Reconciler) RunWindow(ctx context.Context) (Summary, error) {
	ctx = audit.WithActor(ctx, Actor)

	list, err := r.triggers.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconciler: list triggers: %w", err)
	}

	var sum Summary
	for i := range list {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		t := &list[i]
		if t.IsDeleted() {
			continue
		}
		sum.Scanned++

		task := r.detector.Detect(t)
		if task == nil {
			continue
		}
		sum.Detected++
		r.metrics.RepairTasks.WithLabelValues(string(task.Severity), task.SuggestedAction).Inc()

		// Дрейф выключенного триггера виден в аудите, но ремонт не планируется.
		if !t.Enabled {
			sum.Skipped++
			r.log(audit.ActionReconcileDetect, audit.OutcomeDetected, domain.ReasonTriggerDisabled+t.ID, *task)
			continue
		}
		r.log(audit.ActionReconcileDetect, audit.OutcomeDetected, "", *task)

		if task.Severity == domain.SeverityHigh {
			// Высокая серьезность: только человек, автоматического запуска нет.
			sum.Escalated++
			r.log(audit.ActionRepairRequired, audit.OutcomeOK, "", *task)
			r.logger.Warn("repair requires operator",
				zap.String("trigger", t.ID), zap.String("issue", task.Issue))
			continue
		}

		payload := map[string]any{
			"repair":          task.Payload(),
			"idempotency_key": RepairKey(*task),
		}
		if _, err := r.starter.StartTrigger(ctx, t.ID, payload); err != nil {
			sum.Failed++
			r.log(audit.ActionRepairSchedFailed, audit.OutcomeFailed, domain.ReasonOf(err), *task)
			r.logger.Warn("repair schedule failed",
				zap.String("trigger", t.ID), zap.String("issue", task.Issue), zap.Error(err))
			continue
		}
		sum.Scheduled++
		r.log(audit.ActionRepairScheduled, audit.OutcomeOK, "", *task)
	}

	r.logger.Info("reconcile window done",
		zap.Int("scanned", sum.Scanned),
		zap.Int("detected", sum.Detected),
		zap.Int("scheduled", sum.Scheduled),
		zap.Int("failed", sum.Failed),
		zap.Int("escalated", sum.Escalated),
		zap.Int("skipped", sum.Skipped))
	return sum, nil
}

// Run запускает окно сразу и затем каждые interval, пока жив контекст.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunWindow(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconcile window failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) log(action, outcome, reason string, task domain.RepairTask) {
	meta := task.Payload()
	meta["idempotency_key"] = RepairKey(task)
	r.auditor.Log(audit.Entry{
		Action:   action,
		Actor:    Actor,
		TargetID: task.TriggerID,
		Outcome:  outcome,
		Reason:   reason,
		Metadata: meta,
	})
}
