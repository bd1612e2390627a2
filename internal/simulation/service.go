package simulation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// Evaluator: PDP с точки зрения симуляции.
type Evaluator interface {
	Evaluate(ctx context.Context, trigger *domain.Trigger, payload map[string]any) (domain.Decision, error)
}

type Service struct {
	store   ReportStore
	pdp     Evaluator
	secret  []byte
	auditor audit.Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store ReportStore, pdp Evaluator, secret []byte, auditor audit.Auditor, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		pdp:     pdp,
		secret:  secret,
		auditor: auditor,
		logger:  logger.Named("simulation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DryRun оценивает политику без запуска и сохраняет подписанный отчет.
// Отчет пишется и при отказе политики: потребитель увидит policy-failed.
func (s *Service) DryRun(ctx context.Context, trigger *domain.Trigger, payload map[string]any) (*Report, error) {
	decision, err := s.pdp.Evaluate(ctx, trigger, payload)
	if err != nil {
		return nil, fmt.Errorf("simulation: evaluate: %w", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	report := Report{
		Trigger:    *trigger,
		Payload:    payload,
		Evaluation: decision,
		CreatedAt:  s.now(),
	}

	doc, err := seal(report, s.secret)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, trigger.ID, doc); err != nil {
		return nil, err
	}

	s.auditor.Log(audit.Entry{
		Action:   audit.ActionSimulationWrite,
		Actor:    audit.ActorFrom(ctx),
		TargetID: trigger.ID,
		Outcome:  audit.OutcomeOK,
		Metadata: map[string]any{"allowed": decision.Allowed, "rule": decision.Rule},
	})
	s.logger.Info("simulation report written",
		zap.String("trigger", trigger.ID), zap.Bool("allowed", decision.Allowed))
	return &report, nil
}

// Check: гейт перед запуском: отчет есть, подпись верна, имя совпадает, политика разрешила.
func (s *Service) Check(ctx context.Context, live *domain.Trigger) error {
	data, err := s.store.Load(ctx, live.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReportInvalid, err)
	}
	report, err := open(data, s.secret)
	if err != nil {
		return err
	}
	if report.Trigger.Name != live.Name {
		return ErrTriggerMismatch
	}
	if !report.Evaluation.Allowed {
		return ErrPolicyFailed
	}
	return nil
}

// Load возвращает проверенный отчет (для CLI и API).
func (s *Service) Load(ctx context.Context, triggerID string) (*Report, error) {
	data, err := s.store.Load(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	return open(data, s.secret)
}
