// Package registry: реестр определений триггеров: валидация, дефолты, soft delete и аудит изменений.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"go.uber.org/zap"
)

type Registry struct {
	store   Store
	auditor audit.Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func New(store Store, auditor audit.Auditor, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		auditor: auditor,
		logger:  logger.Named("registry"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List возвращает неудаленные триггеры, новые первыми.
func (r *Registry) List(ctx context.Context) ([]domain.Trigger, error) {
	list, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	if list == nil {
		list = []domain.Trigger{}
	}
	return list, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Trigger, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("registry: get %s: %w", id, err)
	}
	return t, nil
}

// Create валидирует черновик, заполняет дефолты и сохраняет триггер.
func (r *Registry) Create(ctx context.Context, draft domain.TriggerDraft) (*domain.Trigger, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	now := r.now()
	t := domain.Trigger{
		ID:              draft.ID,
		MaxRetries:      domain.DefaultMaxRetries,
		BackoffStrategy: domain.DefaultBackoffStrategy,
		RateLimit:       domain.RateLimit{QPS: domain.DefaultRateQPS, Burst: domain.DefaultRateBurst},
		SafetyLevel:     domain.SafetyLow,
		Enabled:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	t = draft.TriggerPatch.Apply(t)
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.SafetyLevel == "" {
		t.SafetyLevel = domain.SafetyLow
	}
	if t.BackoffStrategy == "" {
		t.BackoffStrategy = domain.DefaultBackoffStrategy
	}

	if err := r.store.Insert(ctx, &t); err != nil {
		return nil, fmt.Errorf("registry: create %s: %w", t.ID, err)
	}

	r.auditor.Log(audit.Entry{
		Action:   audit.ActionTriggerCreate,
		Actor:    audit.ActorFrom(ctx),
		TargetID: t.ID,
		Outcome:  audit.OutcomeOK,
		Metadata: map[string]any{"name": t.Name, "type": string(t.Type), "safety_level": string(t.SafetyLevel)},
	})
	r.logger.Info("trigger registered", zap.String("id", t.ID), zap.String("name", t.Name))
	return &t, nil
}

// Update сливает патч; отсутствующий или удаленный id: ErrTriggerNotFound.
func (r *Registry) Update(ctx context.Context, id string, patch domain.TriggerPatch) (*domain.Trigger, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(*current)
	if updated.SafetyLevel == "" {
		updated.SafetyLevel = domain.SafetyLow
	}
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = r.now()

	if err := r.store.Update(ctx, &updated); err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("registry: update %s: %w", id, err)
	}

	r.auditor.Log(audit.Entry{
		Action:   audit.ActionTriggerUpdate,
		Actor:    audit.ActorFrom(ctx),
		TargetID: id,
		Outcome:  audit.OutcomeOK,
	})
	return &updated, nil
}

// SoftDelete помечает триггер удаленным; физически строка остается для аудита.
func (r *Registry) SoftDelete(ctx context.Context, id string) error {
	if err := r.store.SoftDelete(ctx, id, r.now()); err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			return err
		}
		return fmt.Errorf("registry: delete %s: %w", id, err)
	}

	r.auditor.Log(audit.Entry{
		Action:   audit.ActionTriggerDelete,
		Actor:    audit.ActorFrom(ctx),
		TargetID: id,
		Outcome:  audit.OutcomeOK,
	})
	r.logger.Info("trigger soft-deleted", zap.String("id", id))
	return nil
}
