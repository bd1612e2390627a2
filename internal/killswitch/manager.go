// Package killswitch: глобальный и потриггерный аварийный выключатель.
package killswitch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// Manager сериализует все изменения через один мьютекс: конкурентные переключения
// разных триггеров не теряют друг друга. Чтения идут напрямую в хранилище.
type Manager struct {
	mu      sync.Mutex
	store   Store
	auditor audit.Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(store Store, auditor audit.Auditor, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		auditor: auditor,
		logger:  logger.Named("killswitch"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) IsGloballyKilled(ctx context.Context) (bool, error) {
	state, err := m.store.Load(ctx)
	if err != nil {
		return false, err
	}
	return state.Global, nil
}

func (m *Manager) IsTriggerKilled(ctx context.Context, id string) (bool, error) {
	state, err := m.store.Load(ctx)
	if err != nil {
		return false, err
	}
	return state.TriggerKilled(id), nil
}

func (m *Manager) Status(ctx context.Context) (domain.KillSwitchState, error) {
	return m.store.Load(ctx)
}

// SetGlobalKill включает или снимает глобальную блокировку. Запись аудита пишется при любом исходе.
func (m *Manager) SetGlobalKill(ctx context.Context, on bool, actor domain.Actor) (domain.KillSwitchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now()
	state, err := m.store.Mutate(ctx, func(s *domain.KillSwitchState) {
		s.Global = on
		s.GlobalReason = actor.Reason
		s.GlobalBy = actor.By
		s.GlobalAt = at
	})

	m.record(ctx, audit.ActionKillGlobal, GlobalTarget, on, actor, err)
	if err != nil {
		return domain.KillSwitchState{}, err
	}
	return state, nil
}

// SetTriggerKill переключает блокировку одного триггера. Снятие сохраняет запись с killed=false.
func (m *Manager) SetTriggerKill(ctx context.Context, id string, on bool, actor domain.Actor) (domain.KillSwitchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now()
	state, err := m.store.Mutate(ctx, func(s *domain.KillSwitchState) {
		if s.Triggers == nil {
			s.Triggers = map[string]domain.TriggerKill{}
		}
		s.Triggers[id] = domain.TriggerKill{Killed: on, Reason: actor.Reason, By: actor.By, At: at}
	})

	m.record(ctx, audit.ActionKillTrigger, id, on, actor, err)
	if err != nil {
		return domain.KillSwitchState{}, err
	}
	return state, nil
}

func (m *Manager) record(ctx context.Context, action, target string, on bool, actor domain.Actor, err error) {
	entry := audit.Entry{
		Action:   action,
		Actor:    actor.By,
		Outcome:  audit.OutcomeOK,
		Reason:   actor.Reason,
		Metadata: map[string]any{"on": on},
	}
	if target != GlobalTarget {
		entry.TargetID = target
	}

	if err != nil {
		entry.Outcome = audit.OutcomeError
		entry.Metadata["error"] = err.Error()
		m.logger.Error("kill-switch persist failed",
			zap.String("target", target), zap.Bool("on", on), zap.Error(err))
		m.auditor.Log(entry)
		return
	}
	m.auditor.Log(entry)

	m.logger.Warn("kill-switch changed",
		zap.String("target", target), zap.Bool("on", on),
		zap.String("by", actor.By), zap.String("reason", actor.Reason))

	if n, ok := m.store.(Notifier); ok {
		if nerr := n.Notify(ctx, target, on); nerr != nil {
			m.logger.Error("kill-switch signal not published", zap.Error(nerr))
		}
	}
}
