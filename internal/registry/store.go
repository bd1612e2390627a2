package registry

import (
	"context"
	"time"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// Store: контракт хранилища триггеров.
// Единственный метод выборки: ListActive: фильтр deleted_at нельзя забыть.
type Store interface {
	// ListActive возвращает неудаленные триггеры, новые первыми.
	ListActive(ctx context.Context) ([]domain.Trigger, error)
	// Get возвращает domain.ErrTriggerNotFound для отсутствующих и удаленных.
	Get(ctx context.Context, id string) (*domain.Trigger, error)
	// Insert возвращает domain.ErrTriggerExists при дубликате id.
	Insert(ctx context.Context, t *domain.Trigger) error
	// Update перезаписывает неудаленную запись.
	Update(ctx context.Context, t *domain.Trigger) error
	// SoftDelete проставляет deleted_at.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
