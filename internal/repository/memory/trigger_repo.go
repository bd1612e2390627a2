// Package memory: хранилища в памяти для dev-режима и тестов.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/registry"
)

var _ registry.Store = (*TriggerRepo)(nil)

type TriggerRepo struct {
	mu   sync.RWMutex
	rows map[string]domain.Trigger
}

func NewTriggerRepo() *TriggerRepo {
	return &TriggerRepo{rows: make(map[string]domain.Trigger)}
}

func (r *TriggerRepo) ListActive(_ context.Context) ([]domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Trigger, 0, len(r.rows))
	for _, t := range r.rows {
		if t.IsDeleted() {
			continue
		}
		out = append(out, clone(t))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *TriggerRepo) Get(_ context.Context, id string) (*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.rows[id]
	if !ok || t.IsDeleted() {
		return nil, domain.ErrTriggerNotFound
	}
	c := clone(t)
	return &c, nil
}

func (r *TriggerRepo) Insert(_ context.Context, t *domain.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[t.ID]; ok {
		return domain.ErrTriggerExists
	}
	r.rows[t.ID] = clone(*t)
	return nil
}

func (r *TriggerRepo) Update(_ context.Context, t *domain.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[t.ID]
	if !ok || cur.IsDeleted() {
		return domain.ErrTriggerNotFound
	}
	r.rows[t.ID] = clone(*t)
	return nil
}

func (r *TriggerRepo) SoftDelete(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[id]
	if !ok || cur.IsDeleted() {
		return domain.ErrTriggerNotFound
	}
	cur.DeletedAt = &at
	r.rows[id] = cur
	return nil
}

func clone(t domain.Trigger) domain.Trigger {
	if t.Source.Scopes != nil {
		t.Source.Scopes = append([]string(nil), t.Source.Scopes...)
	}
	if t.DeletedAt != nil {
		at := *t.DeletedAt
		t.DeletedAt = &at
	}
	return t
}
