// Package connectors: клиенты оркестраторов, в которые диспетчер отправляет запуски.
package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// SubmitOptions уходят в бэкенд метаданными вызова.
type SubmitOptions struct {
	Token          string
	IdempotencyKey string
	TriggerID      string
	RateLimit      domain.RateLimit
}

// Handle: что бэкенд вернул на постановку запуска.
// По Handle же потом спрашивают статус и отменяют запуск.
type Handle struct {
	Backend  string         `json:"backend"`
	Workflow string         `json:"workflow,omitempty"`
	RunID    string         `json:"run_id"`
	Status   string         `json:"status"`
	Details  map[string]any `json:"details,omitempty"`
}

// Backend: непрозрачный движок исполнения: поставить, спросить статус, отменить, проверить здоровье.
type Backend interface {
	Name() string
	Submit(ctx context.Context, workflow string, args map[string]any, opts SubmitOptions) (*Handle, error)
	Status(ctx context.Context, h *Handle) (*Handle, error)
	Cancel(ctx context.Context, h *Handle) error
	Health(ctx context.Context) error
}

// Set: именованный набор бэкендов.
type Set struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewSet(backends ...Backend) *Set {
	s := &Set{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		s.backends[b.Name()] = b
	}
	return s
}

func (s *Set) Register(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends[b.Name()] = b
}

func (s *Set) Get(name string) (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.backends))
	for name := range s.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Health опрашивает все бэкенды; nil в значении: здоров.
func (s *Set) Health(ctx context.Context) map[string]error {
	s.mu.RLock()
	list := make([]Backend, 0, len(s.backends))
	for _, b := range s.backends {
		list = append(list, b)
	}
	s.mu.RUnlock()

	out := make(map[string]error, len(list))
	for _, b := range list {
		out[b.Name()] = b.Health(ctx)
	}
	return out
}
