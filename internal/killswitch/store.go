package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// Store хранит состояние целиком. Mutate: атомарный read-modify-write в пределах хранилища.
type Store interface {
	Load(ctx context.Context) (domain.KillSwitchState, error)
	Mutate(ctx context.Context, fn func(*domain.KillSwitchState)) (domain.KillSwitchState, error)
}

// Notifier: хранилища, которые умеют оповещать другие инстансы об изменении.
type Notifier interface {
	Notify(ctx context.Context, target string, on bool) error
}

func emptyState() domain.KillSwitchState {
	return domain.KillSwitchState{Triggers: map[string]domain.TriggerKill{}}
}

type MemoryStore struct {
	mu    sync.Mutex
	state domain.KillSwitchState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: emptyState()}
}

func (s *MemoryStore) Load(_ context.Context) (domain.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

func (s *MemoryStore) Mutate(_ context.Context, fn func(*domain.KillSwitchState)) (domain.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.Clone()
	fn(&next)
	s.state = next
	return next.Clone(), nil
}

// FileStore: JSON-файл. Отсутствующий файл означает пустое состояние.
// Запись через временный файл и rename, чтобы читатель не увидел половину блоба.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (domain.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Mutate(_ context.Context, fn func(*domain.KillSwitchState)) (domain.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return domain.KillSwitchState{}, err
	}
	fn(&state)
	if err := s.write(state); err != nil {
		return domain.KillSwitchState{}, err
	}
	return state.Clone(), nil
}

func (s *FileStore) read() (domain.KillSwitchState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyState(), nil
	}
	if err != nil {
		return domain.KillSwitchState{}, fmt.Errorf("killswitch: read %s: %w", s.path, err)
	}
	state := emptyState()
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.KillSwitchState{}, fmt.Errorf("killswitch: decode %s: %w", s.path, err)
	}
	if state.Triggers == nil {
		state.Triggers = map[string]domain.TriggerKill{}
	}
	return state, nil
}

func (s *FileStore) write(state domain.KillSwitchState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("killswitch: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("killswitch: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".killswitch-*.json")
	if err != nil {
		return fmt.Errorf("killswitch: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("killswitch: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("killswitch: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("killswitch: rename: %w", err)
	}
	return nil
}
