package simulation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var ErrReportNotFound = errors.New("simulation report not found")

// ReportStore хранит подписанные документы по id триггера.
type ReportStore interface {
	Save(ctx context.Context, triggerID string, doc []byte) error
	Load(ctx context.Context, triggerID string) ([]byte, error)
}

// FileStore: один файл <dir>/<triggerID>.json на триггер.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

func (s *FileStore) path(triggerID string) (string, error) {
	if !safeID.MatchString(triggerID) || triggerID == "." || triggerID == ".." {
		return "", fmt.Errorf("simulation: unsafe trigger id %q", triggerID)
	}
	return filepath.Join(s.dir, triggerID+".json"), nil
}

func (s *FileStore) Save(_ context.Context, triggerID string, doc []byte) error {
	p, err := s.path(triggerID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("simulation: mkdir %s: %w", s.dir, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o600); err != nil {
		return fmt.Errorf("simulation: write: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("simulation: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, triggerID string) ([]byte, error) {
	p, err := s.path(triggerID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("simulation: read %s: %w", p, err)
	}
	return data, nil
}
