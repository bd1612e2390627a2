package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// FileSink дописывает записи в JSONL-файл (O_APPEND, без перезаписи).
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) WriteBatch(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", s.path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("audit: encode entry %s: %w", e.ID, err)
		}
	}
	return f.Sync()
}

// LogSink пишет журнал в zap: для dev-режима без БД.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) WriteBatch(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		s.logger.Info(e.Action,
			zap.String("id", e.ID),
			zap.Time("ts", e.Time),
			zap.String("actor", e.Actor),
			zap.String("target_id", e.TargetID),
			zap.String("outcome", e.Outcome),
			zap.String("reason", e.Reason),
			zap.Any("metadata", e.Metadata),
		)
	}
	return nil
}
