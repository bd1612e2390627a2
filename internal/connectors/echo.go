package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Submission: запись о вызове echo-бэкенда.
type Submission struct {
	Workflow string
	Args     map[string]any
	Opts     SubmitOptions
}

// EchoBackend ничего не исполняет: запоминает вызов и отвечает принятым запуском.
// Для dev-режима и тестов.
type EchoBackend struct {
	name    string
	latency time.Duration

	mu    sync.Mutex
	calls []Submission
	runs  map[string]string // run id -> статус
	fail  error
}

func NewEchoBackend(name string, latency time.Duration) *EchoBackend {
	return &EchoBackend{name: name, latency: latency, runs: make(map[string]string)}
}

func (e *EchoBackend) Name() string { return e.name }

// FailWith заставляет следующие вызовы возвращать ошибку; nil снимает.
func (e *EchoBackend) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

func (e *EchoBackend) Submit(ctx context.Context, workflow string, args map[string]any, opts SubmitOptions) (*Handle, error) {
	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Submission{Workflow: workflow, Args: args, Opts: opts})
	if e.fail != nil {
		return nil, fmt.Errorf("%s: %w", e.name, e.fail)
	}
	runID := uuid.New().String()
	e.runs[runID] = "accepted"
	return &Handle{
		Backend:  e.name,
		Workflow: workflow,
		RunID:    runID,
		Status:   "accepted",
		Details:  map[string]any{"idempotency_key": opts.IdempotencyKey},
	}, nil
}

func (e *EchoBackend) Status(_ context.Context, h *Handle) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.runs[h.RunID]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", e.name, ErrRunNotFound, h.RunID)
	}
	out := *h
	out.Status = st
	return &out, nil
}

func (e *EchoBackend) Cancel(_ context.Context, h *Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[h.RunID]; !ok {
		return fmt.Errorf("%s: %w: %s", e.name, ErrRunNotFound, h.RunID)
	}
	e.runs[h.RunID] = "cancelled"
	return nil
}

func (e *EchoBackend) Health(_ context.Context) error { return nil }

func (e *EchoBackend) Calls() []Submission {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Submission, len(e.calls))
	copy(out, e.calls)
	return out
}
