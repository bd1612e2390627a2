package audit

/*
Journal: асинхронный журнал аудита control plane.

- Log не блокирует горячий путь диспетчера: событие кладется в буферизированный канал.
- Воркер копит события и пишет их в Sink пачками по таймеру или при достижении лимита.
- Stop закрывает вход, вычитывает остаток канала и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink определяет, куда физически сохраняется журнал.
type Sink interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

// Auditor: то, что нужно остальным компонентам: дописать запись.
type Auditor interface {
	Log(entry Entry)
}

type JournalOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// OnDepth вызывается после каждого Log с текущей заполненностью буфера (метрика backpressure).
	OnDepth func(n int)
}

type Journal struct {
	ch     chan Entry
	sink   Sink
	logger *zap.Logger
	opts   JournalOptions
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewJournal(sink Sink, logger *zap.Logger, opts JournalOptions) *Journal {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:     make(chan Entry, opts.BufferSize),
		sink:   sink,
		logger: logger.With(zap.String("mod", "audit")),
		opts:   opts,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.logger.Info("stopping audit journal: flushing buffer")
	j.wg.Wait()
	j.logger.Info("audit journal stopped")
}

func (j *Journal) Log(entry Entry) {
	entry = stamp(entry)

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("audit entry dropped: journal is stopping",
			zap.String("action", entry.Action), zap.String("id", entry.ID))
		return
	}

	// Load shedding: при переполнении не блокируемся, а пишем запись в лог процесса.
	select {
	case j.ch <- entry:
	default:
		j.logger.Error("audit_buffer_overflow",
			zap.String("action", entry.Action),
			zap.String("target_id", entry.TargetID),
			zap.String("outcome", entry.Outcome),
			zap.String("reason", entry.Reason),
		)
	}
	if j.opts.OnDepth != nil {
		j.opts.OnDepth(len(j.ch))
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Entry, 0, j.opts.BatchSize)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту уже закрыт
		if err := j.sink.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("audit flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = make([]Entry, 0, j.opts.BatchSize)
	}

	for {
		select {
		case entry, ok := <-j.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= j.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func stamp(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}
