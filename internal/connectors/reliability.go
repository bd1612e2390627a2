package connectors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures uint32
}

// ReliabilityWrapper: лимитер на триггер из его rateLimit, предохранитель на бэкенд
// и таймаут на вызов. Автоматических повторов нет: ретраи принадлежат бэкенду.
type ReliabilityWrapper struct {
	next    Backend
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewReliabilityWrapper(next Backend, s BreakerSettings, timeout time.Duration, onState func(backend string, open bool)) *ReliabilityWrapper {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if onState == nil {
		onState = func(string, bool) {}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout, // время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			onState(name, to == gobreaker.StateOpen)
		},
	})

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		timeout:  timeout,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (w *ReliabilityWrapper) Name() string { return w.next.Name() }

func (w *ReliabilityWrapper) Submit(ctx context.Context, workflow string, args map[string]any, opts SubmitOptions) (*Handle, error) {
	// 1. Rate Limiter: ждем не дольше, чем живет контекст вызова
	if l := w.limiter(opts.TriggerID, opts.RateLimit); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit exceeded for %s: %w", opts.TriggerID, err)
		}
	}

	// 2. Circuit Breaker + таймаут
	res, err := w.execute(ctx, func(callCtx context.Context) (interface{}, error) {
		return w.next.Submit(callCtx, workflow, args, opts)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Handle), nil
}

func (w *ReliabilityWrapper) Status(ctx context.Context, h *Handle) (*Handle, error) {
	res, err := w.execute(ctx, func(callCtx context.Context) (interface{}, error) {
		return w.next.Status(callCtx, h)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Handle), nil
}

func (w *ReliabilityWrapper) Cancel(ctx context.Context, h *Handle) error {
	_, err := w.execute(ctx, func(callCtx context.Context) (interface{}, error) {
		return nil, w.next.Cancel(callCtx, h)
	})
	return err
}

func (w *ReliabilityWrapper) execute(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	res, err := w.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if w.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %w", ErrCircuitOpen, w.next.Name(), err)
		}
		return nil, err
	}
	return res, nil
}

func (w *ReliabilityWrapper) Health(ctx context.Context) error {
	if w.cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, w.next.Name())
	}
	return w.next.Health(ctx)
}

// limiter возвращает лимитер триггера и подстраивает его, если rateLimit поменяли.
// qps <= 0: без ограничения.
func (w *ReliabilityWrapper) limiter(triggerID string, rl domain.RateLimit) *rate.Limiter {
	if triggerID == "" || rl.QPS <= 0 {
		return nil
	}
	burst := rl.Burst
	if burst <= 0 {
		burst = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[triggerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.QPS), burst)
		w.limiters[triggerID] = l
		return l
	}
	if l.Limit() != rate.Limit(rl.QPS) {
		l.SetLimit(rate.Limit(rl.QPS))
	}
	if l.Burst() != burst {
		l.SetBurst(burst)
	}
	return l
}
