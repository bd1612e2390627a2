package connectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

func TestReliabilityWrapper_NoRetryAndBreakerOpens(t *testing.T) {
	echo := NewEchoBackend("echo", 0)
	echo.FailWith(errors.New("down"))

	var opened bool
	w := NewReliabilityWrapper(echo, BreakerSettings{MaxFailures: 2, Timeout: time.Minute}, time.Second,
		func(_ string, open bool) { opened = open })

	for i := 0; i < 2; i++ {
		_, err := w.Submit(context.Background(), "wf", nil, SubmitOptions{})
		require.Error(t, err)
	}
	assert.Len(t, echo.Calls(), 2, "each submit reaches the backend exactly once")
	assert.True(t, opened)

	_, err := w.Submit(context.Background(), "wf", nil, SubmitOptions{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, echo.Calls(), 2)
	assert.ErrorIs(t, w.Health(context.Background()), ErrCircuitOpen)
}

func TestReliabilityWrapper_RateLimitBoundedByContext(t *testing.T) {
	echo := NewEchoBackend("echo", 0)
	w := NewReliabilityWrapper(echo, BreakerSettings{}, time.Second, nil)
	opts := SubmitOptions{TriggerID: "t1", RateLimit: domain.RateLimit{QPS: 0.001, Burst: 1}}

	_, err := w.Submit(context.Background(), "wf", nil, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = w.Submit(ctx, "wf", nil, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Len(t, echo.Calls(), 1)

	// другой триггер со своим бакетом не блокируется
	_, err = w.Submit(context.Background(), "wf", nil, SubmitOptions{TriggerID: "t2", RateLimit: domain.RateLimit{QPS: 0.001, Burst: 1}})
	assert.NoError(t, err)
}

func TestReliabilityWrapper_TimeoutIsFailure(t *testing.T) {
	slow := NewEchoBackend("slow", time.Second)
	w := NewReliabilityWrapper(slow, BreakerSettings{}, 10*time.Millisecond, nil)

	_, err := w.Submit(context.Background(), "wf", nil, SubmitOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSet_Get(t *testing.T) {
	s := NewSet(NewEchoBackend("echo", 0))
	_, err := s.Get("echo")
	assert.NoError(t, err)
	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.Equal(t, []string{"echo"}, s.Names())
}

func TestEchoBackend_Lifecycle(t *testing.T) {
	echo := NewEchoBackend("echo", 0)
	w := NewReliabilityWrapper(echo, BreakerSettings{}, time.Second, nil)
	ctx := context.Background()

	h, err := w.Submit(ctx, "wf", nil, SubmitOptions{IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "wf", h.Workflow)

	require.NoError(t, w.Cancel(ctx, h))
	st, err := w.Status(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", st.Status)

	_, err = w.Status(ctx, &Handle{RunID: "nope"})
	assert.ErrorIs(t, err, ErrRunNotFound)
}
