package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/clock"
	"github.com/viperdam/body-mode-sub006/storage"
)

const dep = "plan_generation"

var errBoom = errors.New("provider down")

func newTestBreaker(clk *clock.Fake, opts ...Option) *Breaker {
	return New(Config{FailureThreshold: 3, Cooldown: time.Minute}, append([]Option{WithClock(clk)}, opts...)...)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx, dep)
		ok, _ := b.Allow(ctx, dep)
		assert.True(t, ok, "still closed after %d failures", i+1)
	}

	b.RecordFailure(ctx, dep)
	ok, remaining := b.Allow(ctx, dep)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, remaining)

	_, status := b.State(ctx, dep)
	assert.Equal(t, StatusOpen, status)
}

func TestBreakerRejectsWithoutCallingWhileOpen(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	calls := 0
	fail := func(context.Context) error { calls++; return errBoom }
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(ctx, dep, fail, nil), errBoom)
	}
	require.Equal(t, 3, calls)

	clk.Advance(30 * time.Second)
	err := b.Do(ctx, dep, fail, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "30s")
	assert.Equal(t, 3, calls, "no invocation while open")
}

func TestBreakerClosesAfterProbeSuccess(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	var transitions []string
	b := newTestBreaker(clk, OnTransition(func(_ string, from, to Status) {
		transitions = append(transitions, string(from)+"->"+string(to))
	}))

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, dep)
	}
	clk.Advance(time.Minute)

	_, status := b.State(ctx, dep)
	assert.Equal(t, StatusHalfOpen, status)

	ok, _ := b.Allow(ctx, dep)
	require.True(t, ok, "probe allowed after cooldown")
	ok, _ = b.Allow(ctx, dep)
	assert.False(t, ok, "only one probe at a time")

	b.RecordSuccess(ctx, dep)
	st, status := b.State(ctx, dep)
	assert.Equal(t, StatusClosed, status)
	assert.Zero(t, st.FailureCount)
	ok, _ = b.Allow(ctx, dep)
	assert.True(t, ok)

	assert.Equal(t, []string{"closed->open", "half_open->closed"}, transitions)
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, dep)
	}
	clk.Advance(61 * time.Second)
	ok, _ := b.Allow(ctx, dep)
	require.True(t, ok)

	b.RecordFailure(ctx, dep)
	ok, remaining := b.Allow(ctx, dep)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, remaining)
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)
	rateLimited := errors.New("429")

	for i := 0; i < 5; i++ {
		_ = b.Do(ctx, dep, func(context.Context) error { return rateLimited },
			func(err error) bool { return !errors.Is(err, rateLimited) })
	}
	st, status := b.State(ctx, dep)
	assert.Equal(t, StatusClosed, status)
	assert.Zero(t, st.FailureCount)
}

func TestBreakerPersistence(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	store := KeyedStore{Store: storage.NewMemoryStore()}

	first := newTestBreaker(clk, WithStore(store))
	for i := 0; i < 3; i++ {
		first.RecordFailure(ctx, dep)
	}

	// a restarted process sees the open circuit
	second := newTestBreaker(clk, WithStore(store))
	ok, _ := second.Allow(ctx, dep)
	assert.False(t, ok)

	second.Reset(ctx, dep)
	third := newTestBreaker(clk, WithStore(store))
	ok, _ = third.Allow(ctx, dep)
	assert.True(t, ok)
}
