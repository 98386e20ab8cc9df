package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/network"
	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/plan"
)

type fakeGenerator struct {
	mu       sync.Mutex
	triggers []plan.Trigger
	sweeps   int
}

func (f *fakeGenerator) GenerateTodayPlan(_ context.Context, trigger plan.Trigger) orchestrator.GenerationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return orchestrator.GenerationResult{Status: orchestrator.StatusSuccess, Trigger: trigger}
}

func (f *fakeGenerator) MarkPastDueMissed(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 2, nil
}

func (f *fakeGenerator) seen() []plan.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]plan.Trigger(nil), f.triggers...)
}

type fakeResumer struct {
	ran   bool
	calls int
}

func (f *fakeResumer) Resume(context.Context) (bool, error) {
	f.calls++
	return f.ran, nil
}

func TestMidnightSpec(t *testing.T) {
	tests := []struct {
		offset time.Duration
		want   string
	}{
		{0, "0 0 * * *"},
		{4 * time.Hour, "0 4 * * *"},
		{90 * time.Minute, "30 1 * * *"},
		{-time.Hour, "0 23 * * *"},
		{25 * time.Hour, "0 1 * * *"},
	}
	for _, tt := range tests {
		t.Run(tt.offset.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, MidnightSpec(tt.offset))
		})
	}
}

func TestNewDerivesMidnightSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DayStartOffset = 3 * time.Hour
	s, err := New(cfg, &fakeGenerator{})
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", s.cfg.MidnightSpec)

	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestStartFiresBoot(t *testing.T) {
	gen := &fakeGenerator{}
	s, err := New(DefaultConfig(), gen)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Equal(t, []plan.Trigger{plan.TriggerBoot}, gen.seen())
}

func TestStartRejectsBadSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MidnightSpec = "every midnight"
	s, err := New(cfg, &fakeGenerator{})
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}

func TestNetworkRestored(t *testing.T) {
	tests := []struct {
		name    string
		resumer *fakeResumer
		want    []plan.Trigger
	}{
		{"fires trigger when no retry is queued", &fakeResumer{}, []plan.Trigger{plan.TriggerNetworkRestored}},
		{"queued retry takes precedence", &fakeResumer{ran: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			s, err := New(DefaultConfig(), gen,
				WithMonitor(network.NewMonitor(network.NewStatic(true), time.Hour)),
				WithResumer(tt.resumer))
			require.NoError(t, err)

			s.networkRestored(context.Background())
			assert.Equal(t, 1, tt.resumer.calls)
			assert.Equal(t, tt.want, gen.seen())
		})
	}
}

func TestMonitorTransitionFiresTrigger(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	net := network.NewStatic(false)
	mon := network.NewMonitor(net, time.Hour)

	cfg := DefaultConfig()
	cfg.Boot = false
	s, err := New(cfg, gen, WithMonitor(mon))
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	mon.Check(ctx)
	net.Set(true)
	mon.Check(ctx)

	require.Eventually(t, func() bool {
		return len(gen.seen()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, plan.TriggerNetworkRestored, gen.seen()[0])
}

func TestSweep(t *testing.T) {
	gen := &fakeGenerator{}
	s, err := New(DefaultConfig(), gen)
	require.NoError(t, err)
	s.sweep(context.Background())
	assert.Equal(t, 1, gen.sweeps)
}
