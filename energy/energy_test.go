package energy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/clock"
	"github.com/viperdam/body-mode-sub006/storage"
)

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		balance int
		bypass  bool
		want    Level
	}{
		{20, false, LevelFull},
		{15, false, LevelFull},
		{14, false, LevelDegraded},
		{5, false, LevelDegraded},
		{4, false, LevelInsufficient},
		{2, true, LevelDegraded},
		{0, false, LevelInsufficient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Classify(tt.balance, tt.bypass), "balance=%d bypass=%v", tt.balance, tt.bypass)
	}
	assert.Equal(t, 10, cfg.Cost(LevelFull))
	assert.Equal(t, 5, cfg.Cost(LevelDegraded))
	assert.Equal(t, 0, cfg.Cost(LevelInsufficient))
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	l := NewLedger(storage.NewMemoryStore(), clk, DefaultConfig())

	bal, err := l.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, bal, "first read refills to the allowance")

	require.NoError(t, l.Consume(ctx, 10))
	require.NoError(t, l.Consume(ctx, 8))
	assert.ErrorIs(t, l.Consume(ctx, 5), ErrInsufficient)

	bal, err = l.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, bal)

	has, err := l.HasBypass(ctx)
	require.NoError(t, err)
	assert.False(t, has)
	assert.ErrorIs(t, l.ConsumeBypass(ctx), ErrInsufficient)

	require.NoError(t, l.GrantBypass(ctx))
	has, err = l.HasBypass(ctx)
	require.NoError(t, err)
	assert.True(t, has)
	require.NoError(t, l.ConsumeBypass(ctx))

	t.Run("refill on new day", func(t *testing.T) {
		clk.Advance(24 * time.Hour)
		bal, err := l.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 20, bal)
	})

	t.Run("refill never lowers a topped-up balance", func(t *testing.T) {
		require.NoError(t, l.TopUp(ctx, 30))
		clk.Advance(24 * time.Hour)
		bal, err := l.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 50, bal)
	})
}
