package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallback(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 45, 0, 0, time.UTC)
	p, err := Fallback("2026-03-10", utc, now)
	require.NoError(t, err)

	assert.Len(t, p.Items, 6)
	assert.Equal(t, FallbackItemCount, len(p.Items))
	assert.True(t, p.IsTemporary)
	assert.True(t, p.IsFallback())
	assert.Equal(t, SourceCloudRetry, p.Source)
	assert.Equal(t, int64(1), p.Revision)

	wantTimes := []string{"07:30", "10:00", "12:30", "17:30", "19:00", "22:00"}
	for i, it := range p.Items {
		assert.Equal(t, wantTimes[i], it.Time)
		assert.False(t, it.IsTerminal(), "fallback item %s must not be terminal", it.Title)
		assert.NotEmpty(t, it.ID)
	}
	assert.Equal(t, CategorySleep, p.Items[5].Category)
}

func TestFallbackDeterministic(t *testing.T) {
	a, err := Fallback("2026-03-10", utc, time.Now())
	require.NoError(t, err)
	b, err := Fallback("2026-03-10", utc, time.Now().Add(time.Hour))
	require.NoError(t, err)
	for i := range a.Items {
		assert.Equal(t, a.Items[i].ID, b.Items[i].ID)
	}

	other, err := Fallback("2026-03-11", utc, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.Items[0].ID, other.Items[0].ID)
}

func TestFallbackRejectsBadKey(t *testing.T) {
	_, err := Fallback("10/03/2026", utc, time.Now())
	assert.ErrorIs(t, err, ErrInvalidDayKey)
}
