package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemCommands(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	p, err := Fallback("2026-03-10", utc, now)
	require.NoError(t, err)
	id := p.Items[0].ID

	require.NoError(t, p.MarkCompleted(id, now))
	assert.True(t, p.Items[0].Completed)
	require.NotNil(t, p.Items[0].CompletedAt)
	assert.Equal(t, int64(2), p.Revision)

	err = p.MarkSkipped(id, now)
	assert.ErrorIs(t, err, ErrAlreadyFinal)
	assert.False(t, p.Items[0].Skipped)

	require.NoError(t, p.Undo(id, now))
	assert.False(t, p.Items[0].IsTerminal())
	assert.Nil(t, p.Items[0].CompletedAt)

	require.NoError(t, p.MarkSkipped(id, now))
	assert.True(t, p.Items[0].Skipped)

	assert.ErrorIs(t, p.MarkMissed("nope", now), ErrItemNotFound)
	assert.ErrorIs(t, p.Undo("nope", now), ErrItemNotFound)
}

func TestMarkPastDueMissed(t *testing.T) {
	start := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	p, err := Fallback("2026-03-10", utc, start)
	require.NoError(t, err)
	require.NoError(t, p.MarkCompleted(p.Items[0].ID, start))

	// 07:30 completed, 10:00 and 12:30 past due
	n := p.MarkPastDueMissed(time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, 2, n)
	assert.True(t, p.Items[0].Completed)
	assert.False(t, p.Items[0].Missed)
	assert.True(t, p.Items[1].Missed)
	assert.True(t, p.Items[2].Missed)
	assert.False(t, p.Items[3].IsTerminal())

	rev := p.Revision
	assert.Zero(t, p.MarkPastDueMissed(time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, rev, p.Revision)
}

func TestParseTrigger(t *testing.T) {
	assert.Equal(t, TriggerNetworkRestored, ParseTrigger("network-restored"))
	assert.Equal(t, TriggerWake, ParseTrigger(" wake "))
	assert.Equal(t, Trigger(""), ParseTrigger("lunch"))

	assert.True(t, TriggerMidnight.IsBackground())
	assert.True(t, TriggerBoot.IsBackground())
	assert.False(t, TriggerManual.IsBackground())
	assert.False(t, TriggerAppForeground.IsBackground())
}
