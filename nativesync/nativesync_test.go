package nativesync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/storage"
)

const today = "2026-03-10"

func testPlan(t *testing.T, revision int64) *plan.Plan {
	t.Helper()
	p, err := plan.Fallback(today, plan.Options{Location: time.UTC}, time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	p.Revision = revision
	return p
}

func newSyncer(t *testing.T) (*Syncer, *storage.PlanRepository) {
	t.Helper()
	plans := storage.NewPlanRepository(storage.NewMemoryStore())
	path := filepath.Join(t.TempDir(), "native", "plan_snapshot.json")
	return New(path, plans, func() string { return today }), plans
}

func writeNative(t *testing.T, path string, snap Snapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestSyncNothingOnEitherSide(t *testing.T) {
	s, _ := newSyncer(t)
	dir, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DirectionNone, dir)
}

func TestSyncExportsWhenSnapshotMissing(t *testing.T) {
	ctx := context.Background()
	s, plans := newSyncer(t)
	require.NoError(t, plans.Save(ctx, testPlan(t, 3)))

	dir, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, DirectionExported, dir)

	snap, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, today, snap.DateKey)
	assert.Equal(t, int64(3), snap.Revision)
	assert.Equal(t, "service", snap.Writer)
	require.NotNil(t, snap.Plan)
	assert.Len(t, snap.Plan.Items, plan.FallbackItemCount)
}

func TestSyncHigherRevisionWins(t *testing.T) {
	tests := []struct {
		name           string
		local          int64
		remote         int64
		want           Direction
		wantLocalAfter int64
	}{
		{"native ahead", 2, 5, DirectionImported, 5},
		{"local ahead", 7, 5, DirectionExported, 7},
		{"tie", 4, 4, DirectionNone, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, plans := newSyncer(t)
			require.NoError(t, plans.Save(ctx, testPlan(t, tt.local)))

			remote := testPlan(t, tt.remote)
			require.NoError(t, remote.MarkCompleted(remote.Items[0].ID, time.Date(2026, 3, 10, 7, 45, 0, 0, time.UTC)))
			remote.Revision = tt.remote
			writeNative(t, s.Path(), Snapshot{DateKey: today, Revision: tt.remote, Plan: remote, Writer: "native"})

			dir, err := s.Sync(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dir)

			local, err := plans.Get(ctx, today)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocalAfter, local.Revision)
			assert.Equal(t, tt.want == DirectionImported, local.Items[0].Completed)

			snap, err := s.Read()
			require.NoError(t, err)
			assert.Equal(t, max(tt.local, tt.remote), snap.Revision)
		})
	}
}

func TestSyncBootstrapsFromNative(t *testing.T) {
	ctx := context.Background()
	s, plans := newSyncer(t)
	writeNative(t, s.Path(), Snapshot{DateKey: today, Revision: 1, Plan: testPlan(t, 1)})

	dir, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, DirectionImported, dir)

	local, err := plans.Get(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), local.Revision)
}

func TestSyncIgnoresSnapshotForAnotherDay(t *testing.T) {
	ctx := context.Background()
	s, plans := newSyncer(t)

	old := testPlan(t, 9)
	old.DateKey = "2026-03-09"
	writeNative(t, s.Path(), Snapshot{DateKey: "2026-03-09", Revision: 9, Plan: old})

	dir, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, DirectionNone, dir)
	_, err = plans.Get(ctx, today)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHandlerExportsLocalChanges(t *testing.T) {
	s, _ := newSyncer(t)
	h := s.Handler()

	e := events.New(events.EnergyLow, time.Now())
	e.Plan = testPlan(t, 1)
	h(context.Background(), e)
	_, err := s.Read()
	assert.ErrorIs(t, err, ErrNoSnapshot, "unrelated events do not export")

	e = events.New(events.PlanUpdated, time.Now())
	e.Plan = testPlan(t, 6)
	h(context.Background(), e)
	snap, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.Revision)
}

func TestWatcherImportsNativeWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, plans := newSyncer(t)
	require.NoError(t, plans.Save(ctx, testPlan(t, 1)))

	synced := make(chan Direction, 8)
	w := NewWatcher(s, WithDebounce(10*time.Millisecond), OnSync(func(d Direction) { synced <- d }))
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeNative(t, s.Path(), Snapshot{DateKey: today, Revision: 4, Plan: testPlan(t, 4), Writer: "native"})

	require.Eventually(t, func() bool {
		p, err := plans.Get(ctx, today)
		return err == nil && p.Revision == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, DirectionImported, <-synced)
}
