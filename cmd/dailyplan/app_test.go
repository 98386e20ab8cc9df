package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/config"
	"github.com/viperdam/body-mode-sub006/generator/testutil"
	"github.com/viperdam/body-mode-sub006/network"
	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/profile"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.BackendMemory
	cfg.Metrics.Addr = ""
	cfg.Generation.Timezone = "UTC"
	cfg.Sync.SnapshotPath = filepath.Join(t.TempDir(), "plan_snapshot.json")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, online bool) (*App, *testutil.FakeProvider) {
	t.Helper()
	fake := testutil.NewFakeProvider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(context.Background(), cfg, logger,
		withNetwork(network.NewStatic(online)),
		withProvider(fake),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app, fake
}

func saveProfile(t *testing.T, app *App) {
	t.Helper()
	require.NoError(t, app.profiles.Save(context.Background(), &profile.Profile{
		Sex:           profile.SexMale,
		BirthYear:     1985,
		HeightCm:      180,
		WeightKg:      80,
		ActivityLevel: profile.ActivityModerate,
		Goal:          profile.GoalMaintain,
	}))
}

func TestAppGeneratesAndExports(t *testing.T) {
	app, fake := newTestApp(t, testConfig(t), true)
	saveProfile(t, app)
	ctx := context.Background()

	res := app.orch.GenerateTodayPlan(ctx, plan.TriggerManual)
	require.Equal(t, orchestrator.StatusSuccess, res.Status, res.Message)
	require.NotNil(t, res.Plan)
	assert.Equal(t, plan.SourceCloud, res.Plan.Source)
	assert.Equal(t, 1, fake.CallCount())

	snap, err := app.syncer.Read()
	require.NoError(t, err)
	assert.Equal(t, app.orch.Today(), snap.DateKey)
	assert.Equal(t, res.Plan.Revision, snap.Revision)

	n, err := promtest.GatherAndCount(app.registry, "dailyplan_generation_results_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppWithoutProfileServesFallback(t *testing.T) {
	app, fake := newTestApp(t, testConfig(t), true)

	res := app.orch.GenerateTodayPlan(context.Background(), plan.TriggerManual)
	assert.Equal(t, orchestrator.StatusSuccess, res.Status)
	assert.Equal(t, plan.ReasonNoProfile, res.Reason)
	require.NotNil(t, res.Plan)
	assert.True(t, res.Plan.IsFallback())
	assert.Zero(t, fake.CallCount())
}

func TestAppOfflineQueuesRetry(t *testing.T) {
	app, fake := newTestApp(t, testConfig(t), false)
	saveProfile(t, app)
	ctx := context.Background()

	res := app.orch.GenerateTodayPlan(ctx, plan.TriggerAppForeground)
	assert.Equal(t, orchestrator.StatusSuccess, res.Status)
	assert.Equal(t, plan.ReasonOffline, res.Reason)
	assert.True(t, res.IsOffline)
	assert.Zero(t, fake.CallCount())

	state, err := app.queue.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, plan.TriggerAppForeground, state.Trigger)
}

func TestNewAppRejectsNATSBackendWithoutConnection(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.BackendNATS
	_, err := NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		withNetwork(network.NewStatic(true)))
	require.Error(t, err)
}

func TestNewAppSQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "plans.db")

	app, _ := newTestApp(t, cfg, true)
	saveProfile(t, app)

	res := app.orch.GenerateTodayPlan(context.Background(), plan.TriggerManual)
	require.Equal(t, orchestrator.StatusSuccess, res.Status, res.Message)

	stored, err := app.orch.GetTodaysPlan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, res.Plan.DateKey, stored.DateKey)
}

func TestReadProfile(t *testing.T) {
	body := `{"sex":"female","birth_year":1992,"height_cm":170,"weight_kg":62,"activity_level":"light","goal":"lose"}`

	p, err := readProfile(strings.NewReader(body), "-")
	require.NoError(t, err)
	assert.Equal(t, 1992, p.BirthYear)

	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	p, err = readProfile(nil, path)
	require.NoError(t, err)
	assert.Equal(t, 170.0, p.HeightCm)

	_, err = readProfile(strings.NewReader("{"), "-")
	assert.Error(t, err)
}

func TestGenerateRejectsUnknownTrigger(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", "", "generate", "--trigger", "nonsense"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger")
}
