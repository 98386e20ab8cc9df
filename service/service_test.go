package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/plan"
)

type fakeBackend struct {
	calls    []string
	triggers []plan.Trigger
	plan     *plan.Plan
	pending  *plan.PendingGeneration
	itemErr  error
}

func (f *fakeBackend) GenerateTodayPlan(_ context.Context, trigger plan.Trigger) orchestrator.GenerationResult {
	f.calls = append(f.calls, "generate")
	f.triggers = append(f.triggers, trigger)
	return orchestrator.GenerationResult{Status: orchestrator.StatusSuccess, Trigger: trigger, Plan: f.plan}
}

func (f *fakeBackend) GetTodaysPlan(context.Context) (*plan.Plan, error) {
	return f.plan, nil
}

func (f *fakeBackend) GetPendingGeneration(context.Context) (*plan.PendingGeneration, error) {
	return f.pending, nil
}

func (f *fakeBackend) RetryPendingGeneration(context.Context) orchestrator.GenerationResult {
	f.calls = append(f.calls, "retry")
	return orchestrator.GenerationResult{Status: orchestrator.StatusSkipped, Message: "nothing pending"}
}

func (f *fakeBackend) CompleteItem(_ context.Context, id string) (*plan.Plan, error) {
	f.calls = append(f.calls, "complete:"+id)
	return f.plan, f.itemErr
}

func (f *fakeBackend) SkipItem(_ context.Context, id string) (*plan.Plan, error) {
	f.calls = append(f.calls, "skip:"+id)
	return f.plan, f.itemErr
}

func (f *fakeBackend) UndoItem(_ context.Context, id string) (*plan.Plan, error) {
	f.calls = append(f.calls, "undo:"+id)
	return f.plan, f.itemErr
}

type fakeResumer struct {
	backend *fakeBackend
}

func (r fakeResumer) Resume(context.Context) (bool, error) {
	r.backend.calls = append(r.backend.calls, "resume")
	return true, nil
}

func TestDispatchTriggers(t *testing.T) {
	tests := []struct {
		subject   string
		want      plan.Trigger
		wantCalls []string
	}{
		{"dailyplan.trigger.WAKE", plan.TriggerWake, []string{"generate"}},
		{"dailyplan.trigger.midnight", plan.TriggerMidnight, []string{"generate"}},
		{"dailyplan.trigger.app-foreground", plan.TriggerAppForeground, []string{"resume", "generate"}},
		{"dailyplan.trigger.MANUAL", plan.TriggerManual, []string{"generate"}},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			backend := &fakeBackend{plan: &plan.Plan{DateKey: "2026-03-10"}}
			s := New(backend, WithResumer(fakeResumer{backend}))

			reply, err := s.Dispatch(context.Background(), tt.subject, nil)
			require.NoError(t, err)
			require.NotNil(t, reply.Result)
			assert.Equal(t, tt.want, reply.Result.Trigger)
			assert.Equal(t, orchestrator.StatusSuccess, reply.Result.Status)
			assert.NotNil(t, reply.Plan)
			assert.Equal(t, tt.wantCalls, backend.calls)
		})
	}
}

func TestDispatchRejectsUnknown(t *testing.T) {
	s := New(&fakeBackend{})
	ctx := context.Background()

	_, err := s.Dispatch(ctx, "dailyplan.trigger.LUNCH", nil)
	assert.Error(t, err)

	_, err = s.Dispatch(ctx, "dailyplan.nope", nil)
	assert.ErrorIs(t, err, ErrUnknownSubject)

	_, err = s.Dispatch(ctx, "dailyplan.item.delete", []byte(`{"id":"a"}`))
	assert.Error(t, err)

	_, err = s.Dispatch(ctx, "dailyplan.item.complete", []byte(`{}`))
	assert.Error(t, err)

	_, err = s.Dispatch(ctx, "dailyplan.item.complete", []byte(`not json`))
	assert.Error(t, err)
}

func TestDispatchQueries(t *testing.T) {
	backend := &fakeBackend{
		plan:    &plan.Plan{DateKey: "2026-03-10", Revision: 3},
		pending: &plan.PendingGeneration{DateKey: "2026-03-10", Reason: plan.ReasonOffline},
	}
	s := New(backend)
	ctx := context.Background()

	reply, err := s.Dispatch(ctx, SubjectPlanGet, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reply.Plan.Revision)

	reply, err = s.Dispatch(ctx, SubjectPending, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.ReasonOffline, reply.Pending.Reason)

	reply, err = s.Dispatch(ctx, SubjectRetry, nil)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusSkipped, reply.Result.Status)
}

func TestDispatchItems(t *testing.T) {
	backend := &fakeBackend{plan: &plan.Plan{DateKey: "2026-03-10"}}
	s := New(backend)
	ctx := context.Background()

	for _, op := range []string{"complete", "skip", "undo"} {
		_, err := s.Dispatch(ctx, "dailyplan.item."+op, []byte(`{"id":"item-1"}`))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"complete:item-1", "skip:item-1", "undo:item-1"}, backend.calls)

	backend.itemErr = plan.ErrItemNotFound
	_, err := s.Dispatch(ctx, "dailyplan.item.complete", []byte(`{"id":"gone"}`))
	assert.True(t, errors.Is(err, plan.ErrItemNotFound))
}
