package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/plan"
)

func TestBusOrderAndUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.Subscribe(func(_ context.Context, e Event) { got = append(got, "a:"+string(e.Name)) })
	unsub := bus.Subscribe(func(_ context.Context, e Event) { got = append(got, "b:"+string(e.Name)) })

	bus.Emit(context.Background(), New(PlanGenerated, time.Now()))
	unsub()
	bus.Emit(context.Background(), New(PlanUpdated, time.Now()))

	assert.Equal(t, []string{"a:PLAN_GENERATED", "b:PLAN_GENERATED", "a:PLAN_UPDATED"}, got)
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	rec := &Recorder{}
	bus.Subscribe(func(context.Context, Event) { panic("ui crashed") })
	bus.Subscribe(rec.Handle)

	bus.Emit(context.Background(), Event{Name: EnergyLow})

	require.Len(t, rec.Events(), 1)
	assert.NotEmpty(t, rec.Events()[0].ID, "missing IDs are filled in")
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][]byte
	err  error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.msgs == nil {
		f.msgs = map[string][]byte{}
	}
	f.msgs[subj] = data
	return nil
}

func TestNATSBridge(t *testing.T) {
	bus := NewBus(nil)
	pub := &fakePublisher{}
	NewNATSBridge(pub, nil).Attach(bus)

	e := New(PlanGenerationRecovered, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	e.DateKey = "2026-03-10"
	bus.Emit(context.Background(), e)

	data, ok := pub.msgs["dailyplan.event.plan_generation_recovered"]
	require.True(t, ok)
	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2026-03-10", decoded.DateKey)

	pub.err = errors.New("disconnected")
	bus.Emit(context.Background(), e) // logged, not fatal
}

func TestBusNotifier(t *testing.T) {
	bus := NewBus(nil)
	rec := &Recorder{}
	bus.Subscribe(rec.Handle)

	n := BusNotifier{Bus: bus}
	require.NoError(t, n.ScheduleFailureNotice(context.Background(), FailureNotice{
		DateKey: "2026-03-10", Trigger: plan.TriggerWake, Reason: plan.ReasonLLMError, Message: "gave up",
	}))
	assert.Equal(t, []Name{PendingPlanFailure}, rec.Names())
	assert.Equal(t, plan.ReasonLLMError, rec.Events()[0].Reason)
}
