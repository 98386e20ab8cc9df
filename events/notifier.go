package events

import (
	"context"
	"time"

	"github.com/viperdam/body-mode-sub006/plan"
)

// FailureNotice describes a terminal generation failure the user should see.
type FailureNotice struct {
	DateKey  string
	Trigger  plan.Trigger
	Reason   plan.Reason
	Attempts int
	Message  string
}

// Notifier schedules user-visible notices. Local notification delivery is
// owned by the host platform.
type Notifier interface {
	ScheduleFailureNotice(ctx context.Context, n FailureNotice) error
}

// BusNotifier turns notices into PENDING_PLAN_FAILURE events.
type BusNotifier struct {
	Bus Emitter
	Now func() time.Time
}

// ScheduleFailureNotice emits the notice on the bus.
func (b BusNotifier) ScheduleFailureNotice(ctx context.Context, n FailureNotice) error {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	e := New(PendingPlanFailure, now())
	e.DateKey = n.DateKey
	e.Trigger = n.Trigger
	e.Reason = n.Reason
	e.Message = n.Message
	b.Bus.Emit(ctx, e)
	return nil
}
