// Package events delivers plan lifecycle notifications to subscribers such
// as the UI layer, the native sync exporter, and the NATS bridge.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viperdam/body-mode-sub006/plan"
)

// Name identifies an event kind.
type Name string

const (
	PlanGenerated           Name = "PLAN_GENERATED"
	PlanUpdated             Name = "PLAN_UPDATED"
	EnergyLow               Name = "ENERGY_LOW"
	PlanGenerationRecovered Name = "PLAN_GENERATION_RECOVERED"
	PendingPlanFailure      Name = "PENDING_PLAN_FAILURE"
	PlanGenerationFailed    Name = "PLAN_GENERATION_FAILED"
)

// Event is one lifecycle notification.
type Event struct {
	ID      string       `json:"id"`
	Name    Name         `json:"name"`
	At      time.Time    `json:"at"`
	DateKey string       `json:"date_key,omitempty"`
	Trigger plan.Trigger `json:"trigger,omitempty"`
	Reason  plan.Reason  `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	Plan    *plan.Plan   `json:"plan,omitempty"`
}

// New creates an event with a fresh ID.
func New(name Name, at time.Time) Event {
	return Event{ID: uuid.NewString(), Name: name, At: at}
}

// Handler receives events.
type Handler func(ctx context.Context, e Event)

// Emitter is the publishing side of a Bus.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	order    []int
	logger   *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{handlers: make(map[int]Handler), logger: logger}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers e to every subscriber. A panicking handler is logged and
// does not stop delivery to the rest.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	b.logger.Debug("Emitting event", "event", e.Name, "date_key", e.DateKey, "subscribers", len(hs))
	for _, h := range hs {
		b.deliver(ctx, h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				"event", e.Name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	h(ctx, e)
}

// Recorder is a Handler that keeps every event it sees.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle records e.
func (r *Recorder) Handle(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what has been recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Name, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}
