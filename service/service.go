// Package service exposes the orchestrator over NATS request/reply so the UI
// and native layers can fire triggers, read state, and update plan items.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/plan"
)

// Subjects served. The trailing token of trigger and item subjects selects
// the trigger or the item operation.
const (
	SubjectTrigger = "dailyplan.trigger.*"
	SubjectPlanGet = "dailyplan.plan.get"
	SubjectPending = "dailyplan.pending.get"
	SubjectRetry   = "dailyplan.retry"
	SubjectItem    = "dailyplan.item.*"

	triggerPrefix = "dailyplan.trigger."
	itemPrefix    = "dailyplan.item."
)

// DefaultRequestTimeout bounds the handling of one request.
const DefaultRequestTimeout = 2 * time.Minute

// ErrUnknownSubject is returned for a subject the service does not serve.
var ErrUnknownSubject = errors.New("unknown subject")

// Backend is the orchestrator surface the service exposes.
type Backend interface {
	GenerateTodayPlan(ctx context.Context, trigger plan.Trigger) orchestrator.GenerationResult
	GetTodaysPlan(ctx context.Context) (*plan.Plan, error)
	GetPendingGeneration(ctx context.Context) (*plan.PendingGeneration, error)
	RetryPendingGeneration(ctx context.Context) orchestrator.GenerationResult
	CompleteItem(ctx context.Context, id string) (*plan.Plan, error)
	SkipItem(ctx context.Context, id string) (*plan.Plan, error)
	UndoItem(ctx context.Context, id string) (*plan.Plan, error)
}

// Resumer runs a queued retry immediately.
type Resumer interface {
	Resume(ctx context.Context) (bool, error)
}

// Subscriber is the subset of *nats.Conn used to register handlers.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

var _ Subscriber = (*nats.Conn)(nil)

// ItemRequest is the payload of item subjects.
type ItemRequest struct {
	ID string `json:"id"`
}

// Reply is the JSON envelope of every response.
type Reply struct {
	Result  *orchestrator.GenerationResult `json:"result,omitempty"`
	Plan    *plan.Plan                     `json:"plan,omitempty"`
	Pending *plan.PendingGeneration        `json:"pending,omitempty"`
	Error   string                         `json:"error,omitempty"`
}

// Service routes NATS requests to a Backend.
type Service struct {
	backend Backend
	retry   Resumer
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithResumer resumes queued retries when the app comes to the foreground.
func WithResumer(r Resumer) Option {
	return func(s *Service) { s.retry = r }
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New creates a Service.
func New(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		timeout: DefaultRequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes every served subject on sub.
func (s *Service) Start(ctx context.Context, sub Subscriber) error {
	subjects := []string{SubjectTrigger, SubjectPlanGet, SubjectPending, SubjectRetry, SubjectItem}
	for _, subj := range subjects {
		sb, err := sub.Subscribe(subj, func(msg *nats.Msg) { s.serve(ctx, msg) })
		if err != nil {
			s.Stop()
			return fmt.Errorf("subscribe %s: %w", subj, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sb)
		s.mu.Unlock()
	}
	s.logger.Info("Plan service listening", "subjects", subjects)
	return nil
}

// Stop removes all subscriptions.
func (s *Service) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sb := range subs {
		if sb == nil {
			continue
		}
		if err := sb.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe", "subject", sb.Subject, "error", err)
		}
	}
}

func (s *Service) serve(ctx context.Context, msg *nats.Msg) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.Dispatch(reqCtx, msg.Subject, msg.Data)
	if err != nil {
		s.logger.Warn("Request failed", "subject", msg.Subject, "error", err)
		reply = Reply{Error: err.Error()}
	}
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("Failed to marshal reply", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("Failed to respond", "subject", msg.Subject, "error", err)
	}
}

// Dispatch handles one request by subject.
func (s *Service) Dispatch(ctx context.Context, subject string, data []byte) (Reply, error) {
	switch {
	case strings.HasPrefix(subject, triggerPrefix):
		return s.trigger(ctx, strings.TrimPrefix(subject, triggerPrefix))

	case subject == SubjectPlanGet:
		p, err := s.backend.GetTodaysPlan(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Plan: p}, nil

	case subject == SubjectPending:
		p, err := s.backend.GetPendingGeneration(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Pending: p}, nil

	case subject == SubjectRetry:
		res := s.backend.RetryPendingGeneration(ctx)
		return Reply{Result: &res, Plan: res.Plan}, nil

	case strings.HasPrefix(subject, itemPrefix):
		return s.item(ctx, strings.TrimPrefix(subject, itemPrefix), data)
	}
	return Reply{}, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
}

func (s *Service) trigger(ctx context.Context, token string) (Reply, error) {
	trigger := plan.ParseTrigger(token)
	if trigger == "" {
		return Reply{}, fmt.Errorf("unknown trigger %q", token)
	}
	if trigger == plan.TriggerAppForeground && s.retry != nil {
		if ran, err := s.retry.Resume(ctx); err != nil {
			s.logger.Warn("Failed to resume plan retry", "error", err)
		} else if ran {
			s.logger.Debug("Resumed plan retry on foreground")
		}
	}
	res := s.backend.GenerateTodayPlan(ctx, trigger)
	return Reply{Result: &res, Plan: res.Plan}, nil
}

func (s *Service) item(ctx context.Context, op string, data []byte) (Reply, error) {
	var req ItemRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return Reply{}, fmt.Errorf("parse item request: %w", err)
	}
	if req.ID == "" {
		return Reply{}, fmt.Errorf("item id is required")
	}

	var fn func(context.Context, string) (*plan.Plan, error)
	switch op {
	case "complete":
		fn = s.backend.CompleteItem
	case "skip":
		fn = s.backend.SkipItem
	case "undo":
		fn = s.backend.UndoItem
	default:
		return Reply{}, fmt.Errorf("unknown item operation %q", op)
	}
	p, err := fn(ctx, req.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Plan: p}, nil
}
