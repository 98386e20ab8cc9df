// Package metrics exports Prometheus collectors for plan generation, LLM
// calls, the circuit breaker, the retry queue, and native sync.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/viperdam/body-mode-sub006/breaker"
	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/llm"
	"github.com/viperdam/body-mode-sub006/nativesync"
	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/retryqueue"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "dailyplan"

// Collector holds the service's collectors.
type Collector struct {
	results            *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	llmCalls    *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec
	llmRetries  prometheus.Counter

	breakerTransitions *prometheus.CounterVec
	breakerOpen        *prometheus.GaugeVec

	retryAttempts *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "results_total",
				Help:      "Generation results by trigger, status and reason",
			},
			[]string{"trigger", "status", "reason"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "Time taken to handle a trigger",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"trigger"},
		),
		llmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "calls_total",
				Help:      "LLM completion calls by tier, endpoint and outcome",
			},
			[]string{"tier", "endpoint", "outcome"},
		),
		llmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "call_duration_seconds",
				Help:      "LLM completion latency including retries and fallbacks",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11), // 100ms to ~100s
			},
			[]string{"tier"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "tokens_total",
				Help:      "Tokens consumed by tier and kind",
			},
			[]string{"tier", "kind"},
		),
		llmRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "retries_total",
				Help:      "Transient-error retries against a single endpoint",
			},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "transitions_total",
				Help:      "Circuit breaker status changes",
			},
			[]string{"breaker", "from", "to"},
		),
		breakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "open",
				Help:      "1 while the circuit is open",
			},
			[]string{"breaker"},
		),
		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Background retry attempts by outcome",
			},
			[]string{"outcome"},
		),
		syncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "native_sync",
				Name:      "syncs_total",
				Help:      "Native snapshot reconciliations by direction",
			},
			[]string{"direction"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Events emitted on the bus",
			},
			[]string{"event"},
		),
	}

	for _, col := range []prometheus.Collector{
		c.results, c.generationDuration,
		c.llmCalls, c.llmDuration, c.llmTokens, c.llmRetries,
		c.breakerTransitions, c.breakerOpen,
		c.retryAttempts, c.syncs, c.events,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return c, nil
}

// ObserveResult records a finished trigger. It matches orchestrator.ResultHook.
func (c *Collector) ObserveResult(trigger plan.Trigger, res orchestrator.GenerationResult, elapsed time.Duration) {
	reason := string(res.Reason)
	if reason == "" {
		reason = "none"
	}
	c.results.WithLabelValues(string(trigger), string(res.Status), reason).Inc()
	c.generationDuration.WithLabelValues(string(trigger)).Observe(elapsed.Seconds())
}

// ObserveLLMCall records one completion call. It matches llm.CallHook.
func (c *Collector) ObserveLLMCall(r llm.CallRecord) {
	tier := string(r.Tier)
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = "none"
	}
	c.llmCalls.WithLabelValues(tier, endpoint, r.Outcome()).Inc()
	c.llmDuration.WithLabelValues(tier).Observe(r.Duration.Seconds())
	if r.Usage.PromptTokens > 0 {
		c.llmTokens.WithLabelValues(tier, "prompt").Add(float64(r.Usage.PromptTokens))
	}
	if r.Usage.CompletionTokens > 0 {
		c.llmTokens.WithLabelValues(tier, "completion").Add(float64(r.Usage.CompletionTokens))
	}
	if r.Retries > 0 {
		c.llmRetries.Add(float64(r.Retries))
	}
}

// BreakerTransition records a status change. It matches breaker.TransitionFunc.
func (c *Collector) BreakerTransition(name string, from, to breaker.Status) {
	c.breakerTransitions.WithLabelValues(name, string(from), string(to)).Inc()
	open := 0.0
	if to == breaker.StatusOpen {
		open = 1
	}
	c.breakerOpen.WithLabelValues(name).Set(open)
}

// RetryAttempt records a background retry outcome.
func (c *Collector) RetryAttempt(o retryqueue.Outcome) {
	c.retryAttempts.WithLabelValues(o.String()).Inc()
}

// SyncDirection records a native sync result.
func (c *Collector) SyncDirection(d nativesync.Direction) {
	c.syncs.WithLabelValues(string(d)).Inc()
}

// EventHandler counts bus events.
func (c *Collector) EventHandler() events.Handler {
	return func(_ context.Context, e events.Event) {
		c.events.WithLabelValues(strings.ToLower(string(e.Name))).Inc()
	}
}
