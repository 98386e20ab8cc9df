// Package network answers whether the generation provider is reachable and
// reports offline-to-online transitions.
package network

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Checker reports connectivity.
type Checker interface {
	IsConnected(ctx context.Context) bool
}

// Static is a Checker with a settable answer.
type Static struct {
	connected atomic.Bool
}

// NewStatic creates a Static checker.
func NewStatic(connected bool) *Static {
	s := &Static{}
	s.connected.Store(connected)
	return s
}

// IsConnected returns the configured value.
func (s *Static) IsConnected(context.Context) bool { return s.connected.Load() }

// Set changes the reported state.
func (s *Static) Set(connected bool) { s.connected.Store(connected) }

// Probe considers the device online if any host accepts a TCP connection.
type Probe struct {
	Hosts   []string
	Timeout time.Duration
}

// DefaultProbeHosts are dialed when none are configured.
var DefaultProbeHosts = []string{"1.1.1.1:443", "8.8.8.8:53"}

// IsConnected dials each host in turn.
func (p *Probe) IsConnected(ctx context.Context) bool {
	hosts := p.Hosts
	if len(hosts) == 0 {
		hosts = DefaultProbeHosts
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	for _, h := range hosts {
		conn, err := d.DialContext(ctx, "tcp", h)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

// Monitor polls a Checker and calls OnRestored whenever connectivity comes
// back after being lost.
type Monitor struct {
	checker  Checker
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	onRestored []func(context.Context)
	last       *bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// DefaultPollInterval is used when a Monitor is given no interval.
const DefaultPollInterval = 30 * time.Second

// NewMonitor creates a Monitor polling every interval.
func NewMonitor(checker Checker, interval time.Duration, opts ...MonitorOption) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	m := &Monitor{checker: checker, interval: interval, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnRestored registers a callback for offline-to-online transitions.
func (m *Monitor) OnRestored(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRestored = append(m.onRestored, fn)
}

// Check polls once and fires callbacks on a transition. It reports the
// current state.
func (m *Monitor) Check(ctx context.Context) bool {
	up := m.checker.IsConnected(ctx)

	m.mu.Lock()
	restored := m.last != nil && !*m.last && up
	m.last = &up
	callbacks := append([]func(context.Context){}, m.onRestored...)
	m.mu.Unlock()

	if restored {
		m.logger.Info("Network restored")
		for _, fn := range callbacks {
			fn(ctx)
		}
	}
	return up
}

// Start runs the poll loop until Stop or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Check(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Check(loopCtx)
			}
		}
	}()
}

// Stop ends the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
