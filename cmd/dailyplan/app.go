package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viperdam/body-mode-sub006/breaker"
	"github.com/viperdam/body-mode-sub006/config"
	"github.com/viperdam/body-mode-sub006/energy"
	"github.com/viperdam/body-mode-sub006/envcontext"
	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/generator"
	"github.com/viperdam/body-mode-sub006/llm"
	"github.com/viperdam/body-mode-sub006/metrics"
	"github.com/viperdam/body-mode-sub006/nativesync"
	"github.com/viperdam/body-mode-sub006/network"
	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/profile"
	"github.com/viperdam/body-mode-sub006/retryqueue"
	"github.com/viperdam/body-mode-sub006/scheduler"
	"github.com/viperdam/body-mode-sub006/service"
	"github.com/viperdam/body-mode-sub006/storage"
)

// App wires together all components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	natsConn *nats.Conn
	store    storage.Store
	closers  []func() error

	registry *prometheus.Registry
	metrics  *metrics.Collector
	bus      *events.Bus
	network  network.Checker
	profiles *profile.Repository
	provider generator.Provider
	queue    *retryqueue.Queue
	orch     *orchestrator.Orchestrator
	syncer   *nativesync.Syncer

	sched   *scheduler.Scheduler
	svc     *service.Service
	watcher *nativesync.Watcher
	httpSrv *http.Server
}

// appOption adjusts an App before its components are built.
type appOption func(*App)

// withNetwork replaces the connectivity probe.
func withNetwork(c network.Checker) appOption {
	return func(a *App) { a.network = c }
}

// withProvider replaces the LLM-backed plan provider.
func withProvider(p generator.Provider) appOption {
	return func(a *App) { a.provider = p }
}

// NewApp connects to storage and builds every component. It does not start
// any background work.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		bus:      events.NewBus(logger),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	if a.cfg.NATS.URL != "" {
		conn, err := nats.Connect(a.cfg.NATS.URL,
			nats.Name(a.cfg.NATS.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connect to NATS at %s: %w", a.cfg.NATS.URL, err)
		}
		a.natsConn = conn
		a.closers = append(a.closers, func() error {
			if err := conn.Drain(); err != nil {
				conn.Close()
				return err
			}
			return nil
		})
		a.logger.Info("Connected to NATS", "url", a.cfg.NATS.URL)
	}

	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		a.store = storage.NewMemoryStore()
	case config.BackendSQLite:
		st, err := storage.OpenSQLite(a.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	case config.BackendNATS:
		if a.natsConn == nil {
			return errors.New("nats store backend requires a NATS connection")
		}
		js, err := jetstream.New(a.natsConn)
		if err != nil {
			return fmt.Errorf("create JetStream context: %w", err)
		}
		st, err := storage.NewKVStore(ctx, js, a.cfg.Store.Bucket)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.store = st
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	a.logger.Debug("Store opened", "backend", a.cfg.Store.Backend)
	return nil
}

func (a *App) build() error {
	cfg := a.cfg
	logger := a.logger

	m, err := metrics.New(a.registry, "")
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = m
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.bus.Subscribe(m.EventHandler())
	if a.natsConn != nil {
		events.NewNATSBridge(a.natsConn, logger).Attach(a.bus)
	}

	if a.network == nil {
		a.network = &network.Probe{Hosts: cfg.Schedule.ProbeHosts, Timeout: cfg.Schedule.ProbeTimeout}
	}

	brk := breaker.New(cfg.Breaker,
		breaker.WithLogger(logger),
		breaker.WithStore(breaker.KeyedStore{Store: a.store}),
		breaker.OnTransition(m.BreakerTransition),
	)

	if a.provider == nil {
		client := llm.NewClient(cfg.Registry(),
			llm.WithRetryConfig(cfg.LLM.Retry),
			llm.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
			llm.WithLogger(logger),
			llm.WithCallHook(m.ObserveLLMCall),
		)
		a.provider = generator.NewLLMProvider(client,
			generator.WithLogger(logger),
			generator.WithTemperature(cfg.LLM.Temperature),
		)
	}

	a.profiles = profile.NewRepository(a.store)
	ledger := energy.NewLedger(a.store, nil, cfg.EnergyConfig())
	notifier := events.BusNotifier{Bus: a.bus}

	queueOpts := []retryqueue.Option{
		retryqueue.WithLogger(logger),
		retryqueue.WithNetwork(a.network),
		retryqueue.WithNotifier(notifier),
		retryqueue.OnAttempt(m.RetryAttempt),
		retryqueue.OnExhausted(func(ctx context.Context, s retryqueue.RetryState) {
			a.orch.HandleRetryExhausted(ctx, s)
		}),
	}
	if rl, ok := a.provider.(retryqueue.RateLimiter); ok {
		queueOpts = append(queueOpts, retryqueue.WithRateLimiter(rl))
	}
	a.queue, err = retryqueue.New(cfg.RetryQueueConfig(), a.store, nil, queueOpts...)
	if err != nil {
		return err
	}

	env := envcontext.NewComposite(logger).
		Add("service", envcontext.Func(func(context.Context) (envcontext.Snapshot, error) {
			return envcontext.Snapshot{"timezone": cfg.Generation.Timezone}, nil
		}))

	a.orch, err = orchestrator.New(cfg.OrchestratorConfig(), orchestrator.Deps{
		Store:       a.store,
		Profiles:    a.profiles,
		Energy:      ledger,
		Network:     a.network,
		Provider:    a.provider,
		Breaker:     brk,
		Events:      a.bus,
		Environment: env,
		Notifier:    notifier,
		Retry:       a.queue,
	},
		orchestrator.WithLogger(logger),
		orchestrator.WithResultHook(m.ObserveResult),
	)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	if cfg.Sync.SnapshotPath != "" {
		a.syncer = nativesync.New(cfg.Sync.SnapshotPath, storage.NewPlanRepository(a.store), a.orch.Today,
			nativesync.WithLogger(logger))
		a.bus.Subscribe(a.syncer.Handler())
	}
	return nil
}

// Serve starts the background components and blocks until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if err := a.queue.Start(ctx); err != nil {
		return fmt.Errorf("start retry queue: %w", err)
	}

	if a.syncer != nil {
		if dir, err := a.syncer.Sync(ctx); err != nil {
			a.logger.Warn("Initial native sync failed", "error", err)
		} else {
			a.metrics.SyncDirection(dir)
		}
		a.watcher = nativesync.NewWatcher(a.syncer,
			nativesync.WithWatcherLogger(a.logger),
			nativesync.WithDebounce(a.cfg.Sync.Debounce),
			nativesync.OnSync(a.metrics.SyncDirection),
		)
		if err := a.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start snapshot watcher: %w", err)
		}
	}

	if a.natsConn != nil {
		a.svc = service.New(a.orch, service.WithLogger(a.logger), service.WithResumer(a.queue))
		if err := a.svc.Start(ctx, a.natsConn); err != nil {
			return err
		}
	}

	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.httpSrv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
		a.logger.Info("Metrics listening", "addr", a.cfg.Metrics.Addr)
	}

	monitor := network.NewMonitor(a.network, a.cfg.Schedule.NetworkPoll, network.WithLogger(a.logger))
	sched, err := scheduler.New(a.cfg.SchedulerConfig(), a.orch,
		scheduler.WithLogger(a.logger),
		scheduler.WithMonitor(monitor),
		scheduler.WithResumer(a.queue),
	)
	if err != nil {
		return err
	}
	a.sched = sched
	if err := sched.Start(ctx); err != nil {
		return err
	}

	a.logger.Info("Daily plan service ready", "version", Version, "today", a.orch.Today())
	<-ctx.Done()
	a.logger.Info("Received shutdown signal")
	return nil
}

// Close stops components in reverse start order and releases connections.
func (a *App) Close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.svc != nil {
		a.svc.Stop()
	}
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("Failed to stop snapshot watcher", "error", err)
		}
	}
	if a.queue != nil {
		a.queue.Stop()
	}
	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.httpSrv.Shutdown(ctx)
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
