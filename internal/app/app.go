// Package app wires all turnguard subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, and Shutdown
// releases what New acquired.
//
// For testing, inject doubles via functional options (WithAuditStore,
// WithMetrics, WithGatherer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/turnguard/internal/audit"
	"github.com/MrWong99/turnguard/internal/config"
	"github.com/MrWong99/turnguard/internal/gateway"
	"github.com/MrWong99/turnguard/internal/health"
	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/MrWong99/turnguard/internal/observe"
)

const (
	// shutdownTimeout bounds connection draining once Run's context is done.
	shutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second

	// auditPath serves recent decision records when the audit log is on.
	auditPath = "/audit"
)

var _ gateway.Sessions = (*SessionManager)(nil)

// App owns all subsystem lifetimes of the turnguard server.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	level    *slog.LevelVar

	// Subsystems: initialised in New, torn down in Shutdown.
	store    audit.Store
	writer   *audit.Writer
	sessions *SessionManager
	gateway  *gateway.Server
	health   *health.Handler
	server   *http.Server

	mu        sync.Mutex
	reloadErr error

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAuditStore injects an audit store instead of creating one from the
// audit driver.
func WithAuditStore(s audit.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry served on the metrics path. Defaults to
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel lets config reloads adjust the process log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It fails fast on an
// invalid configuration or an unreachable audit database.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audit log ─────────────────────────────────────────────────────
	if err := a.initAudit(ctx); err != nil {
		return nil, fmt.Errorf("app: init audit: %w", err)
	}

	// ── 2. Sessions ──────────────────────────────────────────────────────
	sessions, err := NewSessionManager(cfg.Interruption,
		WithManagerMetrics(a.metrics),
		WithOutcomeObserver(a.observeOutcome),
	)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.sessions = sessions

	// ── 3. Gateway ───────────────────────────────────────────────────────
	a.gateway = gateway.New(sessions,
		gateway.WithReadLimit(cfg.Gateway.MaxMessageBytes),
		gateway.WithWriteTimeout(cfg.Gateway.WriteTimeout),
		gateway.WithOriginPatterns(cfg.Gateway.AllowedOrigins...),
	)

	// ── 4. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{health.ErrorChecker("config", a.lastReloadErr)}
	if a.store != nil {
		checkers = append(checkers, health.PingChecker("audit", a.store))
	}
	a.health = health.New(checkers...)

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAudit sets up the audit store and its background writer.
func (a *App) initAudit(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Audit.Driver {
		case config.AuditNone:
			slog.Info("audit log disabled")
			return nil
		case config.AuditMemory:
			a.store = audit.NewMemStore(a.cfg.Audit.MemoryLimit)
		case config.AuditPostgres:
			pool, err := audit.OpenPool(ctx, a.cfg.Audit.PostgresDSN)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			store := audit.NewPostgresStore(pool)
			if err := store.Migrate(ctx); err != nil {
				a.closeAll()
				return err
			}
			a.store = audit.NewBreakerStore(store,
				audit.WithMaxFailures(a.cfg.Audit.BreakerMaxFailures),
				audit.WithResetTimeout(a.cfg.Audit.BreakerResetTimeout),
			)
		default:
			return fmt.Errorf("unknown audit driver %q", a.cfg.Audit.Driver)
		}
	}

	a.writer = audit.NewWriter(a.store,
		audit.WithQueueSize(a.cfg.Audit.QueueSize),
		audit.WithMetrics(a.metrics),
	)
	slog.Info("audit log enabled", "driver", a.cfg.Audit.Driver, "queue_size", a.cfg.Audit.QueueSize)
	return nil
}

// observeOutcome receives every session outcome. It must not block.
func (a *App) observeOutcome(o interrupt.Outcome) {
	if a.writer != nil {
		a.writer.Observe(o)
	}
}

// Handler returns the root HTTP handler: health probes, the metrics
// endpoint, the WebSocket gateway and, if enabled, the audit query API.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, observe.MetricsHandler(a.gatherer))
	mux.Handle(a.cfg.Gateway.Path, a.gateway)
	if a.store != nil {
		mux.Handle("GET "+auditPath, audit.Handler(a.store))
	}
	return otelhttp.NewHandler(observe.Middleware(a.metrics)(mux), "turnguard",
		otelhttp.WithPropagators(propagation.TraceContext{}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next. It has the signature of
// the config watcher callback. Interruption changes affect sessions opened
// afterwards; sections that need a restart are only logged.
func (a *App) Reload(old, next *config.Config) {
	diff := config.Diff(old, next)

	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(LogLevel(diff.NewLogLevel))
		slog.Info("app: log level changed", "level", diff.NewLogLevel)
	}

	if diff.InterruptionChanged {
		err := a.sessions.Reconfigure(next.Interruption)
		a.setReloadErr(err)
		if err != nil {
			slog.Error("app: config reload rejected", "err", err)
			return
		}
		slog.Info("app: interruption config reloaded",
			"vocabulary", diff.VocabularyChanged,
			"threshold", diff.ThresholdChanged,
			"delay", diff.DelayChanged,
			"fuzzy_folding", diff.FuzzyFoldingChanged,
		)
	} else {
		a.setReloadErr(nil)
	}

	for _, section := range diff.RestartRequired {
		slog.Warn("app: config change requires restart", "section", section)
	}
}

// ReloadFailed records the outcome of loading a config revision. It has the
// signature of the config watcher error handler. A non-nil err fails the
// readiness probe until a later revision loads.
func (a *App) ReloadFailed(err error) {
	if err != nil {
		err = fmt.Errorf("app: config revision rejected: %w", err)
	}
	a.setReloadErr(err)
}

func (a *App) setReloadErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reloadErr = err
}

func (a *App) lastReloadErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reloadErr
}

// LogLevel converts a config log level to its slog equivalent.
func LogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then drains: readiness
// turns unhealthy, gateway connections are closed, in-flight requests
// finish and the audit writer flushes. A clean shutdown returns nil.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if a.writer != nil {
			_ = a.writer.Run(writerCtx)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)
		slog.Info("app: draining connections", "sessions", a.sessions.Len())

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(a.gateway.Shutdown(sctx), a.server.Shutdown(sctx))
	})

	err := g.Wait()
	stopWriter()
	<-writerDone
	if a.writer != nil {
		slog.Info("app: audit writer stopped", "written", a.writer.Written(), "dropped", a.writer.Dropped())
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases resources acquired by New in reverse order. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs closers after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
