// Package app wires the tilawa subsystems into a running service.
//
// The App owns the full lifecycle: New loads reference data and assembles
// the pipeline, Run serves HTTP (and hot-reloads the config when a watcher
// is attached), and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithVerseSource,
// WithMetrics). When an option is not provided, New builds real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tilawa/internal/api"
	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/internal/health"
	"github.com/MrWong99/tilawa/internal/mcpserver"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/pipeline"
	"github.com/MrWong99/tilawa/internal/reference"
	"github.com/MrWong99/tilawa/internal/resilience"
	"github.com/MrWong99/tilawa/internal/tajweed"
	"github.com/MrWong99/tilawa/pkg/provider/analyzer"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/types"
)

// NamedSTT is a transcription provider together with its config name.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// Providers holds the constructed external providers. Populated by main.go
// via the config registry.
type Providers struct {
	// STT lists transcription providers in preference order. Empty means
	// audio validation is not configured.
	STT []NamedSTT

	// Analyzer is nil when pronunciation analysis is disabled.
	Analyzer analyzer.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics     *observe.Metrics
	source      reference.Source
	store       *reference.Store
	transcriber stt.Provider
	orch        atomic.Pointer[pipeline.Orchestrator]
	mcp         *mcpserver.Server
	handler     http.Handler

	logLevel *slog.LevelVar
	watcher  *config.Watcher
	version  string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithVerseSource injects a reference source instead of opening the one
// named in the config.
func WithVerseSource(src reference.Source) Option {
	return func(a *App) { a.source = src }
}

// WithMetrics injects the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads adjust the level of the installed logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithWatcher attaches a config watcher. Run polls it and applies
// hot-reloadable changes.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It opens the
// reference source, optionally warms the verse cache, builds the
// transcription fallback chain and the orchestrator, and assembles the HTTP
// handler tree.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Reference data ────────────────────────────────────────────────
	if err := a.initReference(ctx); err != nil {
		return nil, fmt.Errorf("app: init reference: %w", err)
	}

	// ── 2. Transcription gateway ─────────────────────────────────────────
	a.initTranscriber()

	// ── 3. Orchestrator ──────────────────────────────────────────────────
	orch, err := a.buildOrchestrator(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build orchestrator: %w", err)
	}
	a.orch.Store(orch)

	// ── 4. Surfaces ──────────────────────────────────────────────────────
	a.mcp = mcpserver.New(func() mcpserver.Service { return a.orch.Load() }, a.store,
		mcpserver.WithMetrics(a.metrics), mcpserver.WithVersion(a.version))
	a.handler = api.NewRouter(
		api.New(func() api.Service { return a.orch.Load() }, a.store),
		api.WithHealth(a.healthHandler()),
		api.WithMetrics(a.metrics),
		api.WithRequestTimeout(cfg.Server.RequestTimeout),
		api.WithMount("/mcp", a.mcp.HTTPHandler()),
	)

	for _, p := range providers.STT {
		if c, ok := p.Provider.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initReference opens the configured source (PostgreSQL wins over a YAML
// file) unless one was injected, and warms the cache when requested.
func (a *App) initReference(ctx context.Context) error {
	if a.source == nil {
		switch {
		case a.cfg.Reference.PostgresDSN != "":
			pg, err := reference.NewPostgresSource(ctx, a.cfg.Reference.PostgresDSN)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			a.source = pg
		case a.cfg.Reference.Path != "":
			y, err := reference.LoadYAMLFile(a.cfg.Reference.Path)
			if err != nil {
				return err
			}
			a.source = y
		default:
			return errors.New("no reference source configured")
		}
	}
	a.store = reference.NewStore(a.source)

	if a.cfg.Reference.Warm {
		n, err := a.store.Warm(ctx)
		if err != nil {
			return err
		}
		slog.Info("reference cache warmed", "verses", n)
	}
	return nil
}

// initTranscriber chains the configured STT providers behind per-provider
// circuit breakers. A single provider still goes through the chain so it
// gets the attempt timeout and breaker.
func (a *App) initTranscriber() {
	if len(a.providers.STT) == 0 {
		slog.Warn("no STT provider configured; audio validation is unavailable")
		return
	}

	rc := a.cfg.Resilience
	fbCfg := resilience.FallbackConfig{
		AttemptTimeout: rc.AttemptTimeout,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   rc.CircuitBreaker.MaxFailures,
			ResetTimeout:  rc.CircuitBreaker.ResetTimeout,
			HalfOpenMax:   rc.CircuitBreaker.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	primary := a.providers.STT[0]
	fb := resilience.NewSTTFallback(primary.Provider, primary.Name, fbCfg,
		resilience.WithAttemptObserver(func(ctx context.Context, provider string, elapsed time.Duration, err error) {
			a.metrics.RecordSTTAttempt(ctx, provider, elapsed.Seconds(), err)
		}))
	for _, p := range a.providers.STT[1:] {
		fb.AddFallback(p.Name, p.Provider)
	}
	a.transcriber = fb
}

// buildOrchestrator creates an orchestrator for the matching and pipeline
// sections of cfg. Providers and reference data are shared across rebuilds.
func (a *App) buildOrchestrator(cfg *config.Config) (*pipeline.Orchestrator, error) {
	reciter, err := types.ParseReciter(cfg.Pipeline.DefaultReciter)
	if err != nil {
		return nil, err
	}
	matcher := tajweed.NewMatcher(tajweed.WithThreshold(cfg.Matching.Threshold))
	aligner := tajweed.NewAligner(matcher, tajweed.Strategy(cfg.Matching.Alignment))

	opts := []pipeline.Option{
		pipeline.WithValidator(tajweed.NewValidator(tajweed.WithAligner(aligner))),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithUnknownVersePolicy(pipeline.UnknownVersePolicy(cfg.Pipeline.UnknownVerse)),
		pipeline.WithDefaultReciter(reciter),
		pipeline.WithAnalyzeTimeout(cfg.Pipeline.AnalyzeTimeout),
	}
	if a.transcriber != nil {
		opts = append(opts, pipeline.WithTranscriber(a.transcriber))
	}
	if a.providers.Analyzer != nil {
		opts = append(opts, pipeline.WithAnalyzer(a.providers.Analyzer))
	}
	return pipeline.New(a.store, opts...), nil
}

// healthHandler probes the reference source (required) and the analyzer
// (optional).
func (a *App) healthHandler() *health.Handler {
	checkers := []health.Checker{{
		Name: "reference",
		Check: func(ctx context.Context) error {
			if p, ok := a.source.(interface{ Ping(context.Context) error }); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	}}
	if an := a.providers.Analyzer; an != nil {
		checkers = append(checkers, health.Checker{
			Name:     "analyzer",
			Optional: true,
			Check: func(ctx context.Context) error {
				if !an.Available(ctx) {
					return errors.New("health probe failed")
				}
				return nil
			},
		})
	}
	return health.New(checkers...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the current orchestrator.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orch.Load() }

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler { return a.handler }

// MCP returns the MCP server.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// Store returns the reference store.
func (a *App) Store() *reference.Store { return a.store }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and next:
// the log level, the matching settings and the pipeline policies. Sections
// that need a restart are logged and ignored.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MatchingChanged || d.PipelineChanged {
		orch, err := a.buildOrchestrator(next)
		if err != nil {
			slog.Error("config reload rejected", "error", err)
			return
		}
		a.orch.Store(orch)
		slog.Info("pipeline reconfigured",
			"alignment", next.Matching.Alignment,
			"threshold", next.Matching.Threshold,
			"unknown_verse", next.Pipeline.UnknownVerse,
		)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Watch(gctx) })
	}
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases providers and the reference source. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
