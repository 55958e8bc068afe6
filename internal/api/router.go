package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/tilawa/internal/health"
	"github.com/MrWong99/tilawa/internal/observe"
)

// RouterOption configures [NewRouter].
type RouterOption func(*routerConfig)

type routerConfig struct {
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	requestTimeout time.Duration
	mounts         map[string]http.Handler
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) RouterOption {
	return func(c *routerConfig) { c.health = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) RouterOption {
	return func(c *routerConfig) { c.metrics = m }
}

// WithMetricsHandler replaces the default Prometheus /metrics handler.
// Passing nil disables the endpoint.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(c *routerConfig) { c.metricsHandler = h }
}

// WithRequestTimeout bounds /v1 requests. Zero disables the timeout.
func WithRequestTimeout(d time.Duration) RouterOption {
	return func(c *routerConfig) { c.requestTimeout = d }
}

// WithMount serves h below pattern (e.g. the MCP endpoint at "/mcp"). Mounted
// handlers are not subject to the request timeout.
func WithMount(pattern string, h http.Handler) RouterOption {
	return func(c *routerConfig) { c.mounts[pattern] = h }
}

// NewRouter builds the HTTP handler tree: request IDs, panic recovery and
// telemetry on every route, the /v1 API, probes, /metrics and any mounts.
func NewRouter(h *Handler, opts ...RouterOption) http.Handler {
	cfg := &routerConfig{
		metricsHandler: promhttp.Handler(),
		mounts:         make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(cfg.metrics))

	if cfg.health != nil {
		cfg.health.Register(r)
	}
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}
	for pattern, mh := range cfg.mounts {
		r.Mount(pattern, mh)
	}

	r.Group(func(r chi.Router) {
		if cfg.requestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.requestTimeout))
		}
		h.Register(r)
	})
	return r
}
