package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or was
// skipped by an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup]. CircuitBreaker is the template
// for the per-entry breakers; its Name is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// AttemptTimeout bounds each provider attempt. Zero leaves attempts
	// bounded only by the caller's context.
	AttemptTimeout time.Duration
}

// EntryStatus is a point-in-time snapshot of one entry in a [FallbackGroup].
type EntryStatus struct {
	Name     string
	State    State
	Failures int
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds provider values of one type in preference order, each
// behind its own [CircuitBreaker]. Entries are only added during setup; the
// group is safe for concurrent use afterwards.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first (preferred) entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry with lower preference than all existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cb),
	})
}

// ExecuteContext calls fn for each entry in order until one succeeds and
// returns that result. Entries with an open breaker are skipped. Each attempt
// runs under its own context bounded by [FallbackConfig.AttemptTimeout].
//
// Once ctx is done no further entries are tried and ctx's error is returned.
// When every entry failed the error wraps [ErrAllFailed] and the last
// attempt's error.
func ExecuteContext[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, name string, value T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		e := &fg.entries[i]

		var result R
		err := e.breaker.Execute(func() error {
			actx, cancel := fg.attemptContext(ctx)
			defer cancel()
			var err error
			result, err = fn(actx, e.name, e.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logSkip(ctx, e.name, err)
	}
	if lastErr == nil {
		lastErr = errors.New("no providers")
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func logSkip(ctx context.Context, name string, err error) {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		slog.DebugContext(ctx, "skipping provider (circuit open)", "provider", name)
	case ctx.Err() != nil:
		slog.DebugContext(ctx, "provider attempt abandoned", "provider", name, "error", err)
	default:
		slog.WarnContext(ctx, "provider failed, trying next", "provider", name, "error", err)
	}
}

func (fg *FallbackGroup[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fg.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, fg.cfg.AttemptTimeout)
}

// Status returns every entry's breaker state in preference order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStatus{Name: e.name, State: e.breaker.State(), Failures: e.breaker.Failures()}
	}
	return out
}

// Len returns the number of entries, primary included.
func (fg *FallbackGroup[T]) Len() int {
	return len(fg.entries)
}
