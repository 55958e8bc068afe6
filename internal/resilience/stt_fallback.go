package resilience

import (
	"context"
	"time"

	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

// AttemptObserver is notified after every provider attempt that was actually
// made (attempts skipped by an open breaker are not reported).
type AttemptObserver func(ctx context.Context, provider string, elapsed time.Duration, err error)

// STTOption configures an [STTFallback].
type STTOption func(*STTFallback)

// WithAttemptObserver installs fn as the attempt observer.
func WithAttemptObserver(fn AttemptObserver) STTOption {
	return func(f *STTFallback) {
		f.observe = fn
	}
}

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker. Backends are tried
// strictly in registration order and the first successful transcript wins.
type STTFallback struct {
	group   *FallbackGroup[stt.Provider]
	observe AttemptObserver
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, opts ...STTOption) *STTFallback {
	f := &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the audio to the first healthy provider. A failed or timed
// out attempt moves on to the next provider; when every provider has failed the
// returned error wraps [ErrAllFailed] and the last provider's error.
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	return ExecuteContext(ctx, f.group, func(ctx context.Context, name string, p stt.Provider) (stt.Transcript, error) {
		start := time.Now()
		t, err := p.Transcribe(ctx, audio)
		if f.observe != nil {
			f.observe(ctx, name, time.Since(start), err)
		}
		return t, err
	})
}

// Providers reports the configured providers and their breaker states in
// preference order.
func (f *STTFallback) Providers() []EntryStatus {
	return f.group.Status()
}
