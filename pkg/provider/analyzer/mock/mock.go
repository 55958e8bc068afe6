// Package mock provides a test double for [analyzer.Provider].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/tilawa/pkg/provider/analyzer"
	"github.com/MrWong99/tilawa/pkg/types"
)

// Ensure Provider implements analyzer.Provider at compile time.
var (
	_ analyzer.Provider         = (*Provider)(nil)
	_ analyzer.ReferenceChecker = (*Provider)(nil)
)

// Provider is a mock implementation of analyzer.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Analyze when Err is nil.
	Result types.PronunciationAnalysis

	// Err, if non-nil, is returned as the error from Analyze.
	Err error

	// Down makes Available report false.
	Down bool

	// Delay, if positive, makes Analyze wait before returning. Context
	// cancellation cuts the wait short.
	Delay time.Duration

	// AnalyzeCalls records every request passed to Analyze.
	AnalyzeCalls []analyzer.Request

	// AvailableCalls counts calls to Available.
	AvailableCalls int

	// NoReference lists verse keys for which ReferenceAvailable reports false.
	NoReference map[string]bool

	// ReferenceErr, if non-nil, is returned by ReferenceAvailable.
	ReferenceErr error
}

// Analyze records the call and returns the configured result.
func (p *Provider) Analyze(ctx context.Context, req analyzer.Request) (types.PronunciationAnalysis, error) {
	p.mu.Lock()
	p.AnalyzeCalls = append(p.AnalyzeCalls, req)
	res, err, delay := p.Result, p.Err, p.Delay
	p.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return types.PronunciationAnalysis{}, err
	}
	return res, err
}

// Available records the call and reports !Down.
func (p *Provider) Available(ctx context.Context) bool {
	p.mu.Lock()
	p.AvailableCalls++
	down := p.Down
	p.mu.Unlock()

	return !down && ctx.Err() == nil
}

// ReferenceAvailable reports false for verses listed in NoReference.
func (p *Provider) ReferenceAvailable(_ context.Context, verse types.VerseReference, _ types.Reciter) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReferenceErr != nil {
		return false, p.ReferenceErr
	}
	return !p.NoReference[verse.Key()], nil
}

// AnalyzeCount returns the number of recorded Analyze calls. Thread-safe.
func (p *Provider) AnalyzeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.AnalyzeCalls)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
