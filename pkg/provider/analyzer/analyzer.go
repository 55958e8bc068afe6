// Package analyzer defines the Provider interface for pronunciation analysis
// backends.
//
// An analyzer compares a recorded recitation against a reference reciter's
// recording of the same verse and reports articulation (makhraj), timing and
// fluency scores. Analysis is an optional enrichment: callers must treat every
// error as "no analysis" rather than as a failure of the whole validation.
//
// Implementations must be safe for concurrent use.
package analyzer

import (
	"context"
	"errors"

	"github.com/MrWong99/tilawa/pkg/types"
)

// ErrNoReference is returned by Analyze when the backend has no reference
// recording for the requested verse and reciter.
var ErrNoReference = errors.New("analyzer: reference audio not found")

// Request is one pronunciation analysis request.
type Request struct {
	// Audio is the raw recording in any container the backend can decode.
	Audio []byte

	Verse   types.VerseReference
	Reciter types.Reciter
}

// Provider is the abstraction over any pronunciation analysis backend.
type Provider interface {
	// Analyze scores the recitation in req against the reference recording.
	Analyze(ctx context.Context, req Request) (types.PronunciationAnalysis, error)

	// Available reports whether the backend is reachable and healthy. It is
	// consulted before Analyze and must return promptly.
	Available(ctx context.Context) bool
}

// ReferenceChecker is implemented by backends that can report whether they
// hold a reference recording before any audio is uploaded.
type ReferenceChecker interface {
	ReferenceAvailable(ctx context.Context, verse types.VerseReference, reciter types.Reciter) (bool, error)
}
