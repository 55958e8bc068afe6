package pipeline

import (
	"errors"
	"fmt"

	"github.com/MrWong99/tilawa/internal/reference"
	"github.com/MrWong99/tilawa/pkg/types"
)

// Error kinds returned by [Kind]. They are stable and safe to expose to API
// clients.
const (
	KindConfiguration       = "configuration"
	KindTranscription       = "transcription"
	KindUnknownVerse        = "unknown_verse"
	KindAnalyzerUnavailable = "analyzer_unavailable"
	KindInvalidInput        = "invalid_input"
	KindReference           = "reference"
	KindInternal            = "internal"
)

// ConfigurationError reports that a capability required by the call is not
// configured (for example no transcription provider).
type ConfigurationError struct {
	Component string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: %s not configured: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("pipeline: %s not configured", e.Component)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Kind implements the kinded error contract.
func (e *ConfigurationError) Kind() string { return KindConfiguration }

// TranscriptionError reports that every transcription provider failed.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("pipeline: transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Kind implements the kinded error contract.
func (e *TranscriptionError) Kind() string { return KindTranscription }

// UnknownVerseError reports a verse with no reference data. It is only
// returned under [UnknownVerseStrict].
type UnknownVerseError struct {
	Verse types.VerseReference
}

func (e *UnknownVerseError) Error() string {
	return fmt.Sprintf("pipeline: no reference data for verse %s", e.Verse)
}

func (e *UnknownVerseError) Unwrap() error { return reference.ErrVerseNotFound }

// Kind implements the kinded error contract.
func (e *UnknownVerseError) Kind() string { return KindUnknownVerse }

// AnalyzerUnavailableError records why pronunciation analysis produced no
// result. FullValidate never returns it; it travels in logs and feeds the
// [types.PronunciationOutcome] reason. Only the direct analyzer queries such
// as ReferenceAudio surface it.
type AnalyzerUnavailableError struct {
	Status types.PronunciationStatus
	Err    error
}

func (e *AnalyzerUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: pronunciation analysis %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("pipeline: pronunciation analysis %s", e.Status)
}

func (e *AnalyzerUnavailableError) Unwrap() error { return e.Err }

// Kind implements the kinded error contract.
func (e *AnalyzerUnavailableError) Kind() string { return KindAnalyzerUnavailable }

// Outcome converts the error into the absent pronunciation outcome it stands for.
func (e *AnalyzerUnavailableError) Outcome() types.PronunciationOutcome {
	reason := ""
	if e.Err != nil {
		reason = e.Err.Error()
	}
	return types.Absent(e.Status, reason)
}

// InvalidInputError reports a malformed request field.
type InvalidInputError struct {
	Field string
	Err   error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("pipeline: invalid %s: %v", e.Field, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// Kind implements the kinded error contract.
func (e *InvalidInputError) Kind() string { return KindInvalidInput }

// ReferenceError reports that the reference store could not be consulted
// (as opposed to a verse it does not hold).
type ReferenceError struct {
	Err error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("pipeline: reference lookup: %v", e.Err)
}

func (e *ReferenceError) Unwrap() error { return e.Err }

// Kind implements the kinded error contract.
func (e *ReferenceError) Kind() string { return KindReference }

// Kind returns the discriminant of the first kinded error in err's chain, or
// [KindInternal] when there is none.
func Kind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}
