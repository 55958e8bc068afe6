package tajweed

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tilawa/pkg/types"
)

// Validator turns a transcription and an annotated reference verse into a
// [types.RecitationResult]. It holds no mutable state and is safe for
// concurrent use.
type Validator struct {
	aligner *Aligner
	now     func() time.Time
	newID   func() string
}

// ValidatorOption configures a [Validator].
type ValidatorOption func(*Validator)

// WithAligner sets the aligner used for word comparison.
func WithAligner(a *Aligner) ValidatorOption {
	return func(v *Validator) {
		if a != nil {
			v.aligner = a
		}
	}
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithIDGenerator overrides the result ID source. Intended for tests.
func WithIDGenerator(gen func() string) ValidatorOption {
	return func(v *Validator) { v.newID = gen }
}

// NewValidator returns a [Validator] using positional alignment and the
// default threshold unless overridden.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		aligner: NewAligner(nil, StrategyPositional),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Aligner returns the aligner in use.
func (v *Validator) Aligner() *Aligner { return v.aligner }

// Validate compares transcription against verse. It never fails: a verse
// with empty text yields an empty word list and zero accuracy.
func (v *Validator) Validate(verse types.AnnotatedVerse, transcription string) types.RecitationResult {
	words := v.aligner.Align(verse.Text, transcription)
	violations := detectViolations(verse.Text, words, verse.Annotations)
	return types.RecitationResult{
		ID:             v.newID(),
		Verse:          verse.Verse,
		Transcription:  transcription,
		Words:          words,
		Violations:     violations,
		Scores:         ComputeScores(words, violations, len(verse.Annotations)),
		ReferenceFound: true,
		Timestamp:      v.now(),
	}
}

// NotFound returns the zero-score result reported when no reference data
// exists for ref.
func (v *Validator) NotFound(ref types.VerseReference, transcription string) types.RecitationResult {
	return types.RecitationResult{
		ID:            v.newID(),
		Verse:         ref,
		Transcription: transcription,
		Words:         []types.WordResult{},
		Violations:    []types.Violation{},
		Timestamp:     v.now(),
	}
}
