package types

import "time"

// Severity grades a rule violation.
type Severity string

const (
	// SeverityMinor is reserved for acoustic-level gradation; the text
	// detector never produces it.
	SeverityMinor Severity = "minor"

	// SeverityMajor marks a rule whose carrying word was missing or
	// mispronounced.
	SeverityMajor Severity = "major"
)

// Violation descriptions reported in [Violation.Actual].
const (
	ActualWordMissing   = "Word missing"
	ActualMispronounced = "Mispronounced"
)

// WordResult is the comparison outcome for one reference word.
type WordResult struct {
	// Expected is the reference word as it appears in the canonical text.
	Expected string `json:"expected"`

	// Transcribed is the aligned transcribed word, or nil when the reference
	// word has no counterpart in the transcription.
	Transcribed *string `json:"transcribed"`

	// IsCorrect is true when Transcribed is present and fuzzy-matches Expected.
	IsCorrect bool `json:"isCorrect"`

	// Position is the 1-indexed position of Expected in the reference text.
	Position int `json:"position"`
}

// TranscribedText returns the transcribed word or "" when absent.
func (w WordResult) TranscribedText() string {
	if w.Transcribed == nil {
		return ""
	}
	return *w.Transcribed
}

// Violation is a tajweed rule that could not be confirmed as applied.
type Violation struct {
	Rule     Rule     `json:"rule"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Severity Severity `json:"severity"`
}

// Scores are the integer percentages reported for a recitation. Every field
// lies in [0, 100].
type Scores struct {
	Accuracy          int `json:"accuracy"`
	TajweedCompliance int `json:"tajweedCompliance"`
	Overall           int `json:"overall"`
}

// RecitationResult is the immutable outcome of validating one transcription
// against one verse.
type RecitationResult struct {
	ID            string         `json:"id"`
	Verse         VerseReference `json:"verse"`
	Transcription string         `json:"transcription"`
	Words         []WordResult   `json:"words"`
	Violations    []Violation    `json:"violations"`
	Scores        Scores         `json:"scores"`

	// ReferenceFound is false when no reference data exists for Verse. Such a
	// result carries empty Words and Violations and zero Scores.
	ReferenceFound bool      `json:"referenceFound"`
	Timestamp      time.Time `json:"timestamp"`
}
