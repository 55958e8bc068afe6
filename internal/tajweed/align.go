package tajweed

import (
	"strings"

	"github.com/MrWong99/tilawa/pkg/types"
)

// Strategy selects how transcribed words are paired with reference words.
type Strategy string

const (
	// StrategyPositional pairs the i-th reference word with the i-th
	// transcribed word. A single inserted or dropped word shifts every later
	// pairing; this is the historical behaviour and the default.
	StrategyPositional Strategy = "positional"

	// StrategySequence computes a word-level edit-distance alignment so that
	// insertions and deletions do not cause positional drift.
	StrategySequence Strategy = "sequence"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyPositional || s == StrategySequence
}

// SplitWords splits text on runs of whitespace, discarding empty tokens.
func SplitWords(text string) []string {
	return strings.Fields(text)
}

// Aligner pairs reference words with transcribed words. It is read-only after
// construction and safe for concurrent use.
type Aligner struct {
	matcher  *Matcher
	strategy Strategy
}

// NewAligner returns an [Aligner]. A nil matcher uses [NewMatcher] defaults
// and an unrecognised strategy falls back to [StrategyPositional].
func NewAligner(matcher *Matcher, strategy Strategy) *Aligner {
	if matcher == nil {
		matcher = NewMatcher()
	}
	if !strategy.IsValid() {
		strategy = StrategyPositional
	}
	return &Aligner{matcher: matcher, strategy: strategy}
}

// Strategy returns the configured alignment strategy.
func (a *Aligner) Strategy() Strategy { return a.strategy }

// Align returns exactly one [types.WordResult] per reference word, in
// reference order with 1-indexed positions. Reference words without a
// transcribed counterpart have a nil Transcribed field. Align never fails and
// returns an empty slice for an empty reference.
func (a *Aligner) Align(reference, transcribed string) []types.WordResult {
	return a.alignWords(SplitWords(reference), SplitWords(transcribed))
}

func (a *Aligner) alignWords(ref, hyp []string) []types.WordResult {
	if a.strategy == StrategySequence {
		return a.alignSequence(ref, hyp)
	}
	return a.alignPositional(ref, hyp)
}

func (a *Aligner) alignPositional(ref, hyp []string) []types.WordResult {
	out := make([]types.WordResult, len(ref))
	for i, expected := range ref {
		out[i] = types.WordResult{Expected: expected, Position: i + 1}
		if i < len(hyp) {
			actual := hyp[i]
			out[i].Transcribed = &actual
			out[i].IsCorrect = a.matcher.Match(expected, actual)
		}
	}
	return out
}

// alignSequence runs a word-level Needleman–Wunsch alignment with unit costs:
// a matching pair costs 0, a substitution, an insertion or a deletion costs 1.
// On ties the traceback prefers pairing, then dropping a reference word.
// Extra transcribed words are discarded.
func (a *Aligner) alignSequence(ref, hyp []string) []types.WordResult {
	m, n := len(ref), len(hyp)

	match := make([][]bool, m)
	for i := range ref {
		match[i] = make([]bool, n)
		for j := range hyp {
			match[i][j] = a.matcher.Match(ref[i], hyp[j])
		}
	}

	cost := make([][]int, m+1)
	for i := range cost {
		cost[i] = make([]int, n+1)
		cost[i][0] = i
	}
	for j := 0; j <= n; j++ {
		cost[0][j] = j
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			sub := 1
			if match[i-1][j-1] {
				sub = 0
			}
			cost[i][j] = min(
				cost[i-1][j-1]+sub,
				cost[i-1][j]+1,
				cost[i][j-1]+1,
			)
		}
	}

	out := make([]types.WordResult, m)
	i, j := m, n
	for i > 0 {
		out[i-1] = types.WordResult{Expected: ref[i-1], Position: i}
		if j > 0 {
			sub := 1
			if match[i-1][j-1] {
				sub = 0
			}
			if cost[i][j] == cost[i-1][j-1]+sub {
				actual := hyp[j-1]
				out[i-1].Transcribed = &actual
				out[i-1].IsCorrect = sub == 0
				i--
				j--
				continue
			}
			if cost[i][j] != cost[i-1][j]+1 {
				// Extra transcribed word.
				j--
				continue
			}
		}
		i--
	}
	return out
}
