package tajweed

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the minimum similarity for two words to match.
const DefaultThreshold = 0.7

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithThreshold sets the minimum similarity in [0, 1] required for a match.
// Default: 0.7.
func WithThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// Matcher decides whether a transcribed word is an acceptable rendition of a
// reference word. It is read-only after construction and safe for concurrent
// use.
type Matcher struct {
	threshold float64
}

// NewMatcher returns a [Matcher] configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{threshold: DefaultThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold returns the configured similarity threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match reports whether actual is close enough to expected.
func (m *Matcher) Match(expected, actual string) bool {
	return WordsMatch(expected, actual, m.threshold)
}

// WordsMatch reports whether the normalised forms of expected and actual have
// a similarity of at least threshold.
func WordsMatch(expected, actual string, threshold float64) bool {
	return Similarity(expected, actual) >= threshold
}

// Similarity returns 1 - d/max(len(a), len(b)) where d is the Levenshtein
// distance between the normalised words, measured in codepoints. Two words
// that normalise to the same string (including two empty words) have
// similarity 1.
func Similarity(a, b string) float64 {
	na, nb := NormalizeWord(a), NormalizeWord(b)
	if na == nb {
		return 1
	}
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	d := matchr.Levenshtein(na, nb)
	return 1 - float64(d)/float64(longest)
}
