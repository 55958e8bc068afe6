// Package tajweed compares a transcribed recitation against the canonical text
// of a verse.
//
// The package is pure: it performs no I/O and holds no shared mutable state.
// Its stages build on each other:
//
//  1. [Normalize] folds letter variants and strips diacritics and tatweel.
//  2. [Matcher] decides whether two words are the same under an edit-distance
//     similarity threshold.
//  3. [Aligner] pairs every reference word with a transcribed word.
//  4. [DetectViolations] maps rule annotations onto aligned words.
//  5. [ComputeScores] condenses the outcome into integer percentages.
//
// [Validator] chains all five for a single verse.
package tajweed

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const tatweel = '\u0640'

// letterFolds maps letter variants onto the form used for comparison.
var letterFolds = map[rune]rune{
	'\u0622': '\u0627', // alef with madda above
	'\u0623': '\u0627', // alef with hamza above
	'\u0625': '\u0627', // alef with hamza below
	'\u0671': '\u0627', // alef wasla
	'\u0629': '\u0647', // teh marbuta -> heh
	'\u0649': '\u064A', // alef maksura -> yeh
}

// isDiacritic reports whether r is a haraka (U+064B–U+065F), the superscript
// alef (U+0670) or one of the Quranic annotation marks, including the small
// waw and yeh of Uthmani script.
func isDiacritic(r rune) bool {
	switch {
	case r >= '\u064B' && r <= '\u065F', r == '\u0670':
		return true
	case r >= '\u06D6' && r <= '\u06DC',
		r >= '\u06DF' && r <= '\u06E8',
		r >= '\u06EA' && r <= '\u06ED':
		return true
	}
	return false
}

// Normalize canonicalises text for comparison. Letter variants are always
// folded and tatweel is always removed; diacritics are stripped only when
// removeDiacritics is true. Normalize never fails and is idempotent.
func Normalize(text string, removeDiacritics bool) string {
	out := normalizeOnce(text, removeDiacritics)
	// Folding or stripping can expose a new canonical composition: a bare
	// alef followed by a combining madda, or a base letter whose blocking
	// mark was removed. Every later pass that changes the string shortens
	// it, so the loop terminates.
	for {
		next := normalizeOnce(out, removeDiacritics)
		if next == out {
			return out
		}
		out = next
	}
}

// NormalizeWord is [Normalize] with diacritics removed, the form used for
// word comparison.
func NormalizeWord(word string) string {
	return Normalize(word, true)
}

func normalizeOnce(text string, removeDiacritics bool) string {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == tatweel {
			continue
		}
		if removeDiacritics && isDiacritic(r) {
			continue
		}
		if f, ok := letterFolds[r]; ok {
			r = f
		}
		b.WriteRune(r)
	}
	return b.String()
}
