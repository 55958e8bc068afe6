package tajweed

import (
	"sort"
	"unicode"

	"github.com/MrWong99/tilawa/pkg/types"
)

// wordSpan is the codepoint range [start, end) of one reference word.
// Separators between words belong to no span.
type wordSpan struct {
	start, end int
}

// wordSpans scans text and returns one span per whitespace-separated word, in
// the same order as [SplitWords].
func wordSpans(text string) []wordSpan {
	var spans []wordSpan
	inWord := false
	pos := 0
	for _, r := range text {
		space := unicode.IsSpace(r)
		switch {
		case !space && !inWord:
			spans = append(spans, wordSpan{start: pos})
		case space && inWord:
			spans[len(spans)-1].end = pos
		}
		inWord = !space
		pos++
	}
	if inWord {
		spans[len(spans)-1].end = pos
	}
	return spans
}

// wordAt returns the index of the span covering offset, or -1.
func wordAt(spans []wordSpan, offset int) int {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].end > offset })
	if i == len(spans) || offset < spans[i].start {
		return -1
	}
	return i
}

// DetectViolations aligns transcribed against reference and reports one
// violation per annotation whose covering reference word was missing or
// mispronounced. Annotations whose start offset falls on a separator or
// outside the text are skipped. The result is ordered like annotations and is never nil.
func (a *Aligner) DetectViolations(reference, transcribed string, annotations []types.RuleAnnotation) []types.Violation {
	return detectViolations(reference, a.Align(reference, transcribed), annotations)
}

// DetectViolations is the package-level form of [Aligner.DetectViolations]
// using positional alignment and the default threshold.
func DetectViolations(reference, transcribed string, annotations []types.RuleAnnotation) []types.Violation {
	return NewAligner(nil, StrategyPositional).DetectViolations(reference, transcribed, annotations)
}

func detectViolations(reference string, words []types.WordResult, annotations []types.RuleAnnotation) []types.Violation {
	spans := wordSpans(reference)
	out := make([]types.Violation, 0, len(annotations))
	for _, ann := range annotations {
		idx := wordAt(spans, ann.Start)
		if idx < 0 || idx >= len(words) {
			continue
		}
		w := words[idx]
		if w.IsCorrect {
			continue
		}
		actual := types.ActualMispronounced
		if w.Transcribed == nil {
			actual = types.ActualWordMissing
		}
		out = append(out, types.Violation{
			Rule:     ann.Rule,
			Expected: ann.Rule.Instruction(),
			Actual:   actual,
			Start:    ann.Start,
			End:      ann.End,
			Severity: types.SeverityMajor,
		})
	}
	return out
}
