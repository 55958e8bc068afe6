package tajweed

import (
	"math"

	"github.com/MrWong99/tilawa/pkg/types"
)

// Score weights for the overall score.
const (
	AccuracyWeight   = 0.6
	ComplianceWeight = 0.4
)

// ComputeScores derives the integer scores for a validation. Rounding is half
// away from zero. A verse without annotations is fully compliant, and an
// empty word list has zero accuracy.
func ComputeScores(words []types.WordResult, violations []types.Violation, totalAnnotations int) types.Scores {
	accuracy := 0
	if len(words) > 0 {
		correct := 0
		for _, w := range words {
			if w.IsCorrect {
				correct++
			}
		}
		accuracy = percent(correct, len(words))
	}

	compliance := 100
	if totalAnnotations > 0 {
		compliance = percent(totalAnnotations-len(violations), totalAnnotations)
	}

	return types.Scores{
		Accuracy:          accuracy,
		TajweedCompliance: compliance,
		Overall:           clamp(int(math.Round(AccuracyWeight*float64(accuracy) + ComplianceWeight*float64(compliance)))),
	}
}

func percent(n, total int) int {
	return clamp(int(math.Round(100 * float64(n) / float64(total))))
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}
