package types

// SegmentFeedback is the analyzer's feedback for one time slice of the
// recitation.
type SegmentFeedback struct {
	StartTime    float64  `json:"startTime"`
	EndTime      float64  `json:"endTime"`
	MakhrajScore float64  `json:"makhrajScore"`
	TimingScore  float64  `json:"timingScore"`
	OverallScore float64  `json:"overallScore"`
	Issues       []string `json:"issues"`
}

// WordFeedback is the analyzer's feedback for one word of the verse, located
// in the user's audio.
type WordFeedback struct {
	WordIndex    int      `json:"wordIndex"`
	Text         string   `json:"text"`
	StartTime    float64  `json:"startTime"`
	EndTime      float64  `json:"endTime"`
	MakhrajScore float64  `json:"makhrajScore"`
	TimingScore  float64  `json:"timingScore"`
	OverallScore float64  `json:"overallScore"`
	Issues       []string `json:"issues"`
}

// PronunciationAnalysis is the acoustic comparison produced by the external
// pronunciation analyzer. Scores are floats in [0, 100].
type PronunciationAnalysis struct {
	OverallScore float64           `json:"overallScore"`
	MakhrajScore float64           `json:"makhrajScore"`
	TimingScore  float64           `json:"timingScore"`
	FluencyScore float64           `json:"fluencyScore"`
	Segments     []SegmentFeedback `json:"segments"`
	Words        []WordFeedback    `json:"words"`
	Summary      string            `json:"summary"`
}

// PronunciationStatus discriminates why a [PronunciationOutcome] does or does
// not carry an analysis.
type PronunciationStatus string

const (
	PronunciationAnalyzed      PronunciationStatus = "analyzed"
	PronunciationNotRequested  PronunciationStatus = "not_requested"
	PronunciationNotConfigured PronunciationStatus = "not_configured"
	PronunciationUnavailable   PronunciationStatus = "unavailable"
	PronunciationFailed        PronunciationStatus = "failed"
)

// PronunciationOutcome is the optional pronunciation stage result. Analysis
// is non-nil if and only if Status is [PronunciationAnalyzed]; every other
// status is an expected outcome, not an error.
type PronunciationOutcome struct {
	Status   PronunciationStatus    `json:"status"`
	Analysis *PronunciationAnalysis `json:"analysis,omitempty"`

	// Reason is a human-readable cause for the unavailable and failed states.
	Reason string `json:"reason,omitempty"`
}

// Analyzed wraps a successful analysis.
func Analyzed(a PronunciationAnalysis) PronunciationOutcome {
	return PronunciationOutcome{Status: PronunciationAnalyzed, Analysis: &a}
}

// Absent builds an outcome without analysis. Passing [PronunciationAnalyzed]
// is a programming error and is downgraded to [PronunciationFailed].
func Absent(status PronunciationStatus, reason string) PronunciationOutcome {
	if status == PronunciationAnalyzed {
		status = PronunciationFailed
	}
	return PronunciationOutcome{Status: status, Reason: reason}
}

// Present reports whether an analysis is available.
func (o PronunciationOutcome) Present() bool {
	return o.Status == PronunciationAnalyzed && o.Analysis != nil
}

// FullValidationResult combines the text-based recitation result with the
// optional pronunciation analysis.
type FullValidationResult struct {
	Transcription RecitationResult     `json:"transcription"`
	Pronunciation PronunciationOutcome `json:"pronunciation"`
}
