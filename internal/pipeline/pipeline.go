// Package pipeline orchestrates a recitation validation: transcription
// through the provider fallback chain, text validation against the reference
// verse and the optional pronunciation analysis.
//
// Only transcription is mandatory. The pronunciation stage degrades to an
// absent [types.PronunciationOutcome] whenever the analyzer is not configured,
// unreachable, slow or failing, and never aborts the call.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/reference"
	"github.com/MrWong99/tilawa/internal/resilience"
	"github.com/MrWong99/tilawa/internal/tajweed"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/analyzer"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/types"
)

// UnknownVersePolicy selects how a verse without reference data is reported.
type UnknownVersePolicy string

const (
	// UnknownVerseSoft returns a zero-score result with no words and no
	// violations.
	UnknownVerseSoft UnknownVersePolicy = "soft"

	// UnknownVerseStrict fails with *UnknownVerseError.
	UnknownVerseStrict UnknownVersePolicy = "strict"
)

// IsValid reports whether p is a known policy.
func (p UnknownVersePolicy) IsValid() bool {
	return p == UnknownVerseSoft || p == UnknownVerseStrict
}

const defaultAnalyzeTimeout = 60 * time.Second

// VerseSource resolves reference verses. *reference.Store implements it.
type VerseSource interface {
	Verse(ctx context.Context, ref types.VerseReference) (types.AnnotatedVerse, error)
}

// ProviderReporter is implemented by transcribers that can describe their
// underlying providers, such as *resilience.STTFallback.
type ProviderReporter interface {
	Providers() []resilience.EntryStatus
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithTranscriber sets the transcription provider, usually an
// *resilience.STTFallback. Without one FullValidate fails with
// *ConfigurationError.
func WithTranscriber(p stt.Provider) Option {
	return func(o *Orchestrator) { o.stt = p }
}

// WithAnalyzer sets the optional pronunciation analyzer.
func WithAnalyzer(a analyzer.Provider) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

// WithValidator replaces the default text validator.
func WithValidator(v *tajweed.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithUnknownVersePolicy selects the unknown verse policy. Invalid values
// fall back to [UnknownVerseSoft].
func WithUnknownVersePolicy(p UnknownVersePolicy) Option {
	return func(o *Orchestrator) { o.unknownVerse = p }
}

// WithDefaultReciter sets the reciter used when a request names none.
func WithDefaultReciter(r types.Reciter) Option {
	return func(o *Orchestrator) { o.defaultReciter = r }
}

// WithAnalyzeTimeout bounds the pronunciation stage. Defaults to 60 s.
// Non-positive values are ignored.
func WithAnalyzeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.analyzeTimeout = d
		}
	}
}

// Orchestrator runs validations. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	verses         VerseSource
	validator      *tajweed.Validator
	stt            stt.Provider
	analyzer       analyzer.Provider
	metrics        *observe.Metrics
	unknownVerse   UnknownVersePolicy
	defaultReciter types.Reciter
	analyzeTimeout time.Duration
}

// New creates an Orchestrator reading reference data from verses.
func New(verses VerseSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		verses:         verses,
		unknownVerse:   UnknownVerseSoft,
		defaultReciter: types.DefaultReciter,
		analyzeTimeout: defaultAnalyzeTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.validator == nil {
		o.validator = tajweed.NewValidator()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if !o.unknownVerse.IsValid() {
		o.unknownVerse = UnknownVerseSoft
	}
	if !o.defaultReciter.Valid() {
		o.defaultReciter = types.DefaultReciter
	}
	return o
}

// FullRequest is the input of [Orchestrator.FullValidate].
type FullRequest struct {
	// AudioBase64 is the recording, standard base64 encoded. A data URL
	// ("data:audio/webm;base64,...") is accepted and its media type is used
	// when MIMEType is empty.
	AudioBase64 string

	// Audio is the raw recording. It takes precedence over AudioBase64.
	Audio []byte

	// MIMEType of the recording. Sniffed from the content when empty.
	MIMEType string

	Verse types.VerseReference

	// Reciter is the reference qari identifier. Empty selects the default.
	Reciter string

	// SkipAnalysis disables the pronunciation stage.
	SkipAnalysis bool
}

// ProviderStatus describes one configured transcription provider.
type ProviderStatus struct {
	Name     string `json:"name"`
	Circuit  string `json:"circuit"`
	Failures int    `json:"failures"`
}

// Status is the capability probe result.
type Status struct {
	ASRConfigured     bool             `json:"asrConfigured"`
	AnalyzerAvailable bool             `json:"analyzerAvailable"`
	Providers         []ProviderStatus `json:"providers"`
}

// ValidateText validates a transcription against the reference verse without
// touching any external service.
func (o *Orchestrator) ValidateText(ctx context.Context, transcription string, ref types.VerseReference) (types.RecitationResult, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.validate_text",
		trace.WithAttributes(attribute.String("verse", ref.Key())))
	defer span.End()

	res, err := o.validate(ctx, transcription, ref)
	o.metrics.RecordValidation(ctx, "text", outcome(err), time.Since(start).Seconds(), res.Scores.Overall, res.ReferenceFound)
	if err != nil {
		fail(span, err)
	}
	return res, err
}

// FullValidate transcribes the recording, validates the transcription and,
// unless skipped, attaches the pronunciation analysis. It fails only when the
// request is malformed, transcription is unavailable or the reference data
// cannot be consulted.
func (o *Orchestrator) FullValidate(ctx context.Context, req FullRequest) (types.FullValidationResult, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.full_validate",
		trace.WithAttributes(attribute.String("verse", req.Verse.Key())))
	defer span.End()

	o.metrics.InFlightValidations.Add(ctx, 1)
	defer o.metrics.InFlightValidations.Add(ctx, -1)

	res, err := o.fullValidate(ctx, req)
	o.metrics.RecordValidation(ctx, "full", outcome(err), time.Since(start).Seconds(),
		res.Transcription.Scores.Overall, err == nil && res.Transcription.ReferenceFound)
	if err != nil {
		fail(span, err)
		return types.FullValidationResult{}, err
	}
	o.metrics.RecordPronunciation(ctx, string(res.Pronunciation.Status))
	span.SetAttributes(attribute.String("pronunciation", string(res.Pronunciation.Status)))
	return res, nil
}

func (o *Orchestrator) fullValidate(ctx context.Context, req FullRequest) (types.FullValidationResult, error) {
	if o.stt == nil {
		return types.FullValidationResult{}, &ConfigurationError{Component: "transcription", Err: errors.New("no speech-to-text provider")}
	}

	data, mime, err := decodeAudio(req)
	if err != nil {
		return types.FullValidationResult{}, err
	}
	reciter := o.defaultReciter
	if req.Reciter != "" {
		if reciter, err = types.ParseReciter(req.Reciter); err != nil {
			return types.FullValidationResult{}, &InvalidInputError{Field: "reciter", Err: err}
		}
	}

	// The analyzer health probe overlaps with transcription. Its result is
	// only consumed after the text stage completes.
	wantAnalysis := !req.SkipAnalysis && o.analyzer != nil
	var (
		transcript stt.Transcript
		available  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	if wantAnalysis {
		g.Go(func() error {
			available = o.analyzer.Available(gctx)
			return nil
		})
	}
	g.Go(func() error {
		var err error
		transcript, err = o.transcribe(gctx, stt.Audio{Data: data, MIMEType: mime})
		return err
	})
	if err := g.Wait(); err != nil {
		return types.FullValidationResult{}, err
	}

	result, err := o.validate(ctx, transcript.Text, req.Verse)
	if err != nil {
		return types.FullValidationResult{}, err
	}

	var pron types.PronunciationOutcome
	switch {
	case req.SkipAnalysis:
		pron = types.Absent(types.PronunciationNotRequested, "")
	case o.analyzer == nil:
		pron = types.Absent(types.PronunciationNotConfigured, "")
	case !available:
		pron = o.degrade(ctx, &AnalyzerUnavailableError{
			Status: types.PronunciationUnavailable,
			Err:    errors.New("analyzer health check failed"),
		})
	default:
		pron = o.analyze(ctx, analyzer.Request{Audio: data, Verse: req.Verse, Reciter: reciter})
	}

	return types.FullValidationResult{Transcription: result, Pronunciation: pron}, nil
}

// transcribe runs the mandatory stage. Any failure, including cancellation,
// is a *TranscriptionError.
func (o *Orchestrator) transcribe(ctx context.Context, a stt.Audio) (stt.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe",
		trace.WithAttributes(
			attribute.String("mime_type", a.MIMEType),
			attribute.Int("audio_bytes", len(a.Data)),
		))
	defer span.End()

	t, err := o.stt.Transcribe(ctx, a)
	if err != nil {
		err = &TranscriptionError{Err: err}
		fail(span, err)
		return stt.Transcript{}, err
	}
	span.SetAttributes(attribute.Int("transcript_runes", len([]rune(t.Text))))
	return t, nil
}

func (o *Orchestrator) validate(ctx context.Context, transcription string, ref types.VerseReference) (types.RecitationResult, error) {
	verse, err := o.verses.Verse(ctx, ref)
	switch {
	case errors.Is(err, reference.ErrVerseNotFound):
		if o.unknownVerse == UnknownVerseStrict {
			return types.RecitationResult{}, &UnknownVerseError{Verse: ref}
		}
		observe.Logger(ctx).InfoContext(ctx, "no reference data for verse, returning zero scores", "verse", ref.Key())
		return o.validator.NotFound(ref, transcription), nil
	case err != nil:
		return types.RecitationResult{}, &ReferenceError{Err: err}
	}
	return o.validator.Validate(verse, transcription), nil
}

// analyze runs the best-effort pronunciation stage.
func (o *Orchestrator) analyze(ctx context.Context, req analyzer.Request) types.PronunciationOutcome {
	ctx, span := observe.StartSpan(ctx, "pipeline.analyze",
		trace.WithAttributes(attribute.String("reciter", string(req.Reciter))))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, o.analyzeTimeout)
	defer cancel()

	start := time.Now()
	a, err := o.analyzer.Analyze(actx, req)
	o.metrics.AnalyzerDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, "analyzer", "analyzer", "error")
		o.metrics.RecordProviderError(ctx, "analyzer", "analyzer")
		status := types.PronunciationFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = types.PronunciationUnavailable
		}
		span.RecordError(err)
		return o.degrade(ctx, &AnalyzerUnavailableError{Status: status, Err: err})
	}
	o.metrics.RecordProviderRequest(ctx, "analyzer", "analyzer", "ok")
	return types.Analyzed(a)
}

func (o *Orchestrator) degrade(ctx context.Context, err *AnalyzerUnavailableError) types.PronunciationOutcome {
	observe.Logger(ctx).WarnContext(ctx, "pronunciation analysis skipped",
		"status", string(err.Status), "error", err)
	return err.Outcome()
}

// ReferenceAudio is the result of [Orchestrator.ReferenceAudio].
type ReferenceAudio struct {
	Verse     string        `json:"verse"`
	Reciter   types.Reciter `json:"reciter"`
	Available bool          `json:"available"`
}

// ReferenceAudio asks the analyzer whether it holds a reference recording of
// ref by reciter. An empty reciter selects the default one.
func (o *Orchestrator) ReferenceAudio(ctx context.Context, ref types.VerseReference, reciter string) (ReferenceAudio, error) {
	if err := ref.Validate(); err != nil {
		return ReferenceAudio{}, &UnknownVerseError{Verse: ref}
	}
	r := o.defaultReciter
	if reciter != "" {
		var err error
		if r, err = types.ParseReciter(reciter); err != nil {
			return ReferenceAudio{}, &InvalidInputError{Field: "reciter", Err: err}
		}
	}
	if o.analyzer == nil {
		return ReferenceAudio{}, &ConfigurationError{Component: "analyzer", Err: errors.New("no pronunciation analyzer")}
	}
	rc, ok := o.analyzer.(analyzer.ReferenceChecker)
	if !ok {
		return ReferenceAudio{}, &ConfigurationError{Component: "analyzer", Err: errors.New("analyzer cannot report reference audio")}
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.reference_audio",
		trace.WithAttributes(attribute.String("verse", ref.Key()), attribute.String("reciter", string(r))))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, o.analyzeTimeout)
	defer cancel()
	avail, err := rc.ReferenceAvailable(actx, ref, r)
	if err != nil {
		err = &AnalyzerUnavailableError{Status: types.PronunciationUnavailable, Err: err}
		fail(span, err)
		return ReferenceAudio{}, err
	}
	return ReferenceAudio{Verse: ref.Key(), Reciter: r, Available: avail}, nil
}

// Status reports which capabilities are usable right now. The analyzer is
// probed live.
func (o *Orchestrator) Status(ctx context.Context) Status {
	s := Status{
		ASRConfigured: o.stt != nil,
		Providers:     []ProviderStatus{},
	}
	if o.analyzer != nil {
		s.AnalyzerAvailable = o.analyzer.Available(ctx)
	}
	if r, ok := o.stt.(ProviderReporter); ok {
		for _, e := range r.Providers() {
			s.Providers = append(s.Providers, ProviderStatus{Name: e.Name, Circuit: e.State.String(), Failures: e.Failures})
		}
	}
	return s
}

// decodeAudio resolves the request's recording and MIME type.
func decodeAudio(req FullRequest) ([]byte, string, error) {
	data, mime := req.Audio, req.MIMEType
	if len(data) == 0 {
		payload := strings.TrimSpace(req.AudioBase64)
		if rest, ok := strings.CutPrefix(payload, "data:"); ok {
			header, body, found := strings.Cut(rest, ",")
			if !found || !strings.HasSuffix(header, ";base64") {
				return nil, "", &InvalidInputError{Field: "audio", Err: errors.New("data URL is not base64 encoded")}
			}
			if mime == "" {
				mime = strings.TrimSuffix(header, ";base64")
			}
			payload = body
		}
		var err error
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", &InvalidInputError{Field: "audio", Err: fmt.Errorf("decode base64: %w", err)}
		}
	}
	if len(data) == 0 {
		return nil, "", &InvalidInputError{Field: "audio", Err: stt.ErrEmptyAudio}
	}

	if mime = audio.CanonicalMIMEType(mime); mime == "" {
		mime = audio.DetectMIMEType(data)
	}
	return data, mime, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return Kind(err)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
