// Package api exposes the validation pipeline as a JSON REST API.
//
// Routes:
//
//	POST /v1/validate/text       {transcription, surah, ayah} -> RecitationResult
//	POST /v1/validate            {audioBase64, mimeType, surah, ayah, reciter, analyze} -> FullValidationResult
//	GET  /v1/status              -> capability status
//	GET  /v1/verses/{surah}/{ayah} -> AnnotatedVerse
//	GET  /v1/verses/{surah}/{ayah}/reference?reciter= -> reference audio availability
//
// Every error response is {"error": kind, "message": text} where kind is one
// of the pipeline error kinds.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/pipeline"
	"github.com/MrWong99/tilawa/internal/reference"
	"github.com/MrWong99/tilawa/pkg/types"
)

// maxBodyBytes bounds request bodies. Base64 audio of a long verse stays well
// below this.
const maxBodyBytes = 32 << 20

// Service is the pipeline surface the API calls into.
type Service interface {
	ValidateText(ctx context.Context, transcription string, ref types.VerseReference) (types.RecitationResult, error)
	FullValidate(ctx context.Context, req pipeline.FullRequest) (types.FullValidationResult, error)
	Status(ctx context.Context) pipeline.Status
	ReferenceAudio(ctx context.Context, ref types.VerseReference, reciter string) (pipeline.ReferenceAudio, error)
}

// VerseLookup serves reference verses. [reference.Store] implements it.
type VerseLookup interface {
	Verse(ctx context.Context, ref types.VerseReference) (types.AnnotatedVerse, error)
}

var _ Service = (*pipeline.Orchestrator)(nil)

// Handler wires the REST endpoints to the pipeline.
type Handler struct {
	service func() Service
	verses  VerseLookup
}

// New creates a Handler. service is called once per request so the
// orchestrator can be swapped on config reload.
func New(service func() Service, verses VerseLookup) *Handler {
	return &Handler{service: service, verses: verses}
}

// Register mounts the /v1 routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/validate/text", h.HandleValidateText)
		r.Post("/validate", h.HandleValidate)
		r.Get("/status", h.HandleStatus)
		r.Get("/verses/{surah}/{ayah}", h.HandleVerse)
		r.Get("/verses/{surah}/{ayah}/reference", h.HandleReferenceAudio)
	})
}

// TextRequest is the body of POST /v1/validate/text.
type TextRequest struct {
	Transcription string `json:"transcription"`
	Surah         int    `json:"surah"`
	Ayah          int    `json:"ayah"`
}

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	AudioBase64 string `json:"audioBase64"`
	MIMEType    string `json:"mimeType,omitempty"`
	Surah       int    `json:"surah"`
	Ayah        int    `json:"ayah"`
	Reciter     string `json:"reciter,omitempty"`

	// Analyze requests pronunciation analysis. Default: true.
	Analyze *bool `json:"analyze,omitempty"`
}

// HandleValidateText handles POST /v1/validate/text.
func (h *Handler) HandleValidateText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decode[TextRequest](w, r)
	if !ok {
		return
	}

	ref := types.VerseReference{Surah: req.Surah, Ayah: req.Ayah}
	res, err := h.service().ValidateText(ctx, req.Transcription, ref)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleValidate handles POST /v1/validate.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := decode[ValidateRequest](w, r)
	if !ok {
		return
	}
	if req.AudioBase64 == "" {
		writeError(ctx, w, &pipeline.InvalidInputError{Field: "audioBase64", Err: errors.New("required")})
		return
	}

	ref := types.VerseReference{Surah: req.Surah, Ayah: req.Ayah}
	res, err := h.service().FullValidate(ctx, pipeline.FullRequest{
		AudioBase64:  req.AudioBase64,
		MIMEType:     req.MIMEType,
		Verse:        ref,
		Reciter:      req.Reciter,
		SkipAnalysis: req.Analyze != nil && !*req.Analyze,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	observe.Logger(ctx).InfoContext(ctx, "recitation validated",
		"verse", ref.Key(),
		"overall", res.Transcription.Scores.Overall,
		"pronunciation", string(res.Pronunciation.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, res)
}

// HandleStatus handles GET /v1/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service().Status(r.Context()))
}

// HandleVerse handles GET /v1/verses/{surah}/{ayah}.
func (h *Handler) HandleVerse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := verseParam(w, r)
	if !ok {
		return
	}
	if err := ref.Validate(); err != nil {
		writeError(ctx, w, &pipeline.UnknownVerseError{Verse: ref})
		return
	}
	v, err := h.verses.Verse(ctx, ref)
	if err != nil {
		writeError(ctx, w, verseError(ref, err))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleReferenceAudio handles GET /v1/verses/{surah}/{ayah}/reference.
func (h *Handler) HandleReferenceAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := verseParam(w, r)
	if !ok {
		return
	}
	res, err := h.service().ReferenceAudio(ctx, ref, r.URL.Query().Get("reciter"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func verseParam(w http.ResponseWriter, r *http.Request) (types.VerseReference, bool) {
	surah, err1 := strconv.Atoi(chi.URLParam(r, "surah"))
	ayah, err2 := strconv.Atoi(chi.URLParam(r, "ayah"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(r.Context(), w, &pipeline.InvalidInputError{Field: "verse", Err: err})
		return types.VerseReference{}, false
	}
	return types.VerseReference{Surah: surah, Ayah: ayah}, true
}

func verseError(ref types.VerseReference, err error) error {
	if errors.Is(err, reference.ErrVerseNotFound) {
		return &pipeline.UnknownVerseError{Verse: ref}
	}
	return &pipeline.ReferenceError{Err: err}
}

// decode reads a JSON body of type T. On failure it writes a 400 and returns
// false.
func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		writeError(r.Context(), w, &pipeline.InvalidInputError{Field: "body", Err: fmt.Errorf("decode json: %w", err)})
		return v, false
	}
	return v, true
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusFor maps pipeline error kinds to HTTP status codes.
func statusFor(kind string) int {
	switch kind {
	case pipeline.KindInvalidInput:
		return http.StatusBadRequest
	case pipeline.KindUnknownVerse:
		return http.StatusNotFound
	case pipeline.KindConfiguration, pipeline.KindReference, pipeline.KindAnalyzerUnavailable:
		return http.StatusServiceUnavailable
	case pipeline.KindTranscription:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := pipeline.Kind(err)
	status := statusFor(kind)
	body := errorBody{Error: kind, Message: publicMessage(err, kind)}

	log := observe.Logger(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.InfoContext(ctx, "request cancelled", "error", err)
	case status >= http.StatusInternalServerError:
		log.ErrorContext(ctx, "request failed", "kind", kind, "error", err)
	default:
		log.DebugContext(ctx, "request rejected", "kind", kind, "error", err)
	}
	writeJSON(w, status, body)
}

// publicMessage is the message clients see for err. Only caller mistakes are
// echoed verbatim; upstream failures get a fixed message per kind.
func publicMessage(err error, kind string) string {
	switch kind {
	case pipeline.KindInvalidInput, pipeline.KindUnknownVerse:
		return err.Error()
	case pipeline.KindConfiguration:
		var cfgErr *pipeline.ConfigurationError
		if errors.As(err, &cfgErr) {
			return cfgErr.Component + " is not configured"
		}
		return "service is not configured"
	case pipeline.KindReference:
		return "reference data is unavailable"
	case pipeline.KindTranscription:
		return "speech-to-text failed"
	case pipeline.KindAnalyzerUnavailable:
		return "pronunciation analyzer is unavailable"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "error", err)
	}
}
