// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across calls; each call gets its own inference context.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint

	// sem bounds concurrent inferences, each of which holds a full
	// whisper context in memory.
	sem chan struct{}

	closeOnce sync.Once
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription. Defaults to
// "ar".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads per inference. Zero keeps
// the whisper.cpp default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithNativeConcurrency sets how many inferences may run at once. Defaults
// to 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		sem:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (p *NativeProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.model != nil {
			err = p.model.Close()
		}
	})
	return err
}

// Transcribe implements stt.Provider. Only WAV input is accepted; it is
// downmixed and resampled to 16 kHz mono before inference. Inference itself
// cannot be interrupted, so ctx is only honoured while waiting for a free
// slot.
func (p *NativeProvider) Transcribe(ctx context.Context, a stt.Audio) (stt.Transcript, error) {
	if err := a.Validate(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if !audio.IsWAV(a.Data) {
		return stt.Transcript{}, fmt.Errorf("whisper: %w: native provider requires WAV, got %q", stt.ErrUnsupportedFormat, a.MIMEType)
	}
	clip, err := audio.DecodeWAV(a.Data)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w: %w", stt.ErrUnsupportedFormat, err)
	}
	clip = audio.Convert(clip, audio.SpeechFormat)

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("whisper: waiting for inference slot: %w", ctx.Err())
	}

	text, err := p.infer(audio.Float32(clip.Data))
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: p.language, Duration: clip.Duration()}, nil
}

// infer runs whisper.cpp inference on 16 kHz mono samples using a fresh
// context and returns the concatenated segment text.
func (p *NativeProvider) infer(samples []float32) (string, error) {
	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	slog.Debug("whisper native inference done", "samples", len(samples), "elapsed", time.Since(start))
	return strings.Join(parts, " "), nil
}
