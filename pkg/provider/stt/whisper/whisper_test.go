package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures the parts of an /inference upload a test cares
// about.
type inferenceRequest struct {
	Filename string
	File     []byte
	Fields   map[string]string
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. Every request is decoded into *last and
// counted in *calls.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, last *inferenceRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if last != nil {
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f, hdr, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			f.Close()
			*last = inferenceRequest{Filename: hdr.Filename, File: data, Fields: map[string]string{}}
			for k, v := range r.MultipartForm.Value {
				last.Fields[k] = v[0]
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeWAV returns a WAV file with n zero-valued samples in the given format.
func makeWAV(n int, f audio.Format) []byte {
	return audio.EncodeWAV(audio.Clip{Data: make([]byte, n*2*f.Channels), Format: f})
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8081",
		whisper.WithModel("large-v3"),
		whisper.WithLanguage("ar"),
		whisper.WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsTrimmedText(t *testing.T) {
	srv := newMockServer(t, "  بسم الله الرحمن الرحيم \n", nil, nil)
	p, _ := whisper.New(srv.URL)

	got, err := p.Transcribe(context.Background(), stt.Audio{Data: makeWAV(1600, audio.SpeechFormat), MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "بسم الله الرحمن الرحيم" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Duration != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", got.Duration)
	}
}

func TestTranscribe_SendsFormFields(t *testing.T) {
	var last inferenceRequest
	srv := newMockServer(t, "x", nil, &last)
	p, _ := whisper.New(srv.URL+"/", whisper.WithModel("small"), whisper.WithLanguage("ar"))

	if _, err := p.Transcribe(context.Background(), stt.Audio{Data: makeWAV(160, audio.SpeechFormat), MIMEType: "audio/x-wav"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if last.Filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", last.Filename)
	}
	for k, want := range map[string]string{"language": "ar", "model": "small", "response_format": "json"} {
		if last.Fields[k] != want {
			t.Errorf("field %s = %q, want %q", k, last.Fields[k], want)
		}
	}
}

func TestTranscribe_ConvertsWAVToSpeechFormat(t *testing.T) {
	var last inferenceRequest
	srv := newMockServer(t, "x", nil, &last)
	p, _ := whisper.New(srv.URL)

	in := makeWAV(4800, audio.Format{SampleRate: 48000, Channels: 2})
	if _, err := p.Transcribe(context.Background(), stt.Audio{Data: in, MIMEType: "audio/wav"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	clip, err := audio.DecodeWAV(last.File)
	if err != nil {
		t.Fatalf("uploaded file is not WAV: %v", err)
	}
	if clip.Format != audio.SpeechFormat {
		t.Errorf("uploaded format = %s, want %s", clip.Format, audio.SpeechFormat)
	}
	if n := len(clip.Data) / 2; n != 1600 {
		t.Errorf("uploaded %d samples, want 1600", n)
	}
}

func TestTranscribe_ForwardsOtherContainers(t *testing.T) {
	var last inferenceRequest
	srv := newMockServer(t, "x", nil, &last)
	p, _ := whisper.New(srv.URL)

	webm := []byte("\x1a\x45\xdf\xa3 pretend webm payload")
	if _, err := p.Transcribe(context.Background(), stt.Audio{Data: webm}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if last.Filename != "audio.webm" || string(last.File) != string(webm) {
		t.Errorf("uploaded %q (%d bytes), want webm passthrough", last.Filename, len(last.File))
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Audio{MIMEType: "audio/wav"})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
	if calls.Load() != 0 {
		t.Error("server called for empty audio")
	}
}

func TestTranscribe_InvalidWAV(t *testing.T) {
	srv := newMockServer(t, "x", nil, nil)
	p, _ := whisper.New(srv.URL)

	bad := makeWAV(10, audio.SpeechFormat)
	binary.LittleEndian.PutUint16(bad[34:36], 24)
	_, err := p.Transcribe(context.Background(), stt.Audio{Data: bad, MIMEType: "audio/wav"})
	if !errors.Is(err, stt.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Audio{Data: makeWAV(10, audio.SpeechFormat)})
	if err == nil || !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("err = %v, want HTTP 500 with body", err)
	}
}

func TestTranscribe_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"failed to read WAV file"}`))
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), stt.Audio{Data: makeWAV(10, audio.SpeechFormat)}); err == nil {
		t.Error("expected error for error field in response")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, stt.Audio{Data: makeWAV(10, audio.SpeechFormat)}); err == nil {
		t.Error("expected error after context deadline")
	}
}
