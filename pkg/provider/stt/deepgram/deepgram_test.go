package deepgram

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
)

// ---- buildURL ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL(nil)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "scheme", u.Scheme, "wss")
	assertEqual(t, "host", u.Host, "api.deepgram.com")
	assertEqual(t, "model", q.Get("model"), defaultModel)
	assertEqual(t, "language", q.Get("language"), "ar")
	assertEqual(t, "encoding", q.Get("encoding"), "")
	assertEqual(t, "sample_rate", q.Get("sample_rate"), "")
}

func TestBuildURL_PCM(t *testing.T) {
	p, _ := New("key", WithModel("nova-2"), WithLanguage("ar-SA"))
	raw, err := p.buildURL(&audio.Format{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()

	assertEqual(t, "model", q.Get("model"), "nova-2")
	assertEqual(t, "language", q.Get("language"), "ar-SA")
	assertEqual(t, "encoding", q.Get("encoding"), "linear16")
	assertEqual(t, "sample_rate", q.Get("sample_rate"), "48000")
	assertEqual(t, "channels", q.Get("channels"), "2")
}

// ---- parseDeepgramResponse ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := `{
		"type": "Results",
		"is_final": true,
		"start": 1.0,
		"duration": 2.5,
		"channel": {
			"alternatives": [{
				"transcript": "قل هو الله أحد",
				"confidence": 0.92,
				"words": [
					{"word": "قل", "start": 1.0, "end": 1.3, "confidence": 0.95},
					{"word": "هو", "start": 1.3, "end": 1.6, "confidence": 0.90}
				]
			}]
		}
	}`
	r, ok := parseDeepgramResponse([]byte(raw))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !r.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "Text", r.Text, "قل هو الله أحد")
	if r.Confidence != 0.92 {
		t.Errorf("Confidence: want 0.92, got %v", r.Confidence)
	}
	if len(r.Words) != 2 {
		t.Fatalf("Words: want 2, got %d", len(r.Words))
	}
	if r.Words[1].Start != 1300*time.Millisecond {
		t.Errorf("Words[1].Start: want 1.3s, got %v", r.Words[1].Start)
	}
	if r.End != 3500*time.Millisecond {
		t.Errorf("End: want 3.5s, got %v", r.End)
	}
}

func TestParseDeepgramResponse_Partial(t *testing.T) {
	raw := `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"قل","confidence":0.5}]}}`
	r, ok := parseDeepgramResponse([]byte(raw))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if r.IsFinal {
		t.Error("expected IsFinal=false")
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	for name, raw := range map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty_alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"invalid_json":       `not json`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

func TestParseError(t *testing.T) {
	desc, ok := parseError([]byte(`{"type":"Error","description":"bad audio"}`))
	if !ok || desc != "bad audio" {
		t.Errorf("parseError = (%q, %v), want (bad audio, true)", desc, ok)
	}
	if _, ok := parseError([]byte(`{"type":"Results"}`)); ok {
		t.Error("Results message reported as error")
	}
}

func TestJoinResults(t *testing.T) {
	got := joinResults([]result{
		{Transcript: stt.Transcript{Text: "قل هو", Confidence: 0.8}, IsFinal: true, End: time.Second},
		{Transcript: stt.Transcript{Text: "  "}, IsFinal: true, End: 1500 * time.Millisecond},
		{Transcript: stt.Transcript{Text: "الله أحد", Confidence: 0.6}, IsFinal: true, End: 3 * time.Second},
	})
	assertEqual(t, "Text", got.Text, "قل هو الله أحد")
	if got.Confidence < 0.699 || got.Confidence > 0.701 {
		t.Errorf("Confidence: want 0.7, got %v", got.Confidence)
	}
	if got.Duration != 3*time.Second {
		t.Errorf("Duration: want 3s, got %v", got.Duration)
	}
}

// ---- New ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- Transcribe against a fake streaming server ----

type fakeServer struct {
	mu       sync.Mutex
	received bytes.Buffer
	query    url.Values
	auth     string
	replies  []string
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.Query()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				break
			}
			f.mu.Lock()
			f.received.Write(msg)
			f.mu.Unlock()
		}
		for _, reply := range f.replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func startFake(t *testing.T, f *fakeServer) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestTranscribe_WAV(t *testing.T) {
	f := &fakeServer{replies: []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"قل"}]}}`,
		`{"type":"Results","is_final":true,"start":0,"duration":1.2,"channel":{"alternatives":[{"transcript":"قل هو الله أحد","confidence":0.9}]}}`,
		`{"type":"Metadata"}`,
	}}
	p := startFake(t, f)

	pcm := bytes.Repeat([]byte{1, 0}, 20000) // larger than one chunk
	wav := audio.EncodeWAV(audio.Clip{Data: pcm, Format: audio.SpeechFormat})

	got, err := p.Transcribe(context.Background(), stt.Audio{Data: wav, MIMEType: audio.MIMEWAV})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "Text", got.Text, "قل هو الله أحد")

	f.mu.Lock()
	defer f.mu.Unlock()
	if !bytes.Equal(f.received.Bytes(), pcm) {
		t.Errorf("server received %d bytes, want the %d raw PCM bytes", f.received.Len(), len(pcm))
	}
	assertEqual(t, "Authorization", f.auth, "Token secret")
	assertEqual(t, "encoding", f.query.Get("encoding"), "linear16")
	assertEqual(t, "sample_rate", f.query.Get("sample_rate"), "16000")
}

func TestTranscribe_Passthrough(t *testing.T) {
	f := &fakeServer{}
	p := startFake(t, f)

	ogg := append([]byte("OggS"), bytes.Repeat([]byte{0x7f}, 100)...)
	got, err := p.Transcribe(context.Background(), stt.Audio{Data: ogg, MIMEType: audio.MIMEOGG})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "" {
		t.Errorf("Text: want empty for silence, got %q", got.Text)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !bytes.Equal(f.received.Bytes(), ogg) {
		t.Error("container bytes were not forwarded unchanged")
	}
	assertEqual(t, "encoding", f.query.Get("encoding"), "")
}

func TestTranscribe_ServerError(t *testing.T) {
	f := &fakeServer{replies: []string{`{"type":"Error","description":"unsupported language"}`}}
	p := startFake(t, f)

	_, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte("OggS...."), MIMEType: audio.MIMEOGG})
	if err == nil || !strings.Contains(err.Error(), "unsupported language") {
		t.Fatalf("want server error, got %v", err)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("key")
	_, err := p.Transcribe(context.Background(), stt.Audio{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("want ErrEmptyAudio, got %v", err)
	}
}

func TestTranscribe_InvalidWAV(t *testing.T) {
	p, _ := New("key")
	_, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte("RIFF\x00\x00\x00\x00WAVEjunk")})
	if !errors.Is(err, stt.ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
