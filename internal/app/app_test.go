package app_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/pipeline"
	"github.com/MrWong99/tilawa/internal/reference"
	"github.com/MrWong99/tilawa/pkg/audio"
	analyzermock "github.com/MrWong99/tilawa/pkg/provider/analyzer/mock"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	sttmock "github.com/MrWong99/tilawa/pkg/provider/stt/mock"
	"github.com/MrWong99/tilawa/pkg/types"
)

var basmala = types.AnnotatedVerse{
	Verse: types.VerseReference{Surah: 1, Ayah: 1},
	Text:  "بِسْمِ اللَّهِ",
}

// testConfig returns a valid config with defaults applied.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Reference: config.ReferenceConfig{Path: "unused.yaml"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithVerseSource(reference.NewMemSource(basmala)),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_TextOnly(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)

	st := a.Orchestrator().Status(context.Background())
	if st.ASRConfigured || st.AnalyzerAvailable {
		t.Errorf("status = %+v, want nothing configured", st)
	}

	res, err := a.Orchestrator().ValidateText(context.Background(), "بسم الله", basmala.Verse)
	if err != nil {
		t.Fatalf("ValidateText: %v", err)
	}
	if res.Scores.Accuracy != 100 {
		t.Errorf("accuracy = %d, want 100", res.Scores.Accuracy)
	}
}

func TestNew_FallbackChain(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errors.New("whisper down")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "بسم الله"}}

	a := newApp(t, testConfig(), &app.Providers{
		STT: []app.NamedSTT{
			{Name: "whisper", Provider: primary},
			{Name: "openai", Provider: secondary},
		},
		Analyzer: &analyzermock.Provider{Result: types.PronunciationAnalysis{OverallScore: 91}},
	})

	st := a.Orchestrator().Status(context.Background())
	if !st.ASRConfigured || !st.AnalyzerAvailable {
		t.Errorf("status = %+v", st)
	}
	if len(st.Providers) != 2 || st.Providers[0].Name != "whisper" || st.Providers[1].Name != "openai" {
		t.Errorf("providers = %+v, want whisper then openai", st.Providers)
	}

	wav := audio.EncodeWAV(audio.Clip{Data: make([]byte, 3200), Format: audio.SpeechFormat})
	res, err := a.Orchestrator().FullValidate(context.Background(), pipelineRequest(wav))
	if err != nil {
		t.Fatalf("FullValidate: %v", err)
	}
	if res.Transcription.Transcription != "بسم الله" {
		t.Errorf("transcription = %q", res.Transcription.Transcription)
	}
	if res.Pronunciation.Status != types.PronunciationAnalyzed {
		t.Errorf("pronunciation = %q", res.Pronunciation.Status)
	}
	if len(primary.Calls) != 1 || len(secondary.Calls) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls), len(secondary.Calls))
	}
}

func TestNew_LoadsYAMLReference(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "verses.yaml")
	data := "verses:\n  - surah: 1\n    ayah: 1\n    text: \"بِسْمِ اللَّهِ\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Reference.Path = path
	cfg.Reference.Warm = true
	a, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if got := a.Store().Cached(); got != 1 {
		t.Errorf("cached verses = %d, want 1", got)
	}
}

func TestNew_MissingReferenceFile(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Reference.Path = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for missing reference file")
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), &app.Providers{
		Analyzer: &analyzermock.Provider{Down: true},
	})
	h := a.Handler()

	body, _ := json.Marshal(map[string]any{"transcription": "بسم الله", "surah": 1, "ayah": 1})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/validate/text", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Errorf("POST /v1/validate/text = %d", rec.Code)
	}

	// Analyzer down degrades readiness but keeps the service ready.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /readyz = %d, want 200", rec.Code)
	}
	var ready struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&ready)
	if ready.Status != "degraded" {
		t.Errorf("readiness = %q, want degraded", ready.Status)
	}

	// No transcriber configured.
	audioBody, _ := json.Marshal(map[string]any{"audioBase64": base64.StdEncoding.EncodeToString([]byte("RIFF")), "surah": 1, "ayah": 1})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/validate", bytes.NewReader(audioBody)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("POST /v1/validate without STT = %d, want 503", rec.Code)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	lv := new(slog.LevelVar)
	a := newApp(t, cfg, nil, app.WithLogLevel(lv))
	before := a.Orchestrator()

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	a.ApplyConfig(cfg, next)
	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	if a.Orchestrator() != before {
		t.Error("orchestrator rebuilt for a log level change")
	}

	strict := testConfig()
	strict.Pipeline.UnknownVerse = "strict"
	a.ApplyConfig(cfg, strict)
	if a.Orchestrator() == before {
		t.Fatal("orchestrator not rebuilt after pipeline change")
	}
	if _, err := a.Orchestrator().ValidateText(context.Background(), "x", types.VerseReference{Surah: 2, Ayah: 255}); err == nil {
		t.Error("strict policy not applied after reload")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func pipelineRequest(wav []byte) pipeline.FullRequest {
	return pipeline.FullRequest{Audio: wav, MIMEType: audio.MIMEWAV, Verse: basmala.Verse}
}
