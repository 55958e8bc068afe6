package config_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/pkg/provider/analyzer"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
  request_timeout: 90s

providers:
  stt:
    - name: whisper
      base_url: http://localhost:8081
      options:
        language: ar
    - name: openai
      api_key: sk-test
      model: whisper-1
    - name: deepgram
      api_key: dg-test
  analyzer:
    name: remote
    base_url: http://localhost:8000
    options:
      timeout: 90s

resilience:
  attempt_timeout: 20s
  circuit_breaker:
    max_failures: 3
    reset_timeout: 1m
    half_open_max: 1

reference:
  path: data/verses.yaml
  warm: true

matching:
  threshold: 0.8
  alignment: sequence

pipeline:
  default_reciter: ar.alafasy
  unknown_verse: strict

telemetry:
  service_name: tilawa-test
  trace_sample_ratio: 0.25
`

// minimalYAML is the smallest valid config.
const minimalYAML = `
reference:
  path: verses.yaml
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 90*time.Second {
		t.Errorf("request_timeout = %v", cfg.Server.RequestTimeout)
	}
	if len(cfg.Providers.STT) != 3 {
		t.Fatalf("stt providers = %d, want 3", len(cfg.Providers.STT))
	}
	if cfg.Providers.STT[0].Name != "whisper" || cfg.Providers.STT[0].Options["language"] != "ar" {
		t.Errorf("stt[0] = %+v", cfg.Providers.STT[0])
	}
	if cfg.Providers.STT[1].Model != "whisper-1" || cfg.Providers.STT[2].APIKey != "dg-test" {
		t.Errorf("stt fallbacks = %+v", cfg.Providers.STT[1:])
	}
	if cfg.Providers.Analyzer.Name != "remote" {
		t.Errorf("analyzer = %+v", cfg.Providers.Analyzer)
	}
	if cfg.Resilience.AttemptTimeout != 20*time.Second || cfg.Resilience.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("resilience = %+v", cfg.Resilience)
	}
	if !cfg.Reference.Warm {
		t.Error("reference.warm = false")
	}
	if cfg.Matching.Threshold != 0.8 || cfg.Matching.Alignment != "sequence" {
		t.Errorf("matching = %+v", cfg.Matching)
	}
	if cfg.Pipeline.DefaultReciter != "ar.alafasy" || cfg.Pipeline.UnknownVerse != "strict" {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Telemetry.ServiceName != "tilawa-test" || cfg.Telemetry.SampleRatio() != 0.25 {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("logging = %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Resilience.AttemptTimeout != config.DefaultAttemptTimeout {
		t.Errorf("attempt_timeout = %v", cfg.Resilience.AttemptTimeout)
	}
	if cfg.Matching.Threshold != 0.7 || cfg.Matching.Alignment != "positional" {
		t.Errorf("matching = %+v", cfg.Matching)
	}
	if cfg.Pipeline.DefaultReciter != string(types.DefaultReciter) || cfg.Pipeline.UnknownVerse != "soft" {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Telemetry.ServiceName != "tilawa" {
		t.Errorf("service_name = %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Telemetry.SampleRatio() != 1 {
		t.Errorf("sample ratio = %v, want 1", cfg.Telemetry.SampleRatio())
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("TILAWA_TEST_DG_KEY", "dg-from-env")
	cfg := mustLoad(t, minimalYAML+`
providers:
  stt:
    - name: deepgram
      api_key: ${TILAWA_TEST_DG_KEY}
`)
	if got := cfg.Providers.STT[0].APIKey; got != "dg-from-env" {
		t.Errorf("api_key = %q, want expanded env value", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server: {log_level: verbose}", "server.log_level"},
		{"log format", "server: {log_format: xml}", "server.log_format"},
		{"tls incomplete", "server: {tls: {cert_file: a.pem}}", "server.tls"},
		{"threshold high", "matching: {threshold: 1.5}", "matching.threshold"},
		{"threshold negative", "matching: {threshold: -0.1}", "matching.threshold"},
		{"alignment", "matching: {alignment: dtw}", "matching.alignment"},
		{"unknown verse", "pipeline: {unknown_verse: lenient}", "pipeline.unknown_verse"},
		{"reciter", "pipeline: {default_reciter: en.nobody}", "pipeline.default_reciter"},
		{"stt name", "providers: {stt: [{api_key: x}]}", "providers.stt[0].name"},
		{"stt duplicate", "providers: {stt: [{name: openai}, {name: openai}]}", "duplicate"},
		{"negative breaker", "resilience: {circuit_breaker: {max_failures: -1}}", "circuit_breaker"},
		{"sample ratio", "telemetry: {trace_sample_ratio: 2}", "telemetry.trace_sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(minimalYAML + tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MissingReference(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: {log_level: info}"))
	if err == nil || !strings.Contains(err.Error(), "reference") {
		t.Fatalf("err = %v, want reference error", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Reference.Path = "verses.yaml"
	cfg.Server.LogLevel = "loud"
	cfg.Matching.Alignment = "dtw"
	cfg.Pipeline.UnknownVerse = "maybe"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"log_level", "alignment", "unknown_verse"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "analyzer"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known names for kind %q", kind)
		}
	}
}

// ── registry ──────────────────────────────────────────────────────────────────

type stubSTT struct{}

func (stubSTT) Transcribe(context.Context, stt.Audio) (stt.Transcript, error) {
	return stt.Transcript{Text: "stub"}, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, analyzer.Request) (types.PronunciationAnalysis, error) {
	return types.PronunciationAnalysis{}, nil
}
func (stubAnalyzer) Available(context.Context) bool { return true }

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateAnalyzer(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAnalyzer err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var got config.ProviderEntry
	r.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return stubSTT{}, nil
	})
	r.RegisterAnalyzer("remote", func(config.ProviderEntry) (analyzer.Provider, error) {
		return stubAnalyzer{}, nil
	})

	entry := config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8081"}
	p, err := r.CreateSTT(entry)
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if _, ok := p.(stubSTT); !ok {
		t.Errorf("CreateSTT returned %T", p)
	}
	if got.BaseURL != entry.BaseURL {
		t.Errorf("factory received %+v", got)
	}
	if _, err := r.CreateAnalyzer(config.ProviderEntry{Name: "remote"}); err != nil {
		t.Errorf("CreateAnalyzer: %v", err)
	}

	if names := r.Names("stt"); len(names) != 1 || names[0] != "whisper" {
		t.Errorf("Names(stt) = %v", names)
	}
	if names := r.Names("llm"); len(names) != 0 {
		t.Errorf("Names(llm) = %v, want empty", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	factoryErr := errors.New("missing api key")
	r.RegisterSTT("openai", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, factoryErr
	})
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "openai"}); !errors.Is(err, factoryErr) {
		t.Errorf("err = %v, want factory error", err)
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.SlogLevel(); got != want {
			t.Errorf("LogLevel(%q).SlogLevel() = %v, want %v", in, got, want)
		}
	}
}
