package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tilawa/internal/pipeline"
	"github.com/MrWong99/tilawa/internal/tajweed"
	"github.com/MrWong99/tilawa/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"whisper", "whisper-native", "openai", "deepgram"},
	"analyzer": {"remote"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultRequestTimeout = 120 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
	DefaultAnalyzeTimeout = 60 * time.Second
	DefaultServiceName    = "tilawa"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// against the process environment, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Resilience.AttemptTimeout == 0 {
		cfg.Resilience.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = tajweed.DefaultThreshold
	}
	if cfg.Matching.Alignment == "" {
		cfg.Matching.Alignment = string(tajweed.StrategyPositional)
	}
	if cfg.Pipeline.DefaultReciter == "" {
		cfg.Pipeline.DefaultReciter = string(types.DefaultReciter)
	}
	if cfg.Pipeline.UnknownVerse == "" {
		cfg.Pipeline.UnknownVerse = string(pipeline.UnknownVerseSoft)
	}
	if cfg.Pipeline.AnalyzeTimeout == 0 {
		cfg.Pipeline.AnalyzeTimeout = DefaultAnalyzeTimeout
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout %v must not be negative", cfg.Server.RequestTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// STT providers
	sttSeen := make(map[string]int, len(cfg.Providers.STT))
	for i, entry := range cfg.Providers.STT {
		prefix := fmt.Sprintf("providers.stt[%d]", i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := sttSeen[entry.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.stt[%d]", prefix, entry.Name, prev))
		}
		sttSeen[entry.Name] = i
		validateProviderName("stt", entry.Name)
	}
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; audio validation will report the service as unavailable")
	}

	// Analyzer
	validateProviderName("analyzer", cfg.Providers.Analyzer.Name)
	if cfg.Providers.Analyzer.Name == "" {
		slog.Info("no pronunciation analyzer configured; audio results will not include pronunciation feedback")
	}

	// Resilience
	if cfg.Resilience.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.attempt_timeout %v must not be negative", cfg.Resilience.AttemptTimeout))
	}
	cb := cfg.Resilience.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience.circuit_breaker values must not be negative"))
	}

	// Reference data
	if cfg.Reference.Path == "" && cfg.Reference.PostgresDSN == "" {
		errs = append(errs, errors.New("reference: one of path or postgres_dsn is required"))
	}

	// Matching
	if t := cfg.Matching.Threshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matching.threshold %.2f is out of range (0, 1]", t))
	}
	if !tajweed.Strategy(cfg.Matching.Alignment).IsValid() {
		errs = append(errs, fmt.Errorf("matching.alignment %q is invalid; valid values: positional, sequence", cfg.Matching.Alignment))
	}

	// Pipeline
	if !pipeline.UnknownVersePolicy(cfg.Pipeline.UnknownVerse).IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.unknown_verse %q is invalid; valid values: soft, strict", cfg.Pipeline.UnknownVerse))
	}
	if !types.Reciter(cfg.Pipeline.DefaultReciter).Valid() {
		errs = append(errs, fmt.Errorf("pipeline.default_reciter %q is unknown; valid values: %v", cfg.Pipeline.DefaultReciter, types.Reciters()))
	}
	if cfg.Pipeline.AnalyzeTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.analyze_timeout %v must not be negative", cfg.Pipeline.AnalyzeTimeout))
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio(); r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
