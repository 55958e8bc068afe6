package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/pkg/provider/analyzer"
	"github.com/MrWong99/tilawa/pkg/provider/analyzer/remote"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/tilawa/pkg/provider/stt/openai"
	"github.com/MrWong99/tilawa/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oaistt.WithPrompt(prompt))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Analyzer ──────────────────────────────────────────────────────────────

	reg.RegisterAnalyzer("remote", func(entry config.ProviderEntry) (analyzer.Provider, error) {
		var opts []remote.Option
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, remote.WithTimeout(d))
		}
		if d := optDuration(entry.Options, "health_timeout"); d > 0 {
			opts = append(opts, remote.WithHealthTimeout(d))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"stt", "analyzer"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg using the
// registry. STT providers keep their configured order.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown stt provider, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = append(ps.STT, app.NamedSTT{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	}

	if entry := cfg.Providers.Analyzer; entry.Name != "" {
		p, err := reg.CreateAnalyzer(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown analyzer provider, skipping", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create analyzer provider %q: %w", entry.Name, err)
		} else {
			ps.Analyzer = p
			slog.Info("provider created", "kind", "analyzer", "name", entry.Name)
		}
	}

	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration reads a duration option written either as a Go duration string
// ("90s") or as a number of seconds. Invalid values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration option", "key", key, "value", v, "err", err)
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}
