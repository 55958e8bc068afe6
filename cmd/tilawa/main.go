// Command tilawa is the entry point for the Quran recitation validation
// service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/pipeline"
	"github.com/MrWong99/tilawa/internal/reference"
	"github.com/MrWong99/tilawa/pkg/types"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config string `name:"config" short:"c" default:"config.yaml" type:"path" help:"Path to the YAML configuration file."`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Serve     ServeCmd     `cmd:"" default:"1" help:"Run the HTTP API (default command)."`
	Validate  ValidateCmd  `cmd:"" help:"Validate one recitation and print the result as JSON."`
	MCP       MCPCmd       `cmd:"" name:"mcp" help:"Serve the MCP tools over stdio."`
	Providers ProvidersCmd `cmd:"" help:"List the built-in providers."`
	Import    ImportCmd    `cmd:"" help:"Import a YAML verse file into PostgreSQL."`
	Version   VersionCmd   `cmd:"" help:"Print version information."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("tilawa"),
		kong.Description("Quran recitation validation service"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}

// ── serve ─────────────────────────────────────────────────────────────────────

// ServeCmd runs the HTTP server with config hot-reload.
type ServeCmd struct {
	Watch time.Duration `default:"5s" help:"Config file polling interval. 0 disables hot-reload."`
}

func (c *ServeCmd) Run(g *Globals) error {
	var application *app.App
	w, err := config.NewWatcher(g.Config, func(old, next *config.Config) {
		if application != nil {
			application.ApplyConfig(old, next)
		}
	}, config.WithInterval(c.Watch))
	if err != nil {
		return configError(g.Config, err)
	}
	cfg := w.Current()

	lv := new(slog.LevelVar)
	lv.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(cfg.Server.LogFormat, lv))
	slog.Info("tilawa starting",
		"version", version,
		"config", g.Config,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio(),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	providers, err := newProviders(cfg)
	if err != nil {
		return err
	}

	opts := []app.Option{app.WithLogLevel(lv), app.WithVersion(version)}
	if c.Watch > 0 {
		opts = append(opts, app.WithWatcher(w))
	}
	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return err
	}
	printStartupSummary(os.Stderr, cfg)

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── validate ──────────────────────────────────────────────────────────────────

// ValidateCmd validates a transcription or an audio file once.
type ValidateCmd struct {
	Surah     int    `required:"" help:"Surah number (1-114)."`
	Ayah      int    `required:"" help:"Ayah number within the surah."`
	Text      string `xor:"input" required:"" help:"Transcription to validate."`
	Audio     string `xor:"input" required:"" type:"existingfile" help:"Audio recording to transcribe and validate."`
	MIMEType  string `name:"mime-type" help:"MIME type of the audio. Sniffed when empty."`
	Reciter   string `help:"Reference reciter for pronunciation analysis."`
	NoAnalyze bool   `help:"Skip pronunciation analysis."`
}

func (c *ValidateCmd) Run(g *Globals) error {
	application, cleanup, err := quietApp(g.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ref := types.VerseReference{Surah: c.Surah, Ayah: c.Ayah}
	orch := application.Orchestrator()

	var result any
	if c.Audio == "" {
		result, err = orch.ValidateText(ctx, c.Text, ref)
	} else {
		data, rerr := os.ReadFile(c.Audio)
		if rerr != nil {
			return fmt.Errorf("read audio: %w", rerr)
		}
		result, err = orch.FullValidate(ctx, pipeline.FullRequest{
			Audio:        data,
			MIMEType:     c.MIMEType,
			Verse:        ref,
			Reciter:      c.Reciter,
			SkipAnalysis: c.NoAnalyze,
		})
	}
	if err != nil {
		return fmt.Errorf("%s: %w", pipeline.Kind(err), err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ── mcp ───────────────────────────────────────────────────────────────────────

// MCPCmd serves the MCP tools over stdin/stdout.
type MCPCmd struct{}

func (c *MCPCmd) Run(g *Globals) error {
	application, cleanup, err := quietApp(g.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return application.MCP().RunStdio(ctx)
}

// ── providers ─────────────────────────────────────────────────────────────────

// ProvidersCmd lists the provider names the registry knows.
type ProvidersCmd struct{}

func (c *ProvidersCmd) Run() error {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	for _, kind := range []string{"stt", "analyzer"} {
		fmt.Printf("%-9s %v\n", kind+":", reg.Names(kind))
	}
	return nil
}

// ── import ────────────────────────────────────────────────────────────────────

// ImportCmd copies verses from a YAML file into the PostgreSQL reference
// tables, creating them if needed.
type ImportCmd struct {
	From string `arg:"" type:"existingfile" help:"YAML verse file to import."`
	DSN  string `name:"dsn" env:"TILAWA_POSTGRES_DSN" help:"PostgreSQL DSN. Defaults to reference.postgres_dsn from the config."`
}

func (c *ImportCmd) Run(g *Globals) error {
	dsn := c.DSN
	if dsn == "" {
		cfg, err := config.Load(g.Config)
		if err != nil {
			return configError(g.Config, err)
		}
		dsn = cfg.Reference.PostgresDSN
	}
	if dsn == "" {
		return errors.New("no PostgreSQL DSN: pass --dsn or set reference.postgres_dsn")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := reference.LoadYAMLFile(c.From)
	if err != nil {
		return err
	}
	verses, err := src.Verses(ctx)
	if err != nil {
		return err
	}

	pg, err := reference.NewPostgresSource(ctx, dsn)
	if err != nil {
		return err
	}
	defer pg.Close()

	for i, v := range verses {
		if err := pg.Upsert(ctx, v); err != nil {
			return fmt.Errorf("import verse %s (%d of %d): %w", v.Verse.Key(), i+1, len(verses), err)
		}
	}
	slog.Info("verses imported", "count", len(verses), "from", c.From)
	return nil
}

// ── version ───────────────────────────────────────────────────────────────────

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("tilawa", version)
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// quietApp builds an App for one-shot commands. Logs go to stderr at the
// configured level so stdout stays reserved for results and protocol data.
func quietApp(path string) (*app.App, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, configError(path, err)
	}
	lv := new(slog.LevelVar)
	lv.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(cfg.Server.LogFormat, lv))

	providers, err := newProviders(cfg)
	if err != nil {
		return nil, nil, err
	}
	application, err := app.New(context.Background(), cfg, providers, app.WithVersion(version))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Shutdown(ctx)
	}
	return application, cleanup, nil
}

func newProviders(cfg *config.Config) (*app.Providers, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	return providers, nil
}

func configError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return err
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         tilawa startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	if len(cfg.Providers.STT) == 0 {
		printRow(w, "STT", "(not configured)")
	}
	for i, e := range cfg.Providers.STT {
		label := "STT"
		if i > 0 {
			label = fmt.Sprintf("STT fallback %d", i)
		}
		printRow(w, label, providerLabel(e))
	}
	printRow(w, "Analyzer", providerLabel(cfg.Providers.Analyzer))
	refLabel := cfg.Reference.Path
	if cfg.Reference.PostgresDSN != "" {
		refLabel = "postgres"
	}
	printRow(w, "Reference", refLabel)
	printRow(w, "Alignment", cfg.Matching.Alignment)
	printRow(w, "Unknown verse", cfg.Pipeline.UnknownVerse)
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}
