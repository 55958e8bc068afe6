// Package mcpserver exposes the validation pipeline as Model Context Protocol
// tools so assistants can check recitations directly.
//
// Tools:
//   - validate_recitation_text: validate a transcription against a verse.
//   - pipeline_status: report which capabilities are usable.
//   - get_verse: return the reference text and rule annotations of a verse.
//   - tajweed_rules: list the tajweed rules with their instructions.
//
// The server runs over stdio ([Server.RunStdio]) or streamable HTTP
// ([Server.HTTPHandler]).
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/pipeline"
	"github.com/MrWong99/tilawa/internal/reference"
	"github.com/MrWong99/tilawa/pkg/types"
)

// Service is the subset of the orchestrator the tools call.
type Service interface {
	ValidateText(ctx context.Context, transcription string, ref types.VerseReference) (types.RecitationResult, error)
	Status(ctx context.Context) pipeline.Status
}

// VerseLookup serves reference verses.
type VerseLookup interface {
	Verse(ctx context.Context, ref types.VerseReference) (types.AnnotatedVerse, error)
}

var _ Service = (*pipeline.Orchestrator)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used to count tool calls.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the implementation version announced to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server owns the MCP server and its tool registrations.
type Server struct {
	service func() Service
	verses  VerseLookup
	metrics *observe.Metrics
	version string

	mcp *mcpsdk.Server
}

// New creates a Server. service is resolved on every call so a reloaded
// orchestrator takes effect without re-registering tools.
func New(service func() Service, verses VerseLookup, opts ...Option) *Server {
	s := &Server{service: service, verses: verses, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "tilawa", Version: s.version}, nil)
	s.register()
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// RunStdio serves a single client over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: stdio: %w", err)
	}
	return nil
}

// HTTPHandler serves the streamable HTTP transport. Mount it at /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

// ── tools ────────────────────────────────────────────────────────────────────

// TextInput is the argument object of validate_recitation_text.
type TextInput struct {
	Transcription string `json:"transcription" jsonschema:"the recited words in Arabic script"`
	Surah         int    `json:"surah" jsonschema:"surah number from 1 to 114"`
	Ayah          int    `json:"ayah" jsonschema:"ayah number within the surah"`
}

// VerseInput is the argument object of get_verse.
type VerseInput struct {
	Surah int `json:"surah" jsonschema:"surah number from 1 to 114"`
	Ayah  int `json:"ayah" jsonschema:"ayah number within the surah"`
}

// RulesInput is the argument object of tajweed_rules.
type RulesInput struct {
	Rule string `json:"rule,omitempty" jsonschema:"optional rule identifier such as ghunnah; all rules are listed when empty"`
}

// RuleInfo is one entry of the tajweed_rules result.
type RuleInfo struct {
	Rule        types.Rule `json:"rule"`
	Instruction string     `json:"instruction"`
}

func (s *Server) register() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "validate_recitation_text",
		Description: "Compare a transcribed Quran recitation with the reference verse. Returns per-word correctness, tajweed violations and scores from 0 to 100.",
	}, instrument(s, "validate_recitation_text", s.validateText))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "pipeline_status",
		Description: "Report whether speech recognition is configured and whether the pronunciation analyzer is reachable.",
	}, instrument(s, "pipeline_status", s.status))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_verse",
		Description: "Return the canonical text of a verse and its tajweed rule annotations.",
	}, instrument(s, "get_verse", s.verse))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "tajweed_rules",
		Description: "List tajweed rules with the instruction shown to reciters who violate them.",
	}, instrument(s, "tajweed_rules", s.rules))
}

func (s *Server) validateText(ctx context.Context, in TextInput) (any, error) {
	return s.service().ValidateText(ctx, in.Transcription, types.VerseReference{Surah: in.Surah, Ayah: in.Ayah})
}

func (s *Server) status(ctx context.Context, _ struct{}) (any, error) {
	return s.service().Status(ctx), nil
}

func (s *Server) verse(ctx context.Context, in VerseInput) (any, error) {
	ref := types.VerseReference{Surah: in.Surah, Ayah: in.Ayah}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	v, err := s.verses.Verse(ctx, ref)
	if errors.Is(err, reference.ErrVerseNotFound) {
		return nil, fmt.Errorf("no reference data for verse %s", ref.Key())
	}
	return v, err
}

func (s *Server) rules(_ context.Context, in RulesInput) (any, error) {
	if in.Rule != "" {
		r := types.Rule(in.Rule)
		if !r.IsValid() {
			return nil, fmt.Errorf("unknown rule %q", in.Rule)
		}
		return []RuleInfo{{Rule: r, Instruction: r.Instruction()}}, nil
	}
	all := types.Rules()
	out := make([]RuleInfo, 0, len(all))
	for _, r := range all {
		out = append(out, RuleInfo{Rule: r, Instruction: r.Instruction()})
	}
	return out, nil
}

// instrument adapts fn to the SDK handler signature. The result is returned
// as JSON text content; a failing fn yields a tool error result so the model
// can read the message.
func instrument[In any](s *Server, name string, fn func(context.Context, In) (any, error)) mcpsdk.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		start := time.Now()
		ctx, span := observe.StartSpan(ctx, "mcp.tool."+name)
		defer span.End()

		out, err := fn(ctx, in)
		s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("tool", name)))
		if err != nil {
			s.metrics.RecordToolCall(ctx, name, "error")
			observe.Logger(ctx).WarnContext(ctx, "mcp tool failed", "tool", name, "error", err)
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, nil, nil
		}
		s.metrics.RecordToolCall(ctx, name, "ok")

		data, err := json.Marshal(out)
		if err != nil {
			return nil, nil, fmt.Errorf("mcpserver: encode %s result: %w", name, err)
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		}, nil, nil
	}
}
