package mcpserver

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/pipeline"
	"github.com/MrWong99/tilawa/internal/reference"
	analyzermock "github.com/MrWong99/tilawa/pkg/provider/analyzer/mock"
	"github.com/MrWong99/tilawa/pkg/types"
)

var basmala = types.AnnotatedVerse{
	Verse: types.VerseReference{Surah: 1, Ayah: 1},
	Text:  "بِسْمِ اللَّهِ",
	Annotations: []types.RuleAnnotation{
		{Rule: types.RuleLamShamsiyyah, Start: 7, End: 8},
	},
}

// connect starts a server over in-memory transports and returns a connected
// client session.
func connect(t *testing.T, opts ...pipeline.Option) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	store := reference.NewStore(reference.NewMemSource(basmala))
	orch := pipeline.New(store, append([]pipeline.Option{pipeline.WithMetrics(m)}, opts...)...)
	srv := New(func() Service { return orch }, store, WithMetrics(m), WithVersion("test"))

	clientT, serverT := mcpsdk.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): content is %T, want *TextContent", name, res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestListTools(t *testing.T) {
	t.Parallel()
	cs := connect(t)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"validate_recitation_text", "pipeline_status", "get_verse", "tajweed_rules"} {
		if !slices.Contains(names, want) {
			t.Errorf("tool %q not listed; got %v", want, names)
		}
	}
}

func TestValidateRecitationText(t *testing.T) {
	t.Parallel()
	cs := connect(t)

	text, isErr := call(t, cs, "validate_recitation_text", map[string]any{
		"transcription": "بسم",
		"surah":         1,
		"ayah":          1,
	})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var res types.RecitationResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Words) != 2 {
		t.Fatalf("words = %d, want 2", len(res.Words))
	}
	if !res.Words[0].IsCorrect || res.Words[1].IsCorrect {
		t.Errorf("words = %+v, want first correct and second missing", res.Words)
	}
	if res.Scores.Accuracy != 50 {
		t.Errorf("accuracy = %d, want 50", res.Scores.Accuracy)
	}
}

func TestValidateRecitationText_StrictUnknownVerse(t *testing.T) {
	t.Parallel()
	cs := connect(t, pipeline.WithUnknownVersePolicy(pipeline.UnknownVerseStrict))

	text, isErr := call(t, cs, "validate_recitation_text", map[string]any{
		"transcription": "الله",
		"surah":         2,
		"ayah":          255,
	})
	if !isErr {
		t.Fatalf("expected tool error, got %s", text)
	}
	if !strings.Contains(text, "2:255") {
		t.Errorf("error text %q does not name the verse", text)
	}
}

func TestPipelineStatus(t *testing.T) {
	t.Parallel()
	cs := connect(t, pipeline.WithAnalyzer(&analyzermock.Provider{}))

	text, isErr := call(t, cs, "pipeline_status", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var st pipeline.Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.ASRConfigured {
		t.Error("asrConfigured = true without a transcriber")
	}
	if !st.AnalyzerAvailable {
		t.Error("analyzerAvailable = false with a healthy analyzer")
	}
}

func TestGetVerse(t *testing.T) {
	t.Parallel()
	cs := connect(t)

	text, isErr := call(t, cs, "get_verse", map[string]any{"surah": 1, "ayah": 1})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var v types.AnnotatedVerse
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		t.Fatalf("decode verse: %v", err)
	}
	if v.Text != basmala.Text {
		t.Errorf("text = %q", v.Text)
	}

	for _, args := range []map[string]any{
		{"surah": 2, "ayah": 255},
		{"surah": 200, "ayah": 1},
	} {
		if text, isErr := call(t, cs, "get_verse", args); !isErr {
			t.Errorf("get_verse(%v) = %s, want tool error", args, text)
		}
	}
}

func TestTajweedRules(t *testing.T) {
	t.Parallel()
	cs := connect(t)

	text, isErr := call(t, cs, "tajweed_rules", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var all []RuleInfo
	if err := json.Unmarshal([]byte(text), &all); err != nil {
		t.Fatalf("decode rules: %v", err)
	}
	if len(all) != len(types.Rules()) {
		t.Errorf("rules = %d, want %d", len(all), len(types.Rules()))
	}

	text, _ = call(t, cs, "tajweed_rules", map[string]any{"rule": "ghunnah"})
	var one []RuleInfo
	if err := json.Unmarshal([]byte(text), &one); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	if len(one) != 1 || one[0].Instruction != types.RuleGhunnah.Instruction() {
		t.Errorf("ghunnah = %+v", one)
	}

	if _, isErr := call(t, cs, "tajweed_rules", map[string]any{"rule": "tarannum"}); !isErr {
		t.Error("unknown rule did not produce a tool error")
	}
}
