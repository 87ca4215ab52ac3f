package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gaspardpetit/appbridge/internal/metrics"
)

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return tc.Text
}

func TestCatalogListsAllTools(t *testing.T) {
	r := NewCatalog(Config{})
	want := []string{
		"get_weather", "calculate", "get_time", "generate_uuid", "word_count",
		"show_map", "geocode", "show_threejs_scene", "display_pdf", "show_shader",
		"show_sheet_music", "explore_wiki", "allocate_budget", "show_system_monitor",
		"poll-system-stats", "show_transcript", "show_cohort_heatmap",
		"show_scenario_modeler", "show_customer_segmentation",
	}
	defs := r.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("catalog has %d tools; want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("tool %d = %q; want %q", i, defs[i].Name, name)
		}
	}
}

func TestAppMapping(t *testing.T) {
	r := NewCatalog(Config{})
	cases := []struct {
		tool string
		app  string
	}{
		{"get_weather", "weather"},
		{"calculate", "calculator"},
		{"show_map", "map"},
		{"show_shader", "shadertoy"},
		{"show_system_monitor", "system-monitor"},
	}
	for _, tc := range cases {
		app, ok := r.AppFor(tc.tool)
		if !ok || app != tc.app {
			t.Errorf("AppFor(%q) = %q, %v; want %q", tc.tool, app, ok, tc.app)
		}
	}
	for _, tool := range []string{"get_time", "generate_uuid", "word_count", "geocode", "poll-system-stats"} {
		if app, ok := r.AppFor(tool); ok {
			t.Errorf("AppFor(%q) = %q; want no app", tool, app)
		}
	}
}

func TestInvokeCalculate(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "calculate", map[string]any{"expression": "2 + 2 * 3"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := resultText(t, res); got != "Result: 8" {
		t.Fatalf("text = %q", got)
	}
	structured, ok := res.StructuredContent.(map[string]any)
	if !ok || structured["result"] != 8.0 {
		t.Fatalf("structuredContent = %v", res.StructuredContent)
	}

	res, err = r.Invoke(context.Background(), "calculate", map[string]any{"expression": "1 / 0"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.IsError {
		t.Fatal("division by zero should produce an error result")
	}
}

func TestInvokeRecordsDuration(t *testing.T) {
	r := NewRegistry()
	r.Register(mcp.NewTool("timed_tool", mcp.WithDescription("test fixture")), "",
		func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("ok"), nil
		})

	before := testutil.CollectAndCount(metrics.ToolDuration)
	if _, err := r.Invoke(context.Background(), "timed_tool", nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if after := testutil.CollectAndCount(metrics.ToolDuration); after != before+1 {
		t.Fatalf("duration series = %d; want %d after one invocation", after, before+1)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "no_such_tool", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown tool should produce an error result")
	}
	if got := resultText(t, res); !strings.Contains(got, "no_such_tool") {
		t.Fatalf("text = %q", got)
	}
}

func TestInvokeMissingRequiredArgument(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "get_weather", map[string]any{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.IsError {
		t.Fatal("missing required argument should produce an error result")
	}
	if got := resultText(t, res); !strings.Contains(got, "location") {
		t.Fatalf("text = %q", got)
	}
}

func TestInvokeShowMapDefaults(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "show_map", map[string]any{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := resultText(t, res); got != "Displaying map at: W:-0.5000, S:51.3000, E:0.3000, N:51.7000" {
		t.Fatalf("text = %q", got)
	}
}

func TestInvokeGenerateUUID(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "generate_uuid", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	got := resultText(t, res)
	if !strings.HasPrefix(got, "Generated UUID: ") || len(got) != len("Generated UUID: ")+36 {
		t.Fatalf("text = %q", got)
	}
}

func TestInvokeWordCount(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "word_count", map[string]any{"text": "one two\nthree"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	structured, ok := res.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("structuredContent = %T", res.StructuredContent)
	}
	if structured["words"] != 3 || structured["characters"] != 13 || structured["lines"] != 2 {
		t.Fatalf("stats = %v", structured)
	}
}

func TestInvokeDisplayPDFNormalizesURL(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "display_pdf", map[string]any{"url": "https://arxiv.org/abs/1706.03762.pdf"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := resultText(t, res); got != "Displaying PDF: https://arxiv.org/pdf/1706.03762" {
		t.Fatalf("text = %q", got)
	}
}

func TestInvokeScenarioModelerDefaults(t *testing.T) {
	r := NewCatalog(Config{})
	res, err := r.Invoke(context.Background(), "show_scenario_modeler", map[string]any{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := resultText(t, res); got != "SaaS Scenario Modeler loaded with $50000 MRR" {
		t.Fatalf("text = %q", got)
	}
}
