package tools

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// Config carries the external dependencies of the catalog.
type Config struct {
	// NominatimURL overrides the geocoding endpoint, mainly for tests.
	NominatimURL string
	// HTTPClient is used for outbound requests; nil gets a bounded default.
	HTTPClient *http.Client
}

// NewCatalog builds the full tool registry.
func NewCatalog(cfg Config) *Registry {
	r := NewRegistry()
	geo := NewGeocoder(cfg.NominatimURL, cfg.HTTPClient)

	r.Register(mcp.NewTool("get_weather",
		mcp.WithDescription("Get the current weather for a location"),
		mcp.WithString("location", mcp.Required(),
			mcp.Description("The city and country (e.g., 'London, UK')")),
	), "weather", handleWeather)

	r.Register(mcp.NewTool("calculate",
		mcp.WithDescription("Perform a mathematical calculation"),
		mcp.WithString("expression", mcp.Required(),
			mcp.Description("The mathematical expression to evaluate (e.g., '2 + 2 * 3')")),
	), "calculator", handleCalculate)

	r.Register(mcp.NewTool("get_time",
		mcp.WithDescription("Get the current time for a timezone"),
		mcp.WithString("timezone", mcp.Required(),
			mcp.Description("The timezone (e.g., 'America/New_York', 'Europe/London')")),
	), "", handleTime)

	r.Register(mcp.NewTool("generate_uuid",
		mcp.WithDescription("Generate a random UUID"),
	), "", handleUUID)

	r.Register(mcp.NewTool("word_count",
		mcp.WithDescription("Count words, characters, and lines in text"),
		mcp.WithString("text", mcp.Required(),
			mcp.Description("The text to analyze")),
	), "", handleWordCount)

	r.Register(mcp.NewTool("show_map",
		mcp.WithDescription("Display an interactive world map zoomed to a specific bounding box. Use the geocode tool to find the bounding box of a location."),
		mcp.WithNumber("west", mcp.Description("Western longitude (-180 to 180)")),
		mcp.WithNumber("south", mcp.Description("Southern latitude (-90 to 90)")),
		mcp.WithNumber("east", mcp.Description("Eastern longitude (-180 to 180)")),
		mcp.WithNumber("north", mcp.Description("Northern latitude (-90 to 90)")),
		mcp.WithString("label", mcp.Description("Optional label to display on the map")),
	), "map", handleShowMap)

	r.Register(mcp.NewTool("geocode",
		mcp.WithDescription("Search for places using OpenStreetMap. Returns coordinates and bounding boxes for up to 5 matches."),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("Place name or address to search for (e.g., 'Paris', 'Golden Gate Bridge')")),
	), "", geocodeHandler(geo))

	r.Register(mcp.NewTool("show_threejs_scene",
		mcp.WithDescription("Render an interactive 3D scene with custom Three.js code. Available globals: THREE, OrbitControls, canvas, width, height."),
		mcp.WithString("code", mcp.Required(),
			mcp.Description("JavaScript code to render the 3D scene")),
		mcp.WithNumber("height", mcp.Description("Height in pixels (default: 400)")),
	), "threejs", handleThreeJS)

	r.Register(mcp.NewTool("display_pdf",
		mcp.WithDescription("Display an interactive PDF viewer. Supports PDFs from arxiv.org, biorxiv.org, and other academic sources."),
		mcp.WithString("url", mcp.Required(),
			mcp.Description("PDF URL (e.g., 'https://arxiv.org/pdf/1706.03762')")),
		mcp.WithNumber("page", mcp.Description("Initial page number (default: 1)")),
	), "pdf", handleDisplayPDF)

	r.Register(mcp.NewTool("show_shader",
		mcp.WithDescription("Render an interactive WebGL shader. Write GLSL fragment shader code with access to uniforms like iTime, iResolution, iMouse."),
		mcp.WithString("code", mcp.Required(),
			mcp.Description("GLSL fragment shader code (mainImage function)")),
		mcp.WithNumber("height", mcp.Description("Height in pixels (default: 400)")),
	), "shadertoy", handleShader)

	r.Register(mcp.NewTool("show_sheet_music",
		mcp.WithDescription("Display interactive sheet music notation using ABC notation format."),
		mcp.WithString("abc", mcp.Required(),
			mcp.Description("ABC notation string for the music")),
		mcp.WithString("title", mcp.Description("Title of the piece")),
	), "sheet-music", handleSheetMusic)

	r.Register(mcp.NewTool("explore_wiki",
		mcp.WithDescription("Display an interactive Wikipedia article explorer with search and navigation."),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("Wikipedia article title or search query")),
		mcp.WithString("lang", mcp.Description("Wikipedia language code (default: 'en')")),
	), "wiki", handleWiki)

	r.Register(mcp.NewTool("allocate_budget",
		mcp.WithDescription("Display an interactive budget allocation tool with drag-and-drop categories and visual breakdown."),
		mcp.WithNumber("totalBudget", mcp.Required(),
			mcp.Description("Total budget amount")),
		mcp.WithArray("categories",
			mcp.Description("Budget categories with names and initial allocations"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":   map[string]any{"type": "string"},
					"amount": map[string]any{"type": "number"},
				},
			})),
		mcp.WithString("currency", mcp.Description("Currency symbol (default: '$')")),
	), "budget", handleBudget)

	r.Register(mcp.NewTool("show_system_monitor",
		mcp.WithDescription("Display an interactive system monitoring dashboard with CPU, memory, and disk usage charts."),
		mcp.WithNumber("refreshInterval", mcp.Description("Refresh interval in milliseconds (default: 1000)")),
	), "system-monitor", handleSystemMonitor)

	r.Register(mcp.NewTool("poll-system-stats",
		mcp.WithDescription("Poll current system CPU and memory statistics for the system monitor."),
	), "", handlePollStats)

	r.Register(mcp.NewTool("show_transcript",
		mcp.WithDescription("Display an interactive transcript viewer with timestamps, speaker labels, and search functionality."),
		mcp.WithArray("transcript", mcp.Required(),
			mcp.Description("Array of transcript segments"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"speaker":   map[string]any{"type": "string"},
					"text":      map[string]any{"type": "string"},
					"timestamp": map[string]any{"type": "number"},
				},
			})),
		mcp.WithString("title", mcp.Description("Title of the transcript")),
	), "transcript", handleTranscript)

	r.Register(mcp.NewTool("show_cohort_heatmap",
		mcp.WithDescription("Display an interactive cohort retention heatmap showing customer retention over time by signup month."),
		mcp.WithString("metric",
			mcp.Description("Metric type (default: 'retention')"),
			mcp.Enum("retention", "revenue", "active")),
		mcp.WithString("periodType",
			mcp.Description("Period type (default: 'monthly')"),
			mcp.Enum("monthly", "weekly")),
		mcp.WithNumber("cohortCount", mcp.Description("Number of cohorts to display (default: 12)")),
		mcp.WithNumber("maxPeriods", mcp.Description("Maximum number of periods (default: 12)")),
	), "cohort-heatmap", handleCohortHeatmap)

	r.Register(mcp.NewTool("show_scenario_modeler",
		mcp.WithDescription("Display an interactive SaaS business scenario modeler with financial projections and template scenarios."),
		mcp.WithNumber("startingMRR", mcp.Description("Starting monthly recurring revenue")),
		mcp.WithNumber("monthlyGrowthRate", mcp.Description("Monthly growth rate percentage")),
		mcp.WithNumber("monthlyChurnRate", mcp.Description("Monthly churn rate percentage")),
		mcp.WithNumber("grossMargin", mcp.Description("Gross margin percentage")),
		mcp.WithNumber("fixedCosts", mcp.Description("Monthly fixed costs")),
	), "scenario-modeler", handleScenarioModeler)

	r.Register(mcp.NewTool("show_customer_segmentation",
		mcp.WithDescription("Display an interactive customer segmentation explorer with scatter/bubble visualization."),
		mcp.WithNumber("customerCount", mcp.Description("Number of customers to generate (default: 250)")),
	), "customer-segmentation", handleSegmentation)

	return r
}
