package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

func strArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func numArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

var weatherConditions = []string{"Sunny", "Cloudy", "Rainy", "Partly Cloudy"}

func handleWeather(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	data := map[string]any{
		"location":    strArg(args, "location", ""),
		"temperature": rand.IntN(31) + 5,
		"condition":   weatherConditions[rand.IntN(len(weatherConditions))],
		"humidity":    rand.IntN(51) + 30,
		"windSpeed":   rand.IntN(31) + 5,
	}
	return textResult(indentJSON(data), data), nil
}

func handleCalculate(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	expression := strArg(args, "expression", "")
	result, err := evalExpression(expression)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}
	return textResult(
		fmt.Sprintf("Result: %s", formatNumber(result)),
		map[string]any{"expression": expression, "result": result},
	), nil
}

func handleTime(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	tz := strArg(args, "timezone", "")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error: invalid timezone %q", tz)), nil
	}
	now := time.Now().In(loc)
	return textResult(fmt.Sprintf("Current time in %s: %s",
		tz, now.Format("Monday, January 2, 2006 at 3:04:05 PM MST")), nil), nil
}

func handleUUID(_ context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	return textResult(fmt.Sprintf("Generated UUID: %s", uuid.NewString()), nil), nil
}

func handleWordCount(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	text := strArg(args, "text", "")
	stats := map[string]any{
		"words":      len(strings.Fields(text)),
		"characters": utf8.RuneCountInString(text),
		"lines":      strings.Count(text, "\n") + 1,
	}
	return textResult(indentJSON(stats), stats), nil
}

func handleShowMap(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	west := numArg(args, "west", -0.5)
	south := numArg(args, "south", 51.3)
	east := numArg(args, "east", 0.3)
	north := numArg(args, "north", 51.7)
	label := strArg(args, "label", "")

	text := fmt.Sprintf("Displaying map at: W:%.4f, S:%.4f, E:%.4f, N:%.4f", west, south, east, north)
	if label != "" {
		text += fmt.Sprintf(" (%s)", label)
	}
	structured := map[string]any{"west": west, "south": south, "east": east, "north": north}
	if label != "" {
		structured["label"] = label
	}
	return textResult(text, structured), nil
}

func geocodeHandler(g *Geocoder) Handler {
	return func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		query := strArg(args, "query", "")
		places, err := g.Search(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Geocoding error: %v", err)), nil
		}
		if len(places) == 0 {
			return textResult(fmt.Sprintf("No results found for %q", query), nil), nil
		}
		var b strings.Builder
		for i, p := range places {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "%d. %s\n   Coordinates: %.6f, %.6f\n   Bounding box: W:%.4f, S:%.4f, E:%.4f, N:%.4f",
				i+1, p.DisplayName, p.Lat, p.Lon,
				p.BoundingBox.West, p.BoundingBox.South, p.BoundingBox.East, p.BoundingBox.North)
		}
		return textResult(b.String(), map[string]any{"results": places}), nil
	}
}

func handleThreeJS(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	structured := map[string]any{
		"code":    strArg(args, "code", ""),
		"height":  numArg(args, "height", 400),
		"success": true,
	}
	return textResult("Three.js scene rendered", structured), nil
}

func handleDisplayPDF(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	url := strArg(args, "url", "https://arxiv.org/pdf/1706.03762")
	page := numArg(args, "page", 1)
	url = strings.TrimSuffix(strings.Replace(url, "/abs/", "/pdf/", 1), ".pdf")
	return textResult(fmt.Sprintf("Displaying PDF: %s", url),
		map[string]any{"url": url, "initialPage": page}), nil
}

func handleShader(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	structured := map[string]any{
		"code":    strArg(args, "code", ""),
		"height":  numArg(args, "height", 400),
		"success": true,
	}
	return textResult("Shader rendered", structured), nil
}

func handleSheetMusic(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	title := strArg(args, "title", "Untitled")
	return textResult(fmt.Sprintf("Displaying sheet music: %s", title),
		map[string]any{"abc": strArg(args, "abc", ""), "title": title}), nil
}

func handleWiki(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	query := strArg(args, "query", "")
	lang := strArg(args, "lang", "en")
	return textResult(fmt.Sprintf("Exploring Wikipedia: %s", query),
		map[string]any{"query": query, "lang": lang}), nil
}

func handleBudget(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	total := numArg(args, "totalBudget", 10000)
	currency := strArg(args, "currency", "$")
	categories, ok := args["categories"].([]any)
	if !ok || len(categories) == 0 {
		categories = []any{
			map[string]any{"name": "Marketing", "amount": 3000},
			map[string]any{"name": "Development", "amount": 4000},
			map[string]any{"name": "Operations", "amount": 2000},
			map[string]any{"name": "Other", "amount": 1000},
		}
	}
	return textResult(fmt.Sprintf("Budget allocator loaded with %s%s", currency, formatNumber(total)),
		map[string]any{"totalBudget": total, "categories": categories, "currency": currency}), nil
}

func handleSystemMonitor(ctx context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	info, err := collectSystemInfo(ctx)
	if err != nil {
		return nil, err
	}
	return textResult("System monitor started", info), nil
}

func handlePollStats(ctx context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	stats, err := collectSystemStats(ctx)
	if err != nil {
		return nil, err
	}
	return textResult("System stats polled", stats), nil
}

func handleTranscript(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	title := strArg(args, "title", "Transcript")
	transcript, ok := args["transcript"].([]any)
	if !ok {
		transcript = []any{}
	}
	return textResult(fmt.Sprintf("Displaying transcript: %s", title),
		map[string]any{"transcript": transcript, "title": title}), nil
}

func handleCohortHeatmap(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	metric := strArg(args, "metric", "retention")
	periodType := strArg(args, "periodType", "monthly")
	return textResult(fmt.Sprintf("Displaying cohort heatmap: %s over %s periods", metric, periodType),
		map[string]any{
			"metric":      metric,
			"periodType":  periodType,
			"cohortCount": numArg(args, "cohortCount", 12),
			"maxPeriods":  numArg(args, "maxPeriods", 12),
		}), nil
}

func handleScenarioModeler(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	startingMRR := numArg(args, "startingMRR", 50000)
	return textResult(fmt.Sprintf("SaaS Scenario Modeler loaded with $%s MRR", formatNumber(startingMRR)),
		map[string]any{
			"startingMRR":       startingMRR,
			"monthlyGrowthRate": numArg(args, "monthlyGrowthRate", 5),
			"monthlyChurnRate":  numArg(args, "monthlyChurnRate", 3),
			"grossMargin":       numArg(args, "grossMargin", 80),
			"fixedCosts":        numArg(args, "fixedCosts", 30000),
		}), nil
}

func handleSegmentation(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	count := numArg(args, "customerCount", 250)
	return textResult(fmt.Sprintf("Customer Segmentation Explorer loaded with %s customers", formatNumber(count)),
		map[string]any{"customerCount": count}), nil
}
