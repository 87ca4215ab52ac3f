// Package apps holds the hosted application catalog: the HTML documents
// rendered for interactive tool results and their per-app settings.
package apps

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"
)

//go:embed assets/*.html
var assets embed.FS

// ErrNotFound is returned for unknown application names.
var ErrNotFound = errors.New("apps: not found")

// Definition describes one hosted application.
type Definition struct {
	// Name is the application identifier used in resource URIs and paths.
	Name string
	// Title is the human-readable name shown in listings.
	Title string
	// File is the embedded asset backing the app.
	File string
	// ReadyGrace overrides the session's handshake grace period, for apps
	// that load heavy third-party scripts before their bridge code runs.
	ReadyGrace time.Duration
}

// ResourceURI returns the ui:// identifier for the app.
func (d Definition) ResourceURI() string {
	return fmt.Sprintf("ui://%s/app.html", d.Name)
}

var catalog = []Definition{
	{Name: "weather", Title: "Weather Card", File: "assets/weather.html"},
	{Name: "calculator", Title: "Calculator", File: "assets/calculator.html"},
	{Name: "map", Title: "Map Viewer", File: "assets/map.html"},
	{Name: "threejs", Title: "Three.js Scene", File: "assets/threejs.html", ReadyGrace: 4 * time.Second},
	{Name: "pdf", Title: "PDF Viewer", File: "assets/generic.html"},
	{Name: "shadertoy", Title: "Shader Canvas", File: "assets/shadertoy.html"},
	{Name: "sheet-music", Title: "Sheet Music", File: "assets/generic.html"},
	{Name: "wiki", Title: "Wiki Explorer", File: "assets/generic.html"},
	{Name: "budget", Title: "Budget Allocator", File: "assets/generic.html"},
	{Name: "system-monitor", Title: "System Monitor", File: "assets/system-monitor.html"},
	{Name: "transcript", Title: "Transcript Viewer", File: "assets/generic.html"},
	{Name: "cohort-heatmap", Title: "Cohort Heatmap", File: "assets/generic.html"},
	{Name: "scenario-modeler", Title: "Scenario Modeler", File: "assets/generic.html"},
	{Name: "customer-segmentation", Title: "Customer Segmentation", File: "assets/generic.html"},
}

var byName = func() map[string]Definition {
	m := make(map[string]Definition, len(catalog))
	for _, d := range catalog {
		m[d.Name] = d
	}
	return m
}()

// Get returns the definition for name.
func Get(name string) (Definition, error) {
	d, ok := byName[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// List returns all definitions sorted by name.
func List() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HTML returns the document for the named app.
func HTML(name string) ([]byte, error) {
	d, err := Get(name)
	if err != nil {
		return nil, err
	}
	b, err := assets.ReadFile(d.File)
	if err != nil {
		return nil, fmt.Errorf("apps: reading %s: %w", d.File, err)
	}
	return b, nil
}
