// Package tools implements the server-side tool catalog: definitions, input
// validation, and the handlers that produce tool results.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/appbridge/core/logx"
	"github.com/gaspardpetit/appbridge/internal/metrics"
)

// Handler executes one tool call. Domain failures are reported through the
// result's IsError flag; a Go error means the call could not be serviced at
// all.
type Handler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

type entry struct {
	def     mcp.Tool
	app     string
	handler Handler
}

// Registry holds the tool catalog. It satisfies the bridge's Invoker
// interface, so hosted applications call back through the same dispatch path
// the assistant uses.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Register adds a tool. app names the hosted application rendering the
// tool's results, or "" for tools rendered as static text.
func (r *Registry) Register(def mcp.Tool, app string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[def.Name]; dup {
		panic(fmt.Sprintf("tools: duplicate registration of %q", def.Name))
	}
	r.entries[def.Name] = &entry{def: def, app: app, handler: h}
	r.order = append(r.order, def.Name)
}

// Definitions returns the catalog in registration order.
func (r *Registry) Definitions() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AppFor returns the hosted application name for a tool, if it has one.
func (r *Registry) AppFor(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.app == "" {
		return "", false
	}
	return e.app, true
}

// Has reports whether the tool exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Invoke dispatches a tool call. Unknown tools and missing required
// arguments come back as error results, mirroring what a caller over the
// wire would see.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		metrics.ToolCalls.WithLabelValues(name, "unknown").Inc()
		return mcp.NewToolResultError(fmt.Sprintf("Unknown tool: %s", name)), nil
	}
	if missing := missingRequired(e.def, args); missing != "" {
		metrics.ToolCalls.WithLabelValues(name, "invalid").Inc()
		return mcp.NewToolResultError(fmt.Sprintf("Missing required argument: %s", missing)), nil
	}
	start := time.Now()
	res, err := e.handler(ctx, args)
	metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		logx.Log.Warn().Str("tool", name).Err(err).Msg("tool call failed")
		return nil, err
	case res != nil && res.IsError:
		metrics.ToolCalls.WithLabelValues(name, "tool_error").Inc()
	default:
		metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	}
	return res, nil
}

func missingRequired(def mcp.Tool, args map[string]any) string {
	for _, field := range def.InputSchema.Required {
		if _, ok := args[field]; !ok {
			return field
		}
	}
	return ""
}

func textResult(text string, structured any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(text)},
		StructuredContent: structured,
	}
}
