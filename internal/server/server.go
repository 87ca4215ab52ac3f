// Package server exposes the HTTP surface: the MCP-style tool endpoint, the
// hosted application resources, bridge session management, and the assistant
// chat entry point.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/appbridge/internal/apps"
	"github.com/gaspardpetit/appbridge/internal/bridge"
	"github.com/gaspardpetit/appbridge/internal/chat"
	"github.com/gaspardpetit/appbridge/internal/config"
	"github.com/gaspardpetit/appbridge/internal/protocol"
	"github.com/gaspardpetit/appbridge/internal/serverstate"
	"github.com/gaspardpetit/appbridge/internal/tools"
)

// Options configure a Server.
type Options struct {
	Config  config.ServerConfig
	Tools   *tools.Registry
	Agent   *chat.Agent // nil disables /api/chat
	Version string
}

// Server routes HTTP traffic to the bridge and the tool catalog.
type Server struct {
	cfg     config.ServerConfig
	tools   *tools.Registry
	agent   *chat.Agent
	version string

	sessions *bridge.Registry
	ws       *bridge.WSHandler
	hostCtx  protocol.HostContext
}

// New assembles a server.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		tools:    opts.Tools,
		agent:    opts.Agent,
		version:  opts.Version,
		sessions: bridge.NewRegistry(),
		hostCtx: protocol.HostContext{
			Theme:                 "light",
			Platform:              "web",
			DisplayMode:           "inline",
			AvailableDisplayModes: []string{"inline", "fullscreen"},
		},
	}
	s.ws = &bridge.WSHandler{
		Registry:       s.sessions,
		AllowedOrigins: opts.Config.AllowedOrigins,
		Draining:       serverstate.IsDraining,
	}
	return s
}

// Sessions exposes the session registry, mainly for shutdown draining.
func (s *Server) Sessions() *bridge.Registry { return s.sessions }

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/resource/{appName}", s.handleResource)

	r.Route("/api", func(r chi.Router) {
		r.Post("/mcp", s.handleMCP)
		r.Post("/chat", s.handleChat)
		r.Get("/state", s.handleState)
		r.Route("/invocations", func(r chi.Router) {
			r.Post("/", s.handleCreateInvocation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/ws", s.handleAttach)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/context", s.handleContext)
				r.Delete("/", s.handleDelete)
			})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  serverstate.GetState(),
		"server":  "appbridge",
		"version": s.version,
		"tools":   s.tools.Names(),
	})
}

// handleResource serves a hosted application document. Documents are never
// cached: each rendering gets a fresh page bound to its own session.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "appName")
	html, err := apps.HTML(name)
	if err != nil {
		if errors.Is(err, apps.ErrNotFound) {
			http.Error(w, "Resource not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(html)
}

// mcpRequest mirrors the minimal MCP HTTP dialect: a method plus params.
type mcpRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
		URI       string         `json:"uri"`
	} `json:"params"`
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req mcpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Method {
	case "tools/list":
		writeJSON(w, http.StatusOK, map[string]any{"tools": s.toolListing()})
	case "tools/call":
		ctx, cancel := s.requestContext(r)
		defer cancel()
		res, err := s.tools.Invoke(ctx, req.Params.Name, req.Params.Arguments)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "resources/read":
		name, ok := appNameFromURI(req.Params.URI)
		if !ok {
			writeError(w, http.StatusNotFound, "Resource not found")
			return
		}
		html, err := apps.HTML(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "Resource not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"contents": []map[string]any{{
				"uri":      req.Params.URI,
				"mimeType": "text/html",
				"text":     string(html),
			}},
		})
	case "resources/list":
		var resources []map[string]any
		for _, d := range apps.List() {
			resources = append(resources, map[string]any{
				"uri":      d.ResourceURI(),
				"name":     d.Title,
				"mimeType": "text/html",
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
	default:
		writeError(w, http.StatusBadRequest, "Unknown method")
	}
}

// toolListing decorates catalog definitions with their UI resource, the way
// MCP apps advertise renderable tools.
func (s *Server) toolListing() []map[string]any {
	defs := s.tools.Definitions()
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		item := map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema,
		}
		if app, ok := s.tools.AppFor(def.Name); ok {
			if d, err := apps.Get(app); err == nil {
				item["_meta"] = map[string]any{"ui": map[string]any{"resourceUri": d.ResourceURI()}}
			}
		}
		out = append(out, item)
	}
	return out
}

func appNameFromURI(uri string) (string, bool) {
	// ui://<app>/app.html
	const prefix = "ui://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", false
	}
	rest := uri[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], i > 0
		}
	}
	return "", false
}
