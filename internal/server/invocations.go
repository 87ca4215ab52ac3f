package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gaspardpetit/appbridge/core/logx"
	"github.com/gaspardpetit/appbridge/internal/apps"
	"github.com/gaspardpetit/appbridge/internal/bridge"
	"github.com/gaspardpetit/appbridge/internal/protocol"
	"github.com/gaspardpetit/appbridge/internal/serverstate"
)

type invokeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// sessionInfo is handed to the page embedding the hosted application.
type sessionInfo struct {
	ID          string `json:"id"`
	Token       string `json:"token"`
	App         string `json:"app"`
	ResourceURL string `json:"resourceUrl"`
}

type invokeResponse struct {
	Result  any          `json:"result"`
	Session *sessionInfo `json:"session,omitempty"`
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

// handleCreateInvocation runs a tool and, for tools rendered by a hosted
// application, opens a bridge session. The tool input is offered before the
// result so the app observes them in that order once it attaches.
func (s *Server) handleCreateInvocation(w http.ResponseWriter, r *http.Request) {
	if serverstate.IsDraining() {
		writeError(w, http.StatusServiceUnavailable, "draining")
		return
	}
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.tools.Has(req.Tool) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown tool: %s", req.Tool))
		return
	}

	var resp invokeResponse
	var sess *bridge.Session
	if appName, ok := s.tools.AppFor(req.Tool); ok {
		def, err := apps.Get(appName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		grace := def.ReadyGrace
		if grace == 0 {
			grace = s.cfg.ReadyGrace
		}
		var token string
		sess, token = s.sessions.Create(bridge.Options{
			Tool:        req.Tool,
			ReadyGrace:  grace,
			HostContext: s.hostCtx,
			Invoker:     s.tools,
		})
		sess.OfferToolInput(req.Arguments)
		resp.Session = &sessionInfo{
			ID:          sess.ID(),
			Token:       token,
			App:         appName,
			ResourceURL: fmt.Sprintf("/resource/%s?session=%s&token=%s", appName, sess.ID(), token),
		}
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.tools.Invoke(ctx, req.Tool, req.Arguments)
	if err != nil {
		if sess != nil {
			sess.Fail(err)
			s.sessions.Remove(sess.ID())
			resp.Session = nil
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Result = res
	if sess != nil {
		params := protocol.ResultFromMCP(res)
		params.Meta = map[string]any{"viewUUID": uuid.NewString()}
		sess.OfferToolResult(params)
		logx.Log.Info().Str("session", sess.ID()).Str("tool", req.Tool).Msg("invocation opened")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")
	s.ws.Serve(w, r, id, token)
}

// handleRefresh re-runs the session's tool and pushes the fresh result.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var req struct {
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.tools.Invoke(ctx, sess.Tool(), req.Arguments)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess.OfferToolInput(req.Arguments)
	params := protocol.ResultFromMCP(res)
	params.Meta = map[string]any{"viewUUID": uuid.NewString()}
	sess.OfferToolResult(params)
	writeJSON(w, http.StatusOK, res)
}

// handleContext replaces a session's host context; pushing an unchanged
// context is a no-op on the session side.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var hc protocol.HostContext
	if err := json.NewDecoder(r.Body).Decode(&hc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess.UpdateHostContext(hc)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.sessions.Remove(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "torn down"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	if serverstate.IsDraining() {
		writeError(w, http.StatusServiceUnavailable, "draining")
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	turn, err := s.agent.Decide(ctx, req.Prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	// Open a session per renderable tool call so the front end can embed
	// each hosted application.
	type chatSession struct {
		Tool string `json:"tool"`
		sessionInfo
	}
	var opened []chatSession
	for _, call := range turn.ToolCalls {
		appName, ok := s.tools.AppFor(call.Name)
		if !ok {
			continue
		}
		def, err := apps.Get(appName)
		if err != nil {
			continue
		}
		grace := def.ReadyGrace
		if grace == 0 {
			grace = s.cfg.ReadyGrace
		}
		sess, token := s.sessions.Create(bridge.Options{
			Tool:        call.Name,
			ReadyGrace:  grace,
			HostContext: s.hostCtx,
			Invoker:     s.tools,
		})
		sess.OfferToolInput(call.Arguments)
		params := protocol.ResultFromMCP(call.Result)
		params.Meta = map[string]any{"viewUUID": uuid.NewString()}
		sess.OfferToolResult(params)
		opened = append(opened, chatSession{
			Tool: call.Name,
			sessionInfo: sessionInfo{
				ID:          sess.ID(),
				Token:       token,
				App:         appName,
				ResourceURL: fmt.Sprintf("/resource/%s?session=%s&token=%s", appName, sess.ID(), token),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"turn":     turn,
		"sessions": opened,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	type sessionState struct {
		ID            string                      `json:"id"`
		Tool          string                      `json:"tool"`
		State         string                      `json:"state"`
		Dialect       string                      `json:"dialect,omitempty"`
		PendingInput  bool                        `json:"pendingInput"`
		PendingResult bool                        `json:"pendingResult"`
		Size          *protocol.SizeChangedParams `json:"size,omitempty"`
	}
	live := s.sessions.Snapshot()
	out := make([]sessionState, 0, len(live))
	for _, sess := range live {
		pendingInput, pendingResult := sess.HasPending()
		out = append(out, sessionState{
			ID:            sess.ID(),
			Tool:          sess.Tool(),
			State:         sess.State().String(),
			Dialect:       string(sess.Dialect()),
			PendingInput:  pendingInput,
			PendingResult: pendingResult,
			Size:          sess.LastReportedSize(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   serverstate.GetState(),
		"draining": serverstate.IsDraining(),
		"sessions": out,
	})
}
