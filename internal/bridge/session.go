// Package bridge implements the host side of the host/app bridge protocol:
// one Session per rendered tool call, owning the sandboxed channel to its
// hosted application, the handshake, and delivery ordering.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/appbridge/core/logx"
	"github.com/gaspardpetit/appbridge/internal/protocol"
)

// State is the lifecycle position of a bridge session.
type State int

const (
	StateLoading State = iota
	StateWaitingForHandshake
	StateReady
	StateFailed
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateWaitingForHandshake:
		return "waiting_for_handshake"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Dialect records which handshake form the hosted application spoke.
type Dialect string

const (
	DialectUnknown    Dialect = ""
	DialectNegotiated Dialect = "negotiated" // ui/initialize request + initialized notification
	DialectAnnounced  Dialect = "announced"  // single app-initialized notification
	DialectAssumed    Dialect = "assumed"    // grace period elapsed, app is passive
)

// Invoker executes a named server tool on behalf of a hosted application.
// Implementations must be safe for concurrent use across tool names.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// DefaultReadyGrace bounds how long a session waits for any handshake
// message before assuming the hosted application is passive.
const DefaultReadyGrace = 1500 * time.Millisecond

const sendTimeout = 10 * time.Second

// Options configure a new session.
type Options struct {
	ID   string
	Tool string

	// ReadyGrace overrides DefaultReadyGrace; heavy apps may need longer.
	ReadyGrace time.Duration

	Capabilities *protocol.HostCapabilities
	HostInfo     protocol.HostInfo
	HostContext  protocol.HostContext

	Invoker Invoker
}

// Session is the host-side state for one hosted application instance.
// All exported methods are safe for concurrent use; internally the session
// serializes on one mutex, so message handling is effectively event-driven.
type Session struct {
	id   string
	tool string

	mu      sync.Mutex
	state   State
	dialect Dialect
	conn    Conn
	failure error

	caps    protocol.HostCapabilities
	info    protocol.HostInfo
	hostCtx protocol.HostContext

	// Single-slot buffers, overwritten if superseded before delivery.
	pendingInput  *protocol.ToolInputParams
	pendingResult *protocol.ToolResultParams

	// sentCtx is the host context last delivered to the app, either in an
	// initialize result or as a context-changed notification. nil until the
	// app has seen any context.
	sentCtx *protocol.HostContext

	invoker  Invoker
	inflight map[string]struct{}

	readyGrace time.Duration
	graceTimer *time.Timer

	lastSize *protocol.SizeChangedParams
}

// NewSession creates a session in the Loading state.
func NewSession(opts Options) *Session {
	caps := protocol.DefaultCapabilities()
	if opts.Capabilities != nil {
		caps = *opts.Capabilities
	}
	grace := opts.ReadyGrace
	if grace <= 0 {
		grace = DefaultReadyGrace
	}
	info := opts.HostInfo
	if info.Name == "" {
		info = protocol.HostInfo{Name: "appbridge", Version: "dev"}
	}
	s := &Session{
		id:         opts.ID,
		tool:       opts.Tool,
		state:      StateLoading,
		caps:       caps,
		info:       info,
		hostCtx:    opts.HostContext,
		invoker:    opts.Invoker,
		inflight:   map[string]struct{}{},
		readyGrace: grace,
	}
	sessionsActive.Inc()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Tool returns the tool name this session renders.
func (s *Session) Tool() string { return s.tool }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dialect returns the handshake dialect observed so far.
func (s *Session) Dialect() Dialect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialect
}

// Attach binds the hosted application's channel to the session. The channel
// existing is the explicit load-complete signal: markup alone does not mean
// the app's scripts are running, so loading ends only when the app connects.
// Attach starts the ready-grace timer.
func (s *Session) Attach(conn Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading {
		return fmt.Errorf("bridge: attach in state %s", s.state)
	}
	s.conn = conn
	s.state = StateWaitingForHandshake
	s.graceTimer = time.AfterFunc(s.readyGrace, s.graceElapsed)
	return nil
}

// Fail moves a non-terminal session to the Failed state. The consumer is
// expected to surface err to the user.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed || s.state == StateTornDown {
		return
	}
	s.failure = err
	s.setState(StateFailed)
	s.stopGraceLocked()
	if s.conn != nil {
		_ = s.conn.Close("failed")
	}
	logx.Log.Warn().Str("session", s.id).Str("tool", s.tool).Err(err).Msg("bridge session failed")
}

// Failure returns the error recorded by Fail, if any.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Teardown releases the session. Further inbound messages are ignored and
// responses to in-flight app requests are discarded.
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTornDown {
		return
	}
	s.setState(StateTornDown)
	s.stopGraceLocked()
	if s.conn != nil {
		_ = s.conn.Close("torn down")
		s.conn = nil
	}
	s.pendingInput = nil
	s.pendingResult = nil
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	if next == StateFailed || next == StateTornDown {
		if s.state != StateFailed && s.state != StateTornDown {
			sessionsActive.Dec()
		}
	}
	s.state = next
}

func (s *Session) stopGraceLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// graceElapsed fires when no handshake arrived in time. Passive apps never
// announce readiness, so the session force-transitions to avoid deadlock.
func (s *Session) graceElapsed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWaitingForHandshake {
		return
	}
	s.dialect = DialectAssumed
	logx.Log.Debug().Str("session", s.id).Str("tool", s.tool).Msg("no handshake within grace period; assuming passive app")
	s.enterReadyLocked()
}

// enterReadyLocked performs the Ready transition, delivers the host context
// if the app has not seen the current one, and flushes buffered payloads,
// input strictly before result.
func (s *Session) enterReadyLocked() {
	s.stopGraceLocked()
	s.setState(StateReady)
	handshakesTotal.WithLabelValues(string(s.dialect)).Inc()
	// Announced and assumed dialects never receive an initialize result, so
	// the app learns its context here; a context updated after the initialize
	// response is re-delivered the same way.
	if s.sentCtx == nil || !s.sentCtx.Equal(s.hostCtx) {
		s.pushContextLocked()
	}
	if s.pendingInput != nil {
		s.notifyLocked(protocol.MethodToolInput, *s.pendingInput)
		s.pendingInput = nil
	}
	if s.pendingResult != nil {
		s.notifyLocked(protocol.MethodToolResult, *s.pendingResult)
		s.pendingResult = nil
	}
}

// OfferToolInput delivers final tool arguments, buffering until Ready.
func (s *Session) OfferToolInput(args map[string]any) {
	s.offerInput(protocol.ToolInputParams{Arguments: args})
}

// OfferPartialToolInput delivers a streaming argument fragment. Partial
// inputs share the single input slot, so only the latest fragment survives
// until readiness.
func (s *Session) OfferPartialToolInput(fragment string) {
	s.offerInput(protocol.ToolInputParams{PartialArguments: fragment})
}

func (s *Session) offerInput(p protocol.ToolInputParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		s.notifyLocked(protocol.MethodToolInput, p)
	case StateLoading, StateWaitingForHandshake:
		if s.pendingInput != nil {
			dropMessage("superseded_input")
		}
		s.pendingInput = &p
	default:
		dropMessage("session_terminal")
	}
}

// OfferToolResult delivers a tool result, buffering until Ready. A result
// superseded before delivery is dropped: last write wins.
func (s *Session) OfferToolResult(p protocol.ToolResultParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		s.notifyLocked(protocol.MethodToolResult, p)
	case StateLoading, StateWaitingForHandshake:
		if s.pendingResult != nil {
			dropMessage("superseded_result")
		}
		s.pendingResult = &p
	default:
		dropMessage("session_terminal")
	}
}

// UpdateHostContext replaces the host context. When the session is Ready
// and the context actually changed, a notification is pushed immediately;
// changes applied earlier are delivered when the session becomes Ready.
// Re-applying an identical context is a no-op.
func (s *Session) UpdateHostContext(hc protocol.HostContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hostCtx.Equal(hc) {
		return
	}
	s.hostCtx = hc
	if s.state == StateReady {
		s.pushContextLocked()
	}
}

// pushContextLocked notifies the app of the current host context and records
// it as delivered.
func (s *Session) pushContextLocked() {
	cp := s.hostCtx
	s.sentCtx = &cp
	s.notifyLocked(protocol.MethodHostContextChanged, cp)
}

// HostContext returns the current host context.
func (s *Session) HostContext() protocol.HostContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostCtx
}

// LastReportedSize returns the most recent size-changed report, if any.
func (s *Session) LastReportedSize() *protocol.SizeChangedParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSize == nil {
		return nil
	}
	cp := *s.lastSize
	return &cp
}

// HasPending reports whether undelivered input/result payloads are buffered.
func (s *Session) HasPending() (input, result bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingInput != nil, s.pendingResult != nil
}

// HandleMessage processes one raw inbound message from the hosted
// application. Transports must only call this for messages originating from
// the exact channel attached to this session; anything else was already
// rejected at attach time.
func (s *Session) HandleMessage(raw []byte) {
	env, kind := protocol.Parse(raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTornDown || s.state == StateFailed {
		dropMessage("session_terminal")
		return
	}
	switch kind {
	case protocol.KindMalformed:
		dropMessage("malformed")
		logx.Log.Debug().Str("session", s.id).Msg("dropping malformed envelope")
	case protocol.KindRequest:
		s.handleRequestLocked(env)
	case protocol.KindNotification:
		s.handleNotificationLocked(env)
	case protocol.KindResponse:
		// The host issues no requests toward apps, so responses are noise.
		dropMessage("unexpected_response")
	}
}

func (s *Session) handleRequestLocked(env *protocol.Envelope) {
	switch env.Method {
	case protocol.MethodPing:
		// Liveness probe; answered in any state without touching the machine.
		s.respondLocked(env.ID, struct{}{})
	case protocol.MethodInitialize:
		s.handleInitializeLocked(env)
	case protocol.MethodToolsCall:
		s.handleToolsCallLocked(env)
	case protocol.MethodRequestDisplayMode:
		s.handleDisplayModeLocked(env)
	default:
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeMethodNotFound, "unknown method: "+env.Method))
	}
}

func (s *Session) handleNotificationLocked(env *protocol.Envelope) {
	switch env.Method {
	case protocol.MethodInitialized:
		if s.state == StateReady {
			return // duplicate, no-op
		}
		if s.state != StateWaitingForHandshake || s.dialect != DialectNegotiated {
			dropMessage("handshake_order")
			return
		}
		s.enterReadyLocked()
	case protocol.MethodAppInitialized:
		if s.state == StateReady {
			return // duplicate, no-op
		}
		if s.state != StateWaitingForHandshake || s.dialect != DialectUnknown {
			// Mixing dialects is a protocol error.
			dropMessage("handshake_order")
			return
		}
		s.dialect = DialectAnnounced
		s.enterReadyLocked()
	case protocol.MethodSizeChanged:
		var p protocol.SizeChangedParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			dropMessage("malformed")
			return
		}
		s.lastSize = &p
	default:
		dropMessage("unknown_notification")
	}
}

func (s *Session) handleInitializeLocked(env *protocol.Envelope) {
	result := protocol.InitializeResult{
		ProtocolVersion:  protocol.ProtocolVersion,
		HostCapabilities: s.caps,
		HostInfo:         s.info,
		HostContext:      s.hostCtx,
	}
	switch {
	case s.state == StateWaitingForHandshake && s.dialect == DialectUnknown:
		s.dialect = DialectNegotiated
		cp := s.hostCtx
		s.sentCtx = &cp
		s.respondLocked(env.ID, result)
		// Not Ready yet: the app confirms with the initialized notification.
	case s.state == StateReady:
		// Duplicate initialize: answer idempotently, no transition.
		cp := s.hostCtx
		s.sentCtx = &cp
		s.respondLocked(env.ID, result)
	default:
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeInvalidRequest, "initialize not expected"))
	}
}

func (s *Session) handleToolsCallLocked(env *protocol.Envelope) {
	if s.caps.ServerTools == nil {
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeCapabilityDenied, "serverTools capability not granted"))
		return
	}
	if s.state != StateReady {
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeNotReady, "session not ready"))
		return
	}
	if s.invoker == nil {
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeInternalError, "no tool invoker configured"))
		return
	}
	var p protocol.ToolsCallParams
	if err := json.Unmarshal(env.Params, &p); err != nil || p.Name == "" {
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeInvalidParams, "tools/call requires a tool name"))
		return
	}
	key := env.IDKey()
	if _, dup := s.inflight[key]; dup {
		// Reused id while the original is in flight: protocol error, dropped.
		dropMessage("id_collision")
		logx.Log.Debug().Str("session", s.id).Str("id", key).Msg("dropping tools/call with in-flight id")
		return
	}
	s.inflight[key] = struct{}{}
	id := slices.Clone(env.ID)
	// The invocation runs outside the session lock; the response is
	// re-correlated (and possibly discarded) when it completes.
	go s.invokeAndRespond(id, key, p)
}

// invokeAndRespond services one app-initiated tools/call. Every exit path
// sends exactly one response unless the session was torn down meanwhile.
func (s *Session) invokeAndRespond(id json.RawMessage, key string, p protocol.ToolsCallParams) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var env *protocol.Envelope
	res, err := s.safeInvoke(ctx, p)
	if err != nil {
		env = protocol.NewError(id, protocol.CodeToolError, err.Error())
		appToolCallsTotal.WithLabelValues("error").Inc()
	} else {
		env, err = protocol.NewResult(id, res)
		if err != nil {
			env = protocol.NewError(id, protocol.CodeInternalError, "unencodable tool result")
		}
		appToolCallsTotal.WithLabelValues("ok").Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
	if s.state == StateTornDown || s.state == StateFailed {
		dropMessage("response_after_teardown")
		return
	}
	s.sendLocked(env)
}

// safeInvoke shields the session from a panicking tool implementation; the
// caller still receives a correlated error response.
func (s *Session) safeInvoke(ctx context.Context, p protocol.ToolsCallParams) (_ *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", p.Name, r)
		}
	}()
	return s.invoker.Invoke(ctx, p.Name, p.Arguments)
}

func (s *Session) handleDisplayModeLocked(env *protocol.Envelope) {
	var p protocol.RequestDisplayModeParams
	if err := json.Unmarshal(env.Params, &p); err != nil || p.Mode == "" {
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeInvalidParams, "display mode request requires a mode"))
		return
	}
	if s.caps.DisplayMode == nil {
		s.sendLocked(protocol.NewError(env.ID, protocol.CodeCapabilityDenied, "displayMode capability not granted"))
		return
	}
	granted := s.hostCtx.DisplayMode
	if slices.Contains(s.hostCtx.AvailableDisplayModes, p.Mode) {
		granted = p.Mode
	}
	changed := granted != s.hostCtx.DisplayMode
	s.hostCtx.DisplayMode = granted
	s.respondLocked(env.ID, protocol.RequestDisplayModeResult{DisplayMode: granted})
	if changed && s.state == StateReady {
		s.pushContextLocked()
	}
}

func (s *Session) respondLocked(id json.RawMessage, result any) {
	env, err := protocol.NewResult(id, result)
	if err != nil {
		env = protocol.NewError(id, protocol.CodeInternalError, "unencodable result")
	}
	s.sendLocked(env)
}

func (s *Session) notifyLocked(method string, params any) {
	env, err := protocol.NewNotification(method, params)
	if err != nil {
		logx.Log.Error().Str("session", s.id).Str("method", method).Err(err).Msg("unencodable notification")
		return
	}
	s.sendLocked(env)
}

// sendLocked writes under the session mutex so host-to-app messages keep
// their relative order.
func (s *Session) sendLocked(env *protocol.Envelope) {
	if s.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, env.Encode()); err != nil {
		logx.Log.Debug().Str("session", s.id).Err(err).Msg("send to hosted app failed")
	}
}
