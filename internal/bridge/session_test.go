package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/appbridge/internal/protocol"
)

type invokerFunc func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

func (f invokerFunc) Invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return f(ctx, name, args)
}

func echoInvoker() Invoker {
	return invokerFunc(func(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(fmt.Sprintf("called %s", name)), nil
	})
}

func newTestSession(t *testing.T, grace time.Duration, inv Invoker) (*Session, *PipeEnd) {
	t.Helper()
	s := NewSession(Options{
		ID:         "sess-test",
		Tool:       "calculate",
		ReadyGrace: grace,
		HostContext: protocol.HostContext{
			Theme:                 "dark",
			DisplayMode:           "inline",
			AvailableDisplayModes: []string{"inline", "fullscreen"},
		},
		Invoker: inv,
	})
	host, app := NewPipe(32)
	if err := s.Attach(host); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(s.Teardown)
	return s, app
}

func recvEnvelope(t *testing.T, app *PipeEnd) *protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := app.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	env, kind := protocol.Parse(raw)
	if kind == protocol.KindMalformed {
		t.Fatalf("host sent malformed message: %s", raw)
	}
	return env
}

func expectSilence(t *testing.T, app *PipeEnd) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if raw, err := app.Receive(ctx); err == nil {
		t.Fatalf("unexpected message from host: %s", raw)
	}
}

func sendRaw(t *testing.T, s *Session, raw string) {
	t.Helper()
	s.HandleMessage([]byte(raw))
}

func completeNegotiatedHandshake(t *testing.T, s *Session, app *PipeEnd) {
	t.Helper()
	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"ui/initialize","params":{}}`)
	env := recvEnvelope(t, app)
	if env.Error != nil {
		t.Fatalf("initialize rejected: %+v", env.Error)
	}
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/initialized"}`)
	if got := s.State(); got != StateReady {
		t.Fatalf("state after handshake = %v; want ready", got)
	}
}

// completeAnnouncedHandshake announces readiness and consumes the host
// context delivery that follows, leaving the channel at the next payload.
func completeAnnouncedHandshake(t *testing.T, s *Session, app *PipeEnd) {
	t.Helper()
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/app-initialized"}`)
	if got := s.State(); got != StateReady {
		t.Fatalf("state after announce = %v; want ready", got)
	}
	env := recvEnvelope(t, app)
	if env.Method != protocol.MethodHostContextChanged {
		t.Fatalf("first message after announce = %q; want host context", env.Method)
	}
}

func TestNegotiatedHandshake(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)

	sendRaw(t, s, `{"jsonrpc":"2.0","id":"init-1","method":"ui/initialize","params":{"appInfo":{"name":"calc","version":"1.0"}}}`)
	env := recvEnvelope(t, app)
	if env.IDKey() != `"init-1"` {
		t.Fatalf("response id = %q", env.IDKey())
	}
	var res protocol.InitializeResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		t.Fatalf("decoding initialize result: %v", err)
	}
	if res.ProtocolVersion != protocol.ProtocolVersion {
		t.Errorf("protocolVersion = %q", res.ProtocolVersion)
	}
	if res.HostContext.Theme != "dark" {
		t.Errorf("hostContext.theme = %q", res.HostContext.Theme)
	}

	// The response alone does not complete the handshake.
	if got := s.State(); got != StateWaitingForHandshake {
		t.Fatalf("state after initialize = %v; want waiting", got)
	}

	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/initialized"}`)
	if got := s.State(); got != StateReady {
		t.Fatalf("state = %v; want ready", got)
	}
	if got := s.Dialect(); got != DialectNegotiated {
		t.Fatalf("dialect = %q", got)
	}
}

func TestAnnouncedHandshake(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/app-initialized"}`)
	if got := s.State(); got != StateReady {
		t.Fatalf("state = %v; want ready", got)
	}
	if got := s.Dialect(); got != DialectAnnounced {
		t.Fatalf("dialect = %q", got)
	}

	// The announced dialect gets no initialize result, so the host context
	// is delivered as a notification upon readiness.
	env := recvEnvelope(t, app)
	if env.Method != protocol.MethodHostContextChanged {
		t.Fatalf("method = %q; want host context delivery", env.Method)
	}
	var hc protocol.HostContext
	if err := json.Unmarshal(env.Params, &hc); err != nil {
		t.Fatalf("decoding host context: %v", err)
	}
	if hc.Theme != "dark" {
		t.Fatalf("delivered theme = %q", hc.Theme)
	}
	expectSilence(t, app)
}

func TestHandshakeHappensExactlyOnce(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	completeNegotiatedHandshake(t, s, app)
	s.OfferToolInput(map[string]any{"expression": "2 + 2"})
	recvEnvelope(t, app) // consume the input notification

	// Duplicate completion notifications are no-ops.
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/initialized"}`)
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/app-initialized"}`)
	if got := s.State(); got != StateReady {
		t.Fatalf("state = %v; want ready", got)
	}
	expectSilence(t, app)

	// A duplicate initialize is answered idempotently without re-transitioning.
	sendRaw(t, s, `{"jsonrpc":"2.0","id":2,"method":"ui/initialize","params":{}}`)
	env := recvEnvelope(t, app)
	if env.Error != nil {
		t.Fatalf("duplicate initialize rejected: %+v", env.Error)
	}
	if got := s.Dialect(); got != DialectNegotiated {
		t.Fatalf("dialect changed to %q", got)
	}
}

func TestPassiveAppReachesReadyAfterGrace(t *testing.T) {
	s, app := newTestSession(t, 30*time.Millisecond, nil)
	s.OfferToolInput(map[string]any{"shader": "plasma"})
	s.OfferToolResult(protocol.ToolResultParams{Content: []protocol.ContentItem{{Type: "text", Text: "rendered"}}})

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateReady {
		if time.Now().After(deadline) {
			t.Fatal("session never became ready after grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Dialect(); got != DialectAssumed {
		t.Fatalf("dialect = %q; want assumed", got)
	}

	// A passive app still learns its host context on the forced transition.
	ctxPush := recvEnvelope(t, app)
	if ctxPush.Method != protocol.MethodHostContextChanged {
		t.Fatalf("first message = %q; want host context", ctxPush.Method)
	}
	// Buffered payloads flush next, input first.
	first := recvEnvelope(t, app)
	if first.Method != protocol.MethodToolInput {
		t.Fatalf("first flushed method = %q; want tool-input", first.Method)
	}
	second := recvEnvelope(t, app)
	if second.Method != protocol.MethodToolResult {
		t.Fatalf("second flushed method = %q; want tool-result", second.Method)
	}
}

func TestInputDeliveredBeforeResult(t *testing.T) {
	arrivals := []struct {
		name  string
		offer func(s *Session)
	}{
		{"input then result", func(s *Session) {
			s.OfferToolInput(map[string]any{"city": "Paris"})
			s.OfferToolResult(protocol.ToolResultParams{Content: []protocol.ContentItem{{Type: "text", Text: "22C"}}})
		}},
		{"result then input", func(s *Session) {
			s.OfferToolResult(protocol.ToolResultParams{Content: []protocol.ContentItem{{Type: "text", Text: "22C"}}})
			s.OfferToolInput(map[string]any{"city": "Paris"})
		}},
	}
	for _, tc := range arrivals {
		t.Run(tc.name, func(t *testing.T) {
			s, app := newTestSession(t, time.Hour, nil)
			tc.offer(s)
			completeAnnouncedHandshake(t, s, app)

			first := recvEnvelope(t, app)
			if first.Method != protocol.MethodToolInput {
				t.Fatalf("first delivered method = %q; want tool-input", first.Method)
			}
			second := recvEnvelope(t, app)
			if second.Method != protocol.MethodToolResult {
				t.Fatalf("second delivered method = %q; want tool-result", second.Method)
			}
		})
	}
}

func TestSupersededResultIsDropped(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	s.OfferToolResult(protocol.ToolResultParams{Content: []protocol.ContentItem{{Type: "text", Text: "stale"}}})
	s.OfferToolResult(protocol.ToolResultParams{Content: []protocol.ContentItem{{Type: "text", Text: "fresh"}}})
	completeAnnouncedHandshake(t, s, app)

	env := recvEnvelope(t, app)
	var p protocol.ToolResultParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		t.Fatalf("decoding result params: %v", err)
	}
	if len(p.Content) != 1 || p.Content[0].Text != "fresh" {
		t.Fatalf("delivered content = %+v; want only the fresh result", p.Content)
	}
	expectSilence(t, app)
}

func TestPartialInputSupersededByFinal(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	s.OfferPartialToolInput(`{"expre`)
	s.OfferPartialToolInput(`{"expression": "2 +`)
	s.OfferToolInput(map[string]any{"expression": "2 + 2"})
	completeAnnouncedHandshake(t, s, app)

	env := recvEnvelope(t, app)
	var p protocol.ToolInputParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		t.Fatalf("decoding input params: %v", err)
	}
	if p.Partial() {
		t.Fatalf("delivered input still partial: %+v", p)
	}
	if p.Arguments["expression"] != "2 + 2" {
		t.Fatalf("arguments = %v", p.Arguments)
	}
	expectSilence(t, app)
}

func TestAppToolCallsCorrelateOutOfOrder(t *testing.T) {
	release := make(chan struct{})
	inv := invokerFunc(func(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
		if name == "slow" {
			<-release
		}
		return mcp.NewToolResultText(name), nil
	})
	s, app := newTestSession(t, time.Hour, inv)
	completeAnnouncedHandshake(t, s, app)

	sendRaw(t, s, `{"jsonrpc":"2.0","id":"call-slow","method":"tools/call","params":{"name":"slow"}}`)
	sendRaw(t, s, `{"jsonrpc":"2.0","id":"call-fast","method":"tools/call","params":{"name":"fast"}}`)

	first := recvEnvelope(t, app)
	if first.IDKey() != `"call-fast"` {
		t.Fatalf("first response id = %q; want the fast call", first.IDKey())
	}
	close(release)
	second := recvEnvelope(t, app)
	if second.IDKey() != `"call-slow"` {
		t.Fatalf("second response id = %q; want the slow call", second.IDKey())
	}

	var res mcp.CallToolResult
	if err := json.Unmarshal(second.Result, &res); err != nil {
		t.Fatalf("decoding call result: %v", err)
	}
}

func TestDuplicateInFlightIDDropped(t *testing.T) {
	release := make(chan struct{})
	inv := invokerFunc(func(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
		<-release
		return mcp.NewToolResultText(name), nil
	})
	s, app := newTestSession(t, time.Hour, inv)
	completeAnnouncedHandshake(t, s, app)

	sendRaw(t, s, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"get_weather"}}`)
	sendRaw(t, s, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"get_time"}}`)
	close(release)

	env := recvEnvelope(t, app)
	if env.IDKey() != "9" {
		t.Fatalf("response id = %q", env.IDKey())
	}
	expectSilence(t, app)
}

func TestToolCallBeforeReadyRejected(t *testing.T) {
	s, app := newTestSession(t, time.Hour, echoInvoker())
	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_weather"}}`)
	env := recvEnvelope(t, app)
	if env.Error == nil || env.Error.Code != protocol.CodeNotReady {
		t.Fatalf("error = %+v; want not-ready", env.Error)
	}
}

func TestToolCallWithoutCapabilityRejected(t *testing.T) {
	s := NewSession(Options{
		ID:           "sess-nocap",
		Tool:         "get_weather",
		ReadyGrace:   time.Hour,
		Capabilities: &protocol.HostCapabilities{},
		Invoker:      echoInvoker(),
	})
	host, app := NewPipe(8)
	if err := s.Attach(host); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(s.Teardown)
	completeAnnouncedHandshake(t, s, app)

	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_weather"}}`)
	env := recvEnvelope(t, app)
	if env.Error == nil || env.Error.Code != protocol.CodeCapabilityDenied {
		t.Fatalf("error = %+v; want capability denied", env.Error)
	}
}

func TestTeardownDiscardsInFlightResponses(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	inv := invokerFunc(func(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
		close(started)
		<-release
		return mcp.NewToolResultText(name), nil
	})
	s, app := newTestSession(t, time.Hour, inv)
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/app-initialized"}`)
	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_weather"}}`)
	<-started

	s.Teardown()
	close(release)

	// The response completed after teardown must not surface anywhere.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for {
		raw, err := app.Receive(ctx)
		if err != nil {
			break
		}
		env, _ := protocol.Parse(raw)
		if env != nil && env.IDKey() == "1" {
			t.Fatalf("tool response delivered after teardown: %s", raw)
		}
	}

	if got := s.State(); got != StateTornDown {
		t.Fatalf("state = %v", got)
	}
	// Terminal state is absorbing.
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/app-initialized"}`)
	if got := s.State(); got != StateTornDown {
		t.Fatalf("state after post-teardown message = %v", got)
	}
}

func TestHostContextPushIsIdempotent(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	completeAnnouncedHandshake(t, s, app)

	dark := s.HostContext()
	s.UpdateHostContext(dark)
	expectSilence(t, app)

	light := dark
	light.Theme = "light"
	s.UpdateHostContext(light)
	env := recvEnvelope(t, app)
	if env.Method != protocol.MethodHostContextChanged {
		t.Fatalf("method = %q", env.Method)
	}
	var hc protocol.HostContext
	if err := json.Unmarshal(env.Params, &hc); err != nil {
		t.Fatalf("decoding host context: %v", err)
	}
	if hc.Theme != "light" {
		t.Fatalf("pushed theme = %q", hc.Theme)
	}

	// Same value again: applied state unchanged, nothing pushed.
	s.UpdateHostContext(light)
	expectSilence(t, app)
}

func TestHostContextBeforeReadyAppliedNotPushed(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	hc := s.HostContext()
	hc.Theme = "light"
	s.UpdateHostContext(hc)
	expectSilence(t, app)

	// The handshake response carries the updated context.
	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"ui/initialize","params":{}}`)
	env := recvEnvelope(t, app)
	var res protocol.InitializeResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		t.Fatalf("decoding initialize result: %v", err)
	}
	if res.HostContext.Theme != "light" {
		t.Fatalf("handshake theme = %q", res.HostContext.Theme)
	}

	// Completing the handshake does not re-push what the result delivered.
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/initialized"}`)
	expectSilence(t, app)
}

func TestContextChangedWhileWaitingDeliveredOnReady(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	hc := s.HostContext()
	hc.Theme = "light"
	s.UpdateHostContext(hc)
	expectSilence(t, app)

	// An announced app never sees an initialize result, so the pre-ready
	// change must arrive as a notification once the session is ready.
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/app-initialized"}`)
	env := recvEnvelope(t, app)
	if env.Method != protocol.MethodHostContextChanged {
		t.Fatalf("method = %q; want host context delivery", env.Method)
	}
	var got protocol.HostContext
	if err := json.Unmarshal(env.Params, &got); err != nil {
		t.Fatalf("decoding host context: %v", err)
	}
	if got.Theme != "light" {
		t.Fatalf("delivered theme = %q; pre-ready change lost", got.Theme)
	}
	expectSilence(t, app)
}

func TestPingAnsweredInAnyState(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)

	sendRaw(t, s, `{"jsonrpc":"2.0","id":"p1","method":"ping"}`)
	env := recvEnvelope(t, app)
	if env.IDKey() != `"p1"` || env.Error != nil {
		t.Fatalf("ping before handshake: %+v", env)
	}
	if got := s.State(); got != StateWaitingForHandshake {
		t.Fatalf("ping changed state to %v", got)
	}

	completeAnnouncedHandshake(t, s, app)
	sendRaw(t, s, `{"jsonrpc":"2.0","id":"p2","method":"ping"}`)
	env = recvEnvelope(t, app)
	if env.IDKey() != `"p2"` || env.Error != nil {
		t.Fatalf("ping after handshake: %+v", env)
	}
}

func TestMalformedMessagesIgnored(t *testing.T) {
	s, app := newTestSession(t, time.Hour, echoInvoker())
	sendRaw(t, s, `{"jsonrpc":`)
	sendRaw(t, s, `{"id":1,"method":"ping"}`)
	sendRaw(t, s, `{"jsonrpc":"2.0","id":null,"result":{}}`)
	expectSilence(t, app)

	// The session still works afterwards.
	completeAnnouncedHandshake(t, s, app)
	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_time"}}`)
	env := recvEnvelope(t, app)
	if env.IDKey() != "1" || env.Error != nil {
		t.Fatalf("tool call after garbage: %+v", env)
	}
}

func TestDisplayModeRequest(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	completeAnnouncedHandshake(t, s, app)

	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"ui/request-display-mode","params":{"mode":"fullscreen"}}`)
	env := recvEnvelope(t, app)
	var res protocol.RequestDisplayModeResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		t.Fatalf("decoding display mode result: %v", err)
	}
	if res.DisplayMode != "fullscreen" {
		t.Fatalf("granted mode = %q", res.DisplayMode)
	}
	// The grant is also pushed as a context change.
	push := recvEnvelope(t, app)
	if push.Method != protocol.MethodHostContextChanged {
		t.Fatalf("expected context push, got %q", push.Method)
	}

	// Unavailable modes are declined with the current mode.
	sendRaw(t, s, `{"jsonrpc":"2.0","id":2,"method":"ui/request-display-mode","params":{"mode":"pip"}}`)
	env = recvEnvelope(t, app)
	if err := json.Unmarshal(env.Result, &res); err != nil {
		t.Fatalf("decoding display mode result: %v", err)
	}
	if res.DisplayMode != "fullscreen" {
		t.Fatalf("declined request changed mode to %q", res.DisplayMode)
	}
	expectSilence(t, app)
}

func TestUnknownRequestMethodRejected(t *testing.T) {
	s, app := newTestSession(t, time.Hour, nil)
	sendRaw(t, s, `{"jsonrpc":"2.0","id":1,"method":"ui/unknown"}`)
	env := recvEnvelope(t, app)
	if env.Error == nil || env.Error.Code != protocol.CodeMethodNotFound {
		t.Fatalf("error = %+v", env.Error)
	}
}

func TestFailIsTerminal(t *testing.T) {
	s, _ := newTestSession(t, time.Hour, nil)
	s.Fail(fmt.Errorf("load error"))
	if got := s.State(); got != StateFailed {
		t.Fatalf("state = %v", got)
	}
	if s.Failure() == nil {
		t.Fatal("failure not recorded")
	}
	sendRaw(t, s, `{"jsonrpc":"2.0","method":"ui/notifications/app-initialized"}`)
	if got := s.State(); got != StateFailed {
		t.Fatalf("failed session transitioned to %v", got)
	}
}
