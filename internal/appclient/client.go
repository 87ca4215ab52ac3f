// Package appclient implements the application side of the bridge protocol.
// Headless hosted apps and end-to-end tests use it to perform the handshake,
// receive tool payloads, and call back into server tools.
package appclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gaspardpetit/appbridge/core/logx"
	"github.com/gaspardpetit/appbridge/internal/protocol"
)

// Transport is a bidirectional message channel to the host bridge.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close(reason string) error
}

// ErrClosed is returned from calls made after the client shut down.
var ErrClosed = errors.New("appclient: closed")

// Client is one hosted application's connection to its bridge session.
// Callbacks run on the read loop goroutine; keep them short.
type Client struct {
	tr Transport

	OnToolInput   func(protocol.ToolInputParams)
	OnToolResult  func(protocol.ToolResultParams)
	OnHostContext func(protocol.HostContext)

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]chan *protocol.Envelope
	hostCtx protocol.HostContext
	hasCtx  bool
	closed  bool
}

// New wraps a transport. Call Run to start the read loop before performing
// the handshake.
func New(tr Transport) *Client {
	return &Client{tr: tr, pending: map[string]chan *protocol.Envelope{}}
}

// Run reads messages until the transport closes or ctx ends. It returns the
// terminating error, or nil on orderly close.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()
	for {
		raw, err := c.tr.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.dispatch(raw)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) dispatch(raw []byte) {
	env, kind := protocol.Parse(raw)
	switch kind {
	case protocol.KindResponse:
		c.mu.Lock()
		ch, ok := c.pending[env.IDKey()]
		if ok {
			delete(c.pending, env.IDKey())
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	case protocol.KindNotification:
		c.handleNotification(env)
	case protocol.KindRequest:
		// The host sends no requests toward apps.
		logx.Log.Debug().Str("method", env.Method).Msg("ignoring request from host")
	case protocol.KindMalformed:
		logx.Log.Debug().Msg("ignoring malformed message from host")
	}
}

func (c *Client) handleNotification(env *protocol.Envelope) {
	switch env.Method {
	case protocol.MethodToolInput:
		var p protocol.ToolInputParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return
		}
		if c.OnToolInput != nil {
			c.OnToolInput(p)
		}
	case protocol.MethodToolResult:
		var p protocol.ToolResultParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return
		}
		if c.OnToolResult != nil {
			c.OnToolResult(p)
		}
	case protocol.MethodHostContextChanged:
		var hc protocol.HostContext
		if err := json.Unmarshal(env.Params, &hc); err != nil {
			return
		}
		c.applyHostContext(hc)
	}
}

// applyHostContext updates local state and fires the callback only when the
// context actually changed, so redundant pushes are invisible to the app.
func (c *Client) applyHostContext(hc protocol.HostContext) {
	c.mu.Lock()
	if c.hasCtx && c.hostCtx.Equal(hc) {
		c.mu.Unlock()
		return
	}
	c.hostCtx = hc
	c.hasCtx = true
	c.mu.Unlock()
	if c.OnHostContext != nil {
		c.OnHostContext(hc)
	}
}

// HostContext returns the last context received from the host.
func (c *Client) HostContext() protocol.HostContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostCtx
}

// Initialize performs the two-step handshake: a ui/initialize request, then
// the initialized notification once the host's answer arrives. The returned
// result carries the host's capabilities and initial context.
func (c *Client) Initialize(ctx context.Context, params protocol.InitializeParams) (*protocol.InitializeResult, error) {
	env, err := c.request(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, fmt.Errorf("appclient: initialize rejected: %s", env.Error.Message)
	}
	var res protocol.InitializeResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("appclient: decoding initialize result: %w", err)
	}
	c.applyHostContext(res.HostContext)
	if err := c.notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// Announce performs the single-notification handshake used by apps that do
// not need the host's capabilities up front.
func (c *Client) Announce(ctx context.Context) error {
	return c.notify(ctx, protocol.MethodAppInitialized, nil)
}

// CallTool invokes a server tool through the bridge and returns the raw
// result payload.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	env, err := c.request(ctx, protocol.MethodToolsCall, protocol.ToolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, fmt.Errorf("appclient: tool %s: %s", name, env.Error.Message)
	}
	return env.Result, nil
}

// Ping checks the host is still answering.
func (c *Client) Ping(ctx context.Context) error {
	env, err := c.request(ctx, protocol.MethodPing, nil)
	if err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("appclient: ping: %s", env.Error.Message)
	}
	return nil
}

// RequestDisplayMode asks the host for a display mode and returns the mode
// actually in effect afterwards.
func (c *Client) RequestDisplayMode(ctx context.Context, mode string) (string, error) {
	env, err := c.request(ctx, protocol.MethodRequestDisplayMode, protocol.RequestDisplayModeParams{Mode: mode})
	if err != nil {
		return "", err
	}
	if env.Error != nil {
		return "", fmt.Errorf("appclient: display mode: %s", env.Error.Message)
	}
	var res protocol.RequestDisplayModeResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return "", err
	}
	return res.DisplayMode, nil
}

// ReportSize tells the host the app's preferred dimensions.
func (c *Client) ReportSize(ctx context.Context, width, height float64) error {
	return c.notify(ctx, protocol.MethodSizeChanged, protocol.SizeChangedParams{Width: width, Height: height})
}

// Close shuts down the transport.
func (c *Client) Close() error {
	return c.tr.Close("client closed")
}

func (c *Client) request(ctx context.Context, method string, params any) (*protocol.Envelope, error) {
	id := "app-" + strconv.FormatInt(c.nextID.Add(1), 10)
	env, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	ch := make(chan *protocol.Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[`"`+id+`"`] = ch
	c.mu.Unlock()

	if err := c.tr.Send(ctx, env.Encode()); err != nil {
		c.mu.Lock()
		delete(c.pending, `"`+id+`"`)
		c.mu.Unlock()
		return nil, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, `"`+id+`"`)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	env, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.tr.Send(ctx, env.Encode())
}
