package protocol

import (
	"bytes"
	"encoding/json"
)

// Methods a hosted application may send to the host.
const (
	MethodInitialize         = "ui/initialize"
	MethodInitialized        = "ui/notifications/initialized"
	MethodAppInitialized     = "ui/notifications/app-initialized"
	MethodToolsCall          = "tools/call"
	MethodSizeChanged        = "ui/notifications/size-changed"
	MethodRequestDisplayMode = "ui/request-display-mode"
	MethodPing               = "ping"
)

// Methods the host sends to a hosted application.
const (
	MethodToolInput          = "ui/notifications/tool-input"
	MethodToolResult         = "ui/notifications/tool-result"
	MethodHostContextChanged = "ui/notifications/host-context-changed"
)

// Capability is an empty marker granted by name at handshake time.
type Capability struct{}

// HostCapabilities is the set of capabilities the host offers a hosted app.
// A nil member means the capability is not granted.
type HostCapabilities struct {
	OpenLinks   *Capability `json:"openLinks,omitempty"`
	ServerTools *Capability `json:"serverTools,omitempty"`
	Logging     *Capability `json:"logging,omitempty"`
	DisplayMode *Capability `json:"displayMode,omitempty"`
}

// DefaultCapabilities is what sessions grant unless configured otherwise.
func DefaultCapabilities() HostCapabilities {
	return HostCapabilities{
		OpenLinks:   &Capability{},
		ServerTools: &Capability{},
		Logging:     &Capability{},
		DisplayMode: &Capability{},
	}
}

// HostInfo identifies the host implementation during the handshake.
type HostInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SafeAreaInsets are layout insets in CSS pixels.
type SafeAreaInsets struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// HostContext is the ambient display state the host pushes to hosted apps.
// It is owned by the host and delivered by notification, never polled.
type HostContext struct {
	Theme                 string            `json:"theme,omitempty"`
	Platform              string            `json:"platform,omitempty"`
	StyleVariables        map[string]string `json:"styleVariables,omitempty"`
	SafeAreaInsets        *SafeAreaInsets   `json:"safeAreaInsets,omitempty"`
	DisplayMode           string            `json:"displayMode,omitempty"`
	AvailableDisplayModes []string          `json:"availableDisplayModes,omitempty"`
}

// Equal reports whether two contexts would serialize identically, which is
// what a hosted application observes.
func (c HostContext) Equal(other HostContext) bool {
	a, _ := json.Marshal(c)
	b, _ := json.Marshal(other)
	return bytes.Equal(a, b)
}

// InitializeParams is what a hosted app sends in a ui/initialize request.
type InitializeParams struct {
	AppInfo *struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"appInfo,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

// InitializeResult is the host's response to ui/initialize.
type InitializeResult struct {
	ProtocolVersion  string           `json:"protocolVersion"`
	HostCapabilities HostCapabilities `json:"hostCapabilities"`
	HostInfo         HostInfo         `json:"hostInfo"`
	HostContext      HostContext      `json:"hostContext"`
}

// ToolInputParams carries tool arguments to a hosted app. While arguments are
// still streaming from the model, PartialArguments holds the accumulated JSON
// fragment and Arguments is nil; the final notification carries Arguments.
type ToolInputParams struct {
	Arguments        map[string]any `json:"arguments,omitempty"`
	PartialArguments string         `json:"partialArguments,omitempty"`
}

// Partial reports whether the input is still streaming.
func (p ToolInputParams) Partial() bool { return p.Arguments == nil }

// ContentItem is one text-bearing part of a tool result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResultParams carries a tool result to a hosted app.
type ToolResultParams struct {
	Content           []ContentItem  `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
	Meta              map[string]any `json:"_meta,omitempty"`
}

// ToolsCallParams is an app-initiated server tool call.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// SizeChangedParams reports the hosted app's preferred size.
type SizeChangedParams struct {
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// RequestDisplayModeParams asks the host for a different display mode.
type RequestDisplayModeParams struct {
	Mode string `json:"mode"`
}

// RequestDisplayModeResult reports the mode actually in effect; hosts may
// decline by answering with the current mode.
type RequestDisplayModeResult struct {
	DisplayMode string `json:"displayMode"`
}
