// Package protocol defines the JSON-RPC 2.0 message envelope exchanged between
// the host bridge and a hosted application, along with the method names and
// parameter payloads both sides recognize.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Version is the JSON-RPC marker carried by every envelope.
const Version = "2.0"

// ProtocolVersion identifies the handshake revision offered to hosted apps.
const ProtocolVersion = "2025-01-01"

// JSON-RPC error codes used across the bridge.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeToolError        = -32000
	CodeCapabilityDenied = -32001
	CodeNotReady         = -32002
)

// Error is the error member of a response envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Kind classifies an envelope by shape.
type Kind int

const (
	KindMalformed Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Envelope is a JSON-RPC 2.0 message. Request envelopes carry ID and Method,
// notifications carry Method only, responses carry ID with Result or Error.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind reports the shape of the envelope. Envelopes that fit none of the
// three shapes, or that carry the wrong version marker, are malformed.
func (e *Envelope) Kind() Kind {
	if e.JSONRPC != Version {
		return KindMalformed
	}
	hasID := len(e.ID) > 0 && !bytes.Equal(e.ID, []byte("null"))
	switch {
	case e.Method != "" && hasID:
		return KindRequest
	case e.Method != "":
		return KindNotification
	case hasID && (len(e.Result) > 0 || e.Error != nil):
		return KindResponse
	default:
		return KindMalformed
	}
}

// IDKey returns a stable correlation key for the envelope's id. Requests from
// one party must use ids unique among that party's in-flight requests, so the
// raw bytes are sufficient as a map key.
func (e *Envelope) IDKey() string {
	return string(bytes.TrimSpace(e.ID))
}

// Parse decodes raw bytes into an envelope and classifies it.
func Parse(raw []byte) (*Envelope, Kind) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, KindMalformed
	}
	return &env, env.Kind()
}

// NewRequest builds a request envelope. The id may be a number or a string.
func NewRequest(id any, method string, params any) (*Envelope, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	env := &Envelope{JSONRPC: Version, ID: rawID, Method: method}
	if params != nil {
		if env.Params, err = json.Marshal(params); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params any) (*Envelope, error) {
	env := &Envelope{JSONRPC: Version, Method: method}
	if params != nil {
		var err error
		if env.Params, err = json.Marshal(params); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// NewResult builds a success response echoing the request id.
func NewResult(id json.RawMessage, result any) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response echoing the request id.
func NewError(id json.RawMessage, code int, message string) *Envelope {
	return &Envelope{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// Encode marshals the envelope for the wire.
func (e *Envelope) Encode() []byte {
	b, _ := json.Marshal(e)
	return b
}
