package ipc

import (
	"context"
	"encoding/json"
	"errors"
)

// Event names carried in Envelope.Event.
const (
	EventOutboundRequest = "OUTBOUND_REQUEST"
	EventInboundResponse = "INBOUND_RESPONSE"
	EventHostReady       = "HOST_READY"
)

// ErrClosed is returned when sending on a channel whose peer has gone away.
var ErrClosed = errors.New("ipc: channel closed")

// RequestInit describes the outgoing HTTP call.
type RequestInit struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// AuthConfig is the tracker configuration the host needs to authenticate
// and to decide on certificate policy.
type AuthConfig struct {
	Credential          string `json:"credential"`
	Host                string `json:"host,omitempty"`
	AllowSelfSignedCert bool   `json:"allowSelfSignedCert"`
	CookieMode          bool   `json:"cookieMode"`
	Cookie              string `json:"cookie,omitempty"`
}

// OutboundRequest is sent from the caller to the host.
type OutboundRequest struct {
	RequestID   string      `json:"requestId"`
	RequestInit RequestInit `json:"requestInit"`
	URL         string      `json:"url"`
	AuthConfig  AuthConfig  `json:"authConfig"`
}

// HostReady is the payload of EventHostReady. SessionID names the host-side
// connection; the host scopes per-connection state such as installed
// credentials by it.
type HostReady struct {
	SessionID string `json:"sessionId"`
}

// ErrorPayload describes a failed host call.
type ErrorPayload struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message,omitempty"`
}

// InboundResponse is sent from the host back to the caller. Exactly one of
// Response and Error is meaningful.
type InboundResponse struct {
	RequestID string        `json:"requestId"`
	Response  any           `json:"response,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

// Envelope frames every message on a stream transport.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Caller is the end of the channel held by the bridge.
type Caller interface {
	// Send forwards a request to the host.
	Send(ctx context.Context, req OutboundRequest) error
	// Responses delivers host answers in arrival order.
	Responses() <-chan InboundResponse
	// Ready is closed once the host end has completed its handshake.
	Ready() <-chan struct{}
	// Done is closed when the channel stops delivering.
	Done() <-chan struct{}
}

// Host is the end of the channel held by the executor.
type Host interface {
	Requests() <-chan OutboundRequest
	Reply(ctx context.Context, res InboundResponse) error
	Done() <-chan struct{}
}
