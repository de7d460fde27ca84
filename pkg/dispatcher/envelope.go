// Package dispatcher routes application API calls to backing services.
package dispatcher

import "encoding/json"

// Error codes carried in ErrorEnvelope.Code.
const (
	CodeMethodNotFound   = -32601
	CodeBadRequest       = -32602
	CodeGeneralError     = -32603
	CodePermissionDenied = -40300
	CodeRateLimited      = -42900
	CodeNotAvailable     = -50200
)

// Status is the success/failure class of a dispatched call.
type Status string

const (
	StatusOK               Status = "ok"
	StatusMethodNotFound   Status = "method_not_found"
	StatusBadRequest       Status = "bad_request"
	StatusPermissionDenied Status = "permission_denied"
	StatusNotAvailable     Status = "not_available"
	StatusGeneralError     Status = "general_error"
	StatusRateLimited      Status = "rate_limited"
)

// Messages returned to callers.
const (
	MsgMissingListen  = "Missing required boolean 'listen' parameter"
	MsgServiceFailed  = "Service request failed"
	MsgDecodeFailed   = "Failed to decode request"
	MsgRateLimited    = "Too many requests"
	msgNotPermitted   = "Caller is not permitted to call %s"
	msgNotAvailable   = "Service %s is not available"
	msgMethodNotFound = "Method not found: %s"
)

// ErrorEnvelope is the only error shape returned to callers.
type ErrorEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RequestContext identifies the caller of one request. It is not retained past the call.
type RequestContext struct {
	AppID        string `json:"appId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
	Token        string `json:"token,omitempty"`
}

// Listener returns the listener handle for this caller.
func (c *RequestContext) Listener() Listener {
	if c == nil {
		return Listener{}
	}
	return Listener{AppID: c.AppID, ConnectionID: c.ConnectionID}
}

// Listener identifies a connection that registered interest in an event.
type Listener struct {
	AppID        string `json:"appId"`
	ConnectionID string `json:"connectionId"`
}

// Registration is one unit of listener bookkeeping.
type Registration struct {
	Listener Listener
	Event    string
	Listen   bool
	// WholeConnection removes every listener on Listener.ConnectionID for Event,
	// whatever app registered it. Only meaningful when Listen is false.
	WholeConnection bool
}

// Key groups registrations that must apply in submission order.
func (r Registration) Key() string {
	return r.Listener.ConnectionID + "|" + r.Event
}

// Response is the outcome of Resolve.
type Response struct {
	Result string
	Error  *ErrorEnvelope
	Status Status
}

// Ok reports whether the call succeeded.
func (r *Response) Ok() bool {
	return r != nil && r.Error == nil
}

// GatewayRequest is the JSON envelope for requests arriving on the gateway subject.
type GatewayRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Origin string          `json:"origin,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Ctx    *RequestContext `json:"ctx,omitempty"`
}

// GatewayResponse is the JSON envelope for gateway replies.
type GatewayResponse struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorEnvelope  `json:"error,omitempty"`
}

// listenParams is the event-path result.
type listenParams struct {
	Listening bool   `json:"listening"`
	Event     string `json:"event"`
}
