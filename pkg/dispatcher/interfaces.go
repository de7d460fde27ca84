package dispatcher

import "context"

// PermissionChecker decides whether a caller holds a permission group.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, caller RequestContext, group string) (bool, error)
}

// Call is one invocation forwarded to a service.
type Call struct {
	Method  string
	Payload string
	Caller  RequestContext
}

// Handle is a per-call reference to a service. Release must be called once the call completes.
type Handle interface {
	Invoke(ctx context.Context, call Call) (string, error)
	Release()
}

// DirectHandle is implemented by handles that expose the direct interface.
type DirectHandle interface {
	Handle
	HandleRequest(ctx context.Context, method, payload string, caller RequestContext) (string, error)
}

// Provider acquires service handles by alias.
type Provider interface {
	Acquire(ctx context.Context, alias string) (Handle, error)
}

// EventSource adds and removes event listeners.
type EventSource interface {
	Register(ctx context.Context, listener Listener, event string) error
	Unregister(ctx context.Context, listener Listener, event string) error
}

// ConnectionSource is implemented by event sources that can drop a connection's
// listeners for one event without knowing which apps registered them.
type ConnectionSource interface {
	UnregisterConnection(ctx context.Context, connectionID, event string) error
}

// Submitter accepts registrations for background execution without blocking.
type Submitter interface {
	Submit(reg Registration) error
}

// Observer records the outcome of each dispatched call.
type Observer interface {
	ObserveDispatch(method string, status Status, seconds float64)
}
