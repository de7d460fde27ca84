package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/app-gateway/pkg/resolver"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher resolves application calls against the resolution table and routes them.
type Dispatcher struct {
	resolver    *resolver.Resolver
	permissions PermissionChecker
	provider    Provider
	submitter   Submitter
	observer    Observer
}

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	Resolver    *resolver.Resolver
	Permissions PermissionChecker
	Provider    Provider
	Submitter   Submitter
	// Observer is optional.
	Observer Observer
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	res := params.Resolver
	if res == nil {
		res = resolver.NewResolver()
	}
	return &Dispatcher{
		resolver:    res,
		permissions: params.Permissions,
		provider:    params.Provider,
		submitter:   params.Submitter,
		observer:    params.Observer,
	}
}

// Resolver returns the resolution table the dispatcher reads from.
func (d *Dispatcher) Resolver() *resolver.Resolver {
	return d.resolver
}

// Resolve executes one call end to end. Every path terminates after a single decision.
func (d *Dispatcher) Resolve(ctx context.Context, caller *RequestContext, origin, method, payload string) *Response {
	start := time.Now()
	if caller == nil {
		caller = &RequestContext{}
	}
	slog.Debug(fmt.Sprintf("%s - method=%s app=%s request=%s", logPrefix, method, caller.AppID, caller.RequestID))

	resp := d.resolve(ctx, caller, origin, method, payload)
	if d.observer != nil {
		d.observer.ObserveDispatch(resolver.Normalize(method), resp.Status, time.Since(start).Seconds())
	}
	return resp
}

func (d *Dispatcher) resolve(ctx context.Context, caller *RequestContext, origin, method, payload string) *Response {
	entry, ok := d.resolver.Lookup(method)
	if !ok {
		return failure(StatusMethodNotFound, CodeMethodNotFound, fmt.Sprintf(msgMethodNotFound, method))
	}
	if entry.IsSubscription() {
		return d.handleSubscription(caller, entry, payload)
	}
	return d.handleInvocation(ctx, caller, entry, origin, method, payload)
}

// handleSubscription schedules listener bookkeeping and returns without waiting for it.
func (d *Dispatcher) handleSubscription(caller *RequestContext, entry resolver.Entry, payload string) *Response {
	listen, ok := extractListen(payload)
	if !ok {
		return failure(StatusBadRequest, CodeBadRequest, MsgMissingListen)
	}

	if d.submitter == nil {
		slog.Error(fmt.Sprintf("%s - no registration scheduler configured for event %s", logPrefix, entry.Event))
		return failure(StatusNotAvailable, CodeNotAvailable, fmt.Sprintf(msgNotAvailable, entry.Alias))
	}
	reg := Registration{Listener: caller.Listener(), Event: entry.Event, Listen: listen}
	if err := d.submitter.Submit(reg); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to schedule registration event=%s: %v", logPrefix, entry.Event, err))
		return failure(StatusNotAvailable, CodeNotAvailable, fmt.Sprintf(msgNotAvailable, entry.Alias))
	}

	data, _ := json.Marshal(listenParams{Listening: listen, Event: entry.Event})
	return &Response{Result: string(data), Status: StatusOK}
}

// handleInvocation runs the permission, acquire, build, invoke, release sequence.
func (d *Dispatcher) handleInvocation(ctx context.Context, caller *RequestContext, entry resolver.Entry, origin, method, payload string) *Response {
	if entry.PermissionGroup != "" && !d.permitted(ctx, caller, entry.PermissionGroup) {
		return failure(StatusPermissionDenied, CodePermissionDenied, fmt.Sprintf(msgNotPermitted, method))
	}

	if d.provider == nil {
		return failure(StatusNotAvailable, CodeNotAvailable, fmt.Sprintf(msgNotAvailable, entry.Alias))
	}
	handle, err := d.provider.Acquire(ctx, entry.Alias)
	if err != nil || handle == nil {
		slog.Warn(fmt.Sprintf("%s - failed to acquire %s: %v", logPrefix, entry.Alias, err))
		return failure(StatusNotAvailable, CodeNotAvailable, fmt.Sprintf(msgNotAvailable, entry.Alias))
	}
	defer handle.Release()

	outgoing := payload
	if entry.IncludeContext {
		outgoing, err = wrapWithContext(payload, origin, entry.AdditionalContext)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to build context payload for %s: %v", logPrefix, method, err))
			return failure(StatusGeneralError, CodeGeneralError, MsgServiceFailed)
		}
	}

	var result string
	switch entry.Transport {
	case resolver.DirectInterface:
		direct, ok := handle.(DirectHandle)
		if !ok {
			slog.Warn(fmt.Sprintf("%s - %s has no direct interface", logPrefix, entry.Alias))
			return failure(StatusNotAvailable, CodeNotAvailable, fmt.Sprintf(msgNotAvailable, entry.Alias))
		}
		result, err = direct.HandleRequest(ctx, entry.Method, outgoing, *caller)
	default:
		result, err = handle.Invoke(ctx, Call{Method: entry.Method, Payload: outgoing, Caller: *caller})
	}
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s failed for %s: %v", logPrefix, entry.Alias, method, err))
		return failure(StatusGeneralError, CodeGeneralError, MsgServiceFailed)
	}
	return &Response{Result: result, Status: StatusOK}
}

// permitted fails closed: no checker or a checker error denies the call.
func (d *Dispatcher) permitted(ctx context.Context, caller *RequestContext, group string) bool {
	if d.permissions == nil {
		return false
	}
	ok, err := d.permissions.CheckPermission(ctx, *caller, group)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - permission check app=%s group=%s: %v", logPrefix, caller.AppID, group, err))
		return false
	}
	return ok
}

// Dispatch adapts a wire request to Resolve and builds the wire reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req *GatewayRequest) *GatewayResponse {
	payload := ""
	if len(req.Params) > 0 && string(req.Params) != "null" {
		payload = string(req.Params)
	}
	resp := d.Resolve(ctx, req.Ctx, req.Origin, req.Method, payload)
	return ToGatewayResponse(req.ID, resp)
}

// ToGatewayResponse converts a Response into the wire envelope for request id.
func ToGatewayResponse(id string, resp *Response) *GatewayResponse {
	if !resp.Ok() {
		return &GatewayResponse{ID: id, Ok: false, Error: resp.Error}
	}
	return &GatewayResponse{ID: id, Ok: true, Result: rawResult(resp.Result)}
}

// --- helpers ---

func failure(status Status, code int, message string) *Response {
	return &Response{
		Status: status,
		Error:  &ErrorEnvelope{Code: code, Message: message},
	}
}

// ErrorResponse builds a failed wire reply outside of Resolve (decode errors, rate limits).
func ErrorResponse(id string, code int, message string) *GatewayResponse {
	return &GatewayResponse{
		ID:    id,
		Ok:    false,
		Error: &ErrorEnvelope{Code: code, Message: message},
	}
}
