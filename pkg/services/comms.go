package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"

	"github.com/morezero/app-gateway/pkg/commsutil"
	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const commsLogPrefix = "services:comms"

// HeaderError carries a failure reason on direct replies.
const HeaderError = "Gateway-Error"

// RemoteError is a failure reported by a remote service.
type RemoteError struct {
	Service string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error %d: %s", e.Service, e.Code, e.Message)
}

// CommsProvider acquires handles to services reached over COMMS request/reply.
type CommsProvider struct {
	nc       *comms.Conn
	catalog  *Catalog
	timeout  time.Duration
	inFlight atomic.Int64
}

// NewCommsProviderParams holds parameters for NewCommsProvider.
type NewCommsProviderParams struct {
	Conn    *comms.Conn
	Catalog *Catalog
	// Timeout bounds each request when the caller's context has no deadline.
	Timeout time.Duration
}

// NewCommsProvider creates a new CommsProvider.
func NewCommsProvider(params NewCommsProviderParams) *CommsProvider {
	catalog := params.Catalog
	if catalog == nil {
		catalog = NewCatalog()
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommsProvider{nc: params.Conn, catalog: catalog, timeout: timeout}
}

// Catalog returns the provider's service catalog.
func (p *CommsProvider) Catalog() *Catalog {
	return p.catalog
}

// InFlight returns the number of unreleased handles.
func (p *CommsProvider) InFlight() int {
	return int(p.inFlight.Load())
}

// Acquire resolves alias through the catalog. It fails when the connection is down.
func (p *CommsProvider) Acquire(ctx context.Context, alias string) (dispatcher.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !commsutil.IsConnected(p.nc) {
		return nil, fmt.Errorf("%s - %w", commsLogPrefix, ErrNotConnected)
	}
	target, err := p.catalog.Resolve(alias)
	if err != nil {
		return nil, err
	}
	p.inFlight.Add(1)
	return &commsHandle{provider: p, target: target}, nil
}

type commsHandle struct {
	provider *CommsProvider
	target   Target
	released atomic.Bool
}

func (h *commsHandle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.provider.inFlight.Add(-1)
	}
}

// Invoke sends a GatewayRequest-shaped envelope and decodes the {ok,result,error} reply.
func (h *commsHandle) Invoke(ctx context.Context, call dispatcher.Call) (string, error) {
	caller := call.Caller
	caller.Token = ""
	id := caller.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	req := dispatcher.GatewayRequest{
		ID:     id,
		Method: call.Method,
		Params: asRawJSON(call.Payload),
		Ctx:    &caller,
	}
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode request: %w", commsLogPrefix, err)
	}

	ctx, cancel := h.provider.bound(ctx)
	defer cancel()

	msg, err := h.provider.nc.RequestWithContext(ctx, h.target.Subject, data)
	if err != nil {
		return "", fmt.Errorf("%s - %s did not respond: %w", commsLogPrefix, h.target.Subject, err)
	}

	var resp dispatcher.GatewayResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return "", fmt.Errorf("%s - failed to decode reply from %s: %w", commsLogPrefix, h.target.Subject, err)
	}
	if !resp.Ok {
		remote := &RemoteError{Service: h.target.Name, Code: dispatcher.CodeGeneralError, Message: "remote call failed"}
		if resp.Error != nil {
			remote.Code = resp.Error.Code
			remote.Message = resp.Error.Message
		}
		return "", remote
	}
	return resultString(resp.Result), nil
}

// HandleRequest sends the raw payload to the method subject with caller headers.
func (h *commsHandle) HandleRequest(ctx context.Context, method, payload string, caller dispatcher.RequestContext) (string, error) {
	msg := comms.NewMsg(commsutil.BuildDirectSubject(h.target.Subject, method))
	msg.Data = []byte(payload)
	msg.Header.Set(commsutil.HeaderAppID, caller.AppID)
	msg.Header.Set(commsutil.HeaderConnectionID, caller.ConnectionID)
	msg.Header.Set(commsutil.HeaderRequestID, caller.RequestID)

	ctx, cancel := h.provider.bound(ctx)
	defer cancel()

	reply, err := h.provider.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("%s - %s did not respond: %w", commsLogPrefix, msg.Subject, err)
	}
	if reason := reply.Header.Get(HeaderError); reason != "" {
		return "", &RemoteError{Service: h.target.Name, Code: dispatcher.CodeGeneralError, Message: reason}
	}
	slog.Debug(fmt.Sprintf("%s - direct %s answered %d bytes", commsLogPrefix, msg.Subject, len(reply.Data)))
	return string(reply.Data), nil
}

func (p *CommsProvider) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// asRawJSON passes valid JSON through and encodes anything else as a string.
func asRawJSON(payload string) json.RawMessage {
	if payload == "" {
		return nil
	}
	if gjson.Valid(payload) {
		return json.RawMessage(payload)
	}
	data, _ := json.Marshal(payload)
	return data
}

// resultString unwraps JSON strings and passes other JSON values through.
func resultString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	r := gjson.ParseBytes(raw)
	if r.Type == gjson.String {
		return r.String()
	}
	return r.Raw
}

// IsRemoteError reports whether err came from the remote service.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
