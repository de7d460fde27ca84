package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/app-gateway/internal/config"
	"github.com/morezero/app-gateway/pkg/commsutil"
	"github.com/morezero/app-gateway/pkg/dispatcher"
	"github.com/morezero/app-gateway/pkg/events"
	"github.com/morezero/app-gateway/pkg/permissions"
	"github.com/morezero/app-gateway/pkg/services"
)

const integrationTestPrefix = "server:server_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", integrationTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", integrationTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", integrationTestPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return nc, cleanup
}

// startGateway builds and starts a Server on nc with an in-process System service.
func startGateway(t *testing.T, nc *comms.Conn, cfg *config.Config) *Server {
	t.Helper()

	provider := services.NewLocalProvider()
	provider.Register("org.rdk.System", services.ServiceFunc(func(_ context.Context, call dispatcher.Call) (string, error) {
		return `{"name":"Den","method":"` + call.Method + `"}`, nil
	}))

	s, err := New(Params{
		Config:      cfg,
		Conn:        nc,
		Provider:    provider,
		Permissions: permissions.NewStatic(map[string][]string{"refui": {"device"}}),
	})
	if err != nil {
		t.Fatalf("%s - New: %v", integrationTestPrefix, err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start: %v", integrationTestPrefix, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func request(t *testing.T, nc *comms.Conn, subject string, body []byte) *dispatcher.GatewayResponse {
	t.Helper()
	msg, err := nc.Request(subject, body, 2*time.Second)
	if err != nil {
		t.Fatalf("%s - request on %s: %v", integrationTestPrefix, subject, err)
	}
	var resp dispatcher.GatewayResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("%s - decode reply %s: %v", integrationTestPrefix, msg.Data, err)
	}
	return &resp
}

func call(t *testing.T, nc *comms.Conn, req dispatcher.GatewayRequest) *dispatcher.GatewayResponse {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return request(t, nc, commsutil.SubjectRequest, data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s - timed out waiting for %s", integrationTestPrefix, what)
}

func TestGateway_RequestPaths(t *testing.T) {
	nc, cleanup := startTestServer(t, 14250)
	defer cleanup()

	path := writeResolutions(t, t.TempDir(), testResolutions)
	startGateway(t, nc, testConfig(path))

	tests := []struct {
		name     string
		req      dispatcher.GatewayRequest
		wantOk   bool
		wantCode int
	}{
		{
			name:   "permitted call",
			req:    dispatcher.GatewayRequest{ID: "1", Method: "device.name", Ctx: &dispatcher.RequestContext{AppID: "refui"}},
			wantOk: true,
		},
		{
			name:     "permission denied",
			req:      dispatcher.GatewayRequest{ID: "2", Method: "device.name", Ctx: &dispatcher.RequestContext{AppID: "other"}},
			wantCode: dispatcher.CodePermissionDenied,
		},
		{
			name:     "unknown method",
			req:      dispatcher.GatewayRequest{ID: "3", Method: "device.nope"},
			wantCode: dispatcher.CodeMethodNotFound,
		},
		{
			name:     "subscription without listen",
			req:      dispatcher.GatewayRequest{ID: "4", Method: "device.onNameChanged", Params: json.RawMessage(`{}`)},
			wantCode: dispatcher.CodeBadRequest,
		},
		{
			name:     "service not available",
			req:      dispatcher.GatewayRequest{ID: "5", Method: "lifecycle.ready"},
			wantCode: dispatcher.CodeNotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, nc, tt.req)
			if resp.ID != tt.req.ID {
				t.Errorf("%s - id = %q, want %q", integrationTestPrefix, resp.ID, tt.req.ID)
			}
			if resp.Ok != tt.wantOk {
				t.Fatalf("%s - ok = %v, want %v (error %+v)", integrationTestPrefix, resp.Ok, tt.wantOk, resp.Error)
			}
			if tt.wantOk {
				var result map[string]string
				if err := json.Unmarshal(resp.Result, &result); err != nil || result["name"] != "Den" {
					t.Errorf("%s - result = %s (%v)", integrationTestPrefix, resp.Result, err)
				}
				return
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("%s - error = %+v, want code %d", integrationTestPrefix, resp.Error, tt.wantCode)
			}
		})
	}
}

func TestGateway_DecodeFailure(t *testing.T) {
	nc, cleanup := startTestServer(t, 14251)
	defer cleanup()

	startGateway(t, nc, testConfig())

	resp := request(t, nc, commsutil.SubjectRequest, []byte("{not json"))
	if resp.Ok || resp.Error == nil {
		t.Fatalf("%s - expected failure, got %+v", integrationTestPrefix, resp)
	}
	if resp.Error.Code != dispatcher.CodeBadRequest || resp.Error.Message != dispatcher.MsgDecodeFailed {
		t.Errorf("%s - error = %+v", integrationTestPrefix, resp.Error)
	}
}

func TestGateway_AppIdentityFromHeaders(t *testing.T) {
	nc, cleanup := startTestServer(t, 14252)
	defer cleanup()

	path := writeResolutions(t, t.TempDir(), testResolutions)
	startGateway(t, nc, testConfig(path))

	msg := comms.NewMsg(commsutil.SubjectRequest)
	msg.Header.Set(commsutil.HeaderAppID, "refui")
	msg.Data = []byte(`{"id":"h-1","method":"device.name"}`)
	reply, err := nc.RequestMsg(msg, 2*time.Second)
	if err != nil {
		t.Fatalf("%s - request: %v", integrationTestPrefix, err)
	}
	var resp dispatcher.GatewayResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		t.Fatalf("%s - decode: %v", integrationTestPrefix, err)
	}
	if !resp.Ok {
		t.Errorf("%s - expected header identity to be permitted, got %+v", integrationTestPrefix, resp.Error)
	}
}

func TestGateway_RateLimit(t *testing.T) {
	nc, cleanup := startTestServer(t, 14253)
	defer cleanup()

	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	startGateway(t, nc, cfg)

	req := dispatcher.GatewayRequest{ID: "a", Method: "anything", Ctx: &dispatcher.RequestContext{AppID: "noisy"}}
	if resp := call(t, nc, req); resp.Error == nil || resp.Error.Code != dispatcher.CodeMethodNotFound {
		t.Fatalf("%s - first call should reach the dispatcher, got %+v", integrationTestPrefix, resp.Error)
	}
	resp := call(t, nc, req)
	if resp.Error == nil || resp.Error.Code != dispatcher.CodeRateLimited {
		t.Fatalf("%s - second call should be rate limited, got %+v", integrationTestPrefix, resp.Error)
	}

	other := dispatcher.GatewayRequest{ID: "b", Method: "anything", Ctx: &dispatcher.RequestContext{AppID: "quiet"}}
	if resp := call(t, nc, other); resp.Error == nil || resp.Error.Code != dispatcher.CodeMethodNotFound {
		t.Errorf("%s - other app should not share the bucket, got %+v", integrationTestPrefix, resp.Error)
	}
}

func TestGateway_SubscribeEmitDisconnect(t *testing.T) {
	nc, cleanup := startTestServer(t, 14254)
	defer cleanup()

	path := writeResolutions(t, t.TempDir(), testResolutions)
	s := startGateway(t, nc, testConfig(path))

	notifications := make(chan *events.Notification, 4)
	sub, err := nc.Subscribe(commsutil.BuildNotifySubject("conn-1"), func(msg *comms.Msg) {
		var n events.Notification
		if err := json.Unmarshal(msg.Data, &n); err == nil {
			notifications <- &n
		}
	})
	if err != nil {
		t.Fatalf("%s - subscribe: %v", integrationTestPrefix, err)
	}
	defer sub.Unsubscribe()

	caller := &dispatcher.RequestContext{AppID: "refui", ConnectionID: "conn-1"}
	resp := call(t, nc, dispatcher.GatewayRequest{
		ID: "s-1", Method: "device.onNameChanged", Params: json.RawMessage(`{"listen":true}`), Ctx: caller,
	})
	if !resp.Ok {
		t.Fatalf("%s - subscribe call failed: %+v", integrationTestPrefix, resp.Error)
	}
	var ack struct {
		Listening bool   `json:"listening"`
		Event     string `json:"event"`
	}
	if err := json.Unmarshal(resp.Result, &ack); err != nil || !ack.Listening || ack.Event != "onNameChanged" {
		t.Errorf("%s - ack = %s (%v)", integrationTestPrefix, resp.Result, err)
	}
	waitFor(t, "listener registration", func() bool { return s.Hub().Count("onNameChanged") == 1 })

	emission, _ := json.Marshal(events.Emission{Event: "onNameChanged", Payload: json.RawMessage(`{"name":"Kitchen"}`)})
	msg, err := nc.Request(commsutil.SubjectEmit, emission, 2*time.Second)
	if err != nil {
		t.Fatalf("%s - emit: %v", integrationTestPrefix, err)
	}
	var reply emitReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil || reply.Delivered != 1 {
		t.Errorf("%s - emit reply = %s (%v)", integrationTestPrefix, msg.Data, err)
	}

	select {
	case n := <-notifications:
		if n.Event != "onNameChanged" || string(n.Payload) != `{"name":"Kitchen"}` {
			t.Errorf("%s - notification = %+v", integrationTestPrefix, n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - timed out waiting for notification", integrationTestPrefix)
	}

	notice, _ := json.Marshal(disconnectNotice{ConnectionID: "conn-1", AppID: "refui"})
	if err := nc.Publish(commsutil.SubjectDisconnect, notice); err != nil {
		t.Fatalf("%s - publish disconnect: %v", integrationTestPrefix, err)
	}
	waitFor(t, "listener cleanup", func() bool { return s.Hub().Count("onNameChanged") == 0 })
}

func TestGateway_CustomSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14255)
	defer cleanup()

	cfg := testConfig(filepath.Join(t.TempDir(), "missing.json"))
	cfg.RequestSubject = "gateway.custom.request"
	startGateway(t, nc, cfg)

	data, _ := json.Marshal(dispatcher.GatewayRequest{ID: "c-1", Method: "device.name"})
	resp := request(t, nc, "gateway.custom.request", data)
	if resp.Error == nil || resp.Error.Code != dispatcher.CodeMethodNotFound {
		t.Errorf("%s - unconfigured table should reject every method, got %+v", integrationTestPrefix, resp)
	}
}
