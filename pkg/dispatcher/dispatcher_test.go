package dispatcher

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGatewayRequest_Unmarshal(t *testing.T) {
	raw := `{
		"id": "req-1",
		"method": "Device.Name",
		"origin": "app-surface",
		"params": {"listen": true},
		"ctx": {"appId": "refui", "connectionId": "conn-7", "requestId": "r-9"}
	}`

	var req GatewayRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if req.ID != "req-1" {
		t.Errorf("expected id req-1, got %s", req.ID)
	}
	if req.Method != "Device.Name" {
		t.Errorf("expected method Device.Name, got %s", req.Method)
	}
	if req.Origin != "app-surface" {
		t.Errorf("expected origin app-surface, got %s", req.Origin)
	}
	if req.Ctx == nil {
		t.Fatal("expected ctx, got nil")
	}
	if req.Ctx.AppID != "refui" || req.Ctx.ConnectionID != "conn-7" || req.Ctx.RequestID != "r-9" {
		t.Errorf("unexpected ctx %+v", req.Ctx)
	}
	if string(req.Params) != `{"listen": true}` {
		t.Errorf("expected raw params preserved, got %s", req.Params)
	}
}

func TestGatewayResponse_Marshal(t *testing.T) {
	resp := &GatewayResponse{
		ID:     "req-1",
		Ok:     true,
		Result: json.RawMessage(`{"name":"Living Room"}`),
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if decoded["ok"] != true {
		t.Errorf("expected ok=true, got %v", decoded["ok"])
	}
	if _, hasErr := decoded["error"]; hasErr {
		t.Error("expected no error field on success")
	}
	result, ok := decoded["result"].(map[string]interface{})
	if !ok || result["name"] != "Living Room" {
		t.Errorf("expected result object, got %v", decoded["result"])
	}
}

func TestGatewayResponse_Error(t *testing.T) {
	resp := ErrorResponse("req-2", CodeMethodNotFound, "Method not found: x")

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if !strings.Contains(string(data), `"code":-32601`) {
		t.Errorf("expected code in wire form, got %s", data)
	}

	var decoded GatewayResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Ok {
		t.Error("expected ok=false")
	}
	if decoded.Error == nil || decoded.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND error, got %+v", decoded.Error)
	}
}

func TestRequestContext_Listener(t *testing.T) {
	ctx := &RequestContext{AppID: "app", ConnectionID: "c-1", RequestID: "r"}
	l := ctx.Listener()
	if l.AppID != "app" || l.ConnectionID != "c-1" {
		t.Errorf("unexpected listener %+v", l)
	}

	var nilCtx *RequestContext
	if got := nilCtx.Listener(); got != (Listener{}) {
		t.Errorf("expected zero listener for nil context, got %+v", got)
	}
}

func TestRegistration_Key(t *testing.T) {
	a := Registration{Listener: Listener{ConnectionID: "c-1"}, Event: "e", Listen: true}
	b := Registration{Listener: Listener{ConnectionID: "c-1"}, Event: "e", Listen: false}
	c := Registration{Listener: Listener{ConnectionID: "c-2"}, Event: "e", Listen: true}
	if a.Key() != b.Key() {
		t.Error("expected same key for same listener/event")
	}
	if a.Key() == c.Key() {
		t.Error("expected different key for different connection")
	}
}

func TestExtractListen(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantListen bool
		wantOk     bool
	}{
		{"empty", "", false, false},
		{"whitespace", "  ", false, false},
		{"empty object", "{}", false, false},
		{"listen true", `{"listen":true}`, true, true},
		{"listen false", `{"listen":false}`, false, true},
		{"listen string", `{"listen":"true"}`, false, false},
		{"listen number", `{"listen":1}`, false, false},
		{"array", `[true]`, false, false},
		{"invalid json", `{"listen":`, false, false},
		{"extra fields", `{"listen":true,"other":1}`, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listen, ok := extractListen(tt.payload)
			if listen != tt.wantListen || ok != tt.wantOk {
				t.Errorf("extractListen(%q) = (%v, %v), want (%v, %v)", tt.payload, listen, ok, tt.wantListen, tt.wantOk)
			}
		})
	}
}

func TestWrapWithContext(t *testing.T) {
	out, err := wrapWithContext(`{"a":1}`, "app-surface", map[string]interface{}{"foo": "bar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Params            map[string]interface{} `json:"params"`
		AdditionalContext map[string]interface{} `json:"_additionalContext"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("wrapped payload is not JSON: %v (%s)", err, out)
	}
	if decoded.Params["a"] != float64(1) {
		t.Errorf("expected params.a=1, got %v", decoded.Params["a"])
	}
	if decoded.AdditionalContext["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %v", decoded.AdditionalContext["foo"])
	}
	if decoded.AdditionalContext["origin"] != "app-surface" {
		t.Errorf("expected origin, got %v", decoded.AdditionalContext["origin"])
	}
}

func TestWrapWithContext_EmptyAndInvalidPayload(t *testing.T) {
	out, err := wrapWithContext("", "o", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"params":{}`) {
		t.Errorf("expected empty params object, got %s", out)
	}

	out, err = wrapWithContext("not json", "o", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"params":null`) {
		t.Errorf("expected null params, got %s", out)
	}
}

func TestWrapWithContext_OriginOverridesAdditional(t *testing.T) {
	out, err := wrapWithContext("{}", "real", map[string]interface{}{"origin": "spoofed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"origin":"real"`) || strings.Contains(out, "spoofed") {
		t.Errorf("expected caller origin to win, got %s", out)
	}
}

func TestRawResult(t *testing.T) {
	if rawResult("") != nil {
		t.Error("expected nil for empty result")
	}
	if string(rawResult(`{"x":1}`)) != `{"x":1}` {
		t.Error("expected JSON result passed through")
	}
	if string(rawResult("plain text")) != `"plain text"` {
		t.Errorf("expected quoted string, got %s", rawResult("plain text"))
	}
}
