package commsutil

import "testing"

func TestBuildNotifySubject(t *testing.T) {
	tests := []struct {
		name         string
		connectionID string
		want         string
	}{
		{"basic", "conn-7", "gateway.notify.conn-7"},
		{"dotted", "ws.42", "gateway.notify.ws_42"},
		{"wildcards", "a*b>", "gateway.notify.a_b_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildNotifySubject(tt.connectionID)
			if got != tt.want {
				t.Errorf("BuildNotifySubject(%q) = %q, want %q", tt.connectionID, got, tt.want)
			}
		})
	}
}

func TestBuildServiceSubject(t *testing.T) {
	tests := []struct {
		name    string
		service string
		major   uint64
		want    string
	}{
		{"simple", "system", 1, "svc.system.v1"},
		{"dotted name", "org.rdk.System", 2, "svc.org_rdk_System.v2"},
		{"zero major", "device", 0, "svc.device.v0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildServiceSubject(tt.service, tt.major)
			if got != tt.want {
				t.Errorf("BuildServiceSubject(%q, %d) = %q, want %q", tt.service, tt.major, got, tt.want)
			}
		})
	}
}

func TestBuildDirectSubject(t *testing.T) {
	got := BuildDirectSubject("svc.org_rdk_System.v2", "getDeviceInfo")
	if got != "svc.org_rdk_System.v2.getDeviceInfo" {
		t.Errorf("BuildDirectSubject() = %q", got)
	}
	got = BuildDirectSubject("svc.device.v1", "device.name")
	if got != "svc.device.v1.device_name" {
		t.Errorf("BuildDirectSubject() with dotted method = %q", got)
	}
}
