package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const metricsTestPrefix = "metrics:metrics_test"

func TestObserveDispatch_CountsByStatus(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveDispatch("device.name", dispatcher.StatusOK, 0.01)
	c.ObserveDispatch("device.name", dispatcher.StatusOK, 0.02)
	c.ObserveDispatch("nope", dispatcher.StatusMethodNotFound, 0.001)

	if got := testutil.ToFloat64(c.dispatched.WithLabelValues("ok")); got != 2 {
		t.Errorf("%s - ok count = %v, want 2", metricsTestPrefix, got)
	}
	if got := testutil.ToFloat64(c.dispatched.WithLabelValues("method_not_found")); got != 1 {
		t.Errorf("%s - method_not_found count = %v, want 1", metricsTestPrefix, got)
	}
}

func TestObserveRegistration(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveRegistration(true, nil)
	c.ObserveRegistration(false, errors.New("boom"))

	if got := testutil.ToFloat64(c.registrations.WithLabelValues("register", "ok")); got != 1 {
		t.Errorf("%s - register/ok = %v, want 1", metricsTestPrefix, got)
	}
	if got := testutil.ToFloat64(c.registrations.WithLabelValues("unregister", "error")); got != 1 {
		t.Errorf("%s - unregister/error = %v, want 1", metricsTestPrefix, got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveDispatch("m", dispatcher.StatusOK, 1)
	c.ObserveRegistration(true, nil)
	c.TrackQueueDepth(prometheus.NewRegistry(), func() int { return 0 })
}

func TestRegisterWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.TrackQueueDepth(reg, func() int { return 3 })
	c.TrackResolutions(reg, func() int { return 7 })
	c.ObserveDispatch("m", dispatcher.StatusOK, 0.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("%s - gather: %v", metricsTestPrefix, err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"app_gateway_dispatch_total",
		"app_gateway_dispatch_duration_seconds",
		"app_gateway_registration_queue_depth",
		"app_gateway_resolutions",
	} {
		if !names[want] {
			t.Errorf("%s - missing metric %s", metricsTestPrefix, want)
		}
	}
	if got := testutil.ToFloat64(c.queueDepth); got != 3 {
		t.Errorf("%s - queue depth = %v, want 3", metricsTestPrefix, got)
	}
}
