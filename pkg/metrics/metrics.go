// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const namespace = "app_gateway"

// Collector holds the gateway's Prometheus collectors.
type Collector struct {
	dispatched    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	registrations *prometheus.CounterVec
	queueDepth    prometheus.GaugeFunc
	resolutions   prometheus.GaugeFunc
}

// NewCollector creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched calls by status.",
		}, []string{"status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent resolving and invoking a call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_registrations_total",
			Help:      "Listener registrations processed by outcome.",
		}, []string{"action", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(c.dispatched, c.latency, c.registrations)
	}
	return c
}

// ObserveDispatch records one dispatched call. Method is not used as a label to keep cardinality bounded.
func (c *Collector) ObserveDispatch(_ string, status dispatcher.Status, seconds float64) {
	if c == nil {
		return
	}
	c.dispatched.WithLabelValues(string(status)).Inc()
	c.latency.WithLabelValues(string(status)).Observe(seconds)
}

// ObserveRegistration records one processed registration.
func (c *Collector) ObserveRegistration(listen bool, err error) {
	if c == nil {
		return
	}
	action := "unregister"
	if listen {
		action = "register"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.registrations.WithLabelValues(action, outcome).Inc()
}

// TrackQueueDepth registers a gauge reading the scheduler queue depth.
func (c *Collector) TrackQueueDepth(reg prometheus.Registerer, depth func() int) {
	if c == nil || reg == nil {
		return
	}
	c.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registration_queue_depth",
		Help:      "Registrations waiting for a worker.",
	}, func() float64 { return float64(depth()) })
	reg.MustRegister(c.queueDepth)
}

// TrackResolutions registers a gauge reading the resolution table size.
func (c *Collector) TrackResolutions(reg prometheus.Registerer, size func() int) {
	if c == nil || reg == nil {
		return
	}
	c.resolutions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resolutions",
		Help:      "Entries in the resolution table.",
	}, func() float64 { return float64(size()) })
	reg.MustRegister(c.resolutions)
}
