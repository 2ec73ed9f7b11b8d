// Package metrics holds the Prometheus collectors the Engine updates:
// assignment counters, commit latency, queue depth, and per-courier
// utilization. The adapter layer registers a /metrics handler via
// promhttp; this package only owns the instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels the assignments_total counter and the latency histogram.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Metrics bundles the Prometheus collectors tracking assignment outcomes,
// queue depth, and courier utilization.
type Metrics struct {
	AssignmentsTotal    *prometheus.CounterVec
	AssignmentLatency   *prometheus.HistogramVec
	OrdersInQueue       prometheus.Gauge
	CourierUtilization  *prometheus.GaugeVec
	registry            *prometheus.Registry
}

// New constructs a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assignments_total",
			Help: "Total number of order assignment attempts by outcome.",
		}, []string{"outcome"}),
		AssignmentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assignment_latency_seconds",
			Help:    "Duration of the try_commit_assignment critical section, by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		OrdersInQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orders_in_queue",
			Help: "Current depth of the Order Queue.",
		}),
		CourierUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "courier_utilization",
			Help: "current_load / capacity for each courier, updated on every commit.",
		}, []string{"courier_id"}),
		registry: registry,
	}

	registry.MustRegister(m.AssignmentsTotal, m.AssignmentLatency, m.OrdersInQueue, m.CourierUtilization)
	return m
}

// Registry exposes the underlying Prometheus registry for the /metrics
// adapter handler to serve via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAssignment records one commit attempt's outcome and duration.
func (m *Metrics) ObserveAssignment(outcome Outcome, duration time.Duration) {
	m.AssignmentsTotal.WithLabelValues(string(outcome)).Inc()
	m.AssignmentLatency.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// SetQueueDepth updates the orders_in_queue gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.OrdersInQueue.Set(float64(depth))
}

// SetCourierUtilization updates the per-courier utilization gauge.
func (m *Metrics) SetCourierUtilization(courierID string, utilization float64) {
	m.CourierUtilization.WithLabelValues(courierID).Set(utilization)
}
