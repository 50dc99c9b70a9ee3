// Package metrics collects Prometheus counters for a connector run.
//
// The connector has no listener, so the counters live in a private registry
// and are written to a node_exporter textfile at the end of a run.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the connector counters. All methods are safe on a nil
// receiver.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	retries          prometheus.Counter
	waits            prometheus.Counter
	waitSeconds      prometheus.Counter
	recordsFetched   prometheus.Counter
	reconcileMessage *prometheus.CounterVec
	itemResults      *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exact_requests_total",
			Help: "HTTP requests sent to Exact Online by method and status code.",
		}, []string{"method", "code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exact_rate_limit_retries_total",
			Help: "Requests retried after an HTTP 429 response.",
		}),
		waits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exact_rate_limit_waits_total",
			Help: "Proactive waits for the minutely rate limit to reset.",
		}),
		waitSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exact_rate_limit_wait_seconds_total",
			Help: "Seconds spent waiting on rate limits.",
		}),
		recordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exact_records_fetched_total",
			Help: "Records returned by list operations.",
		}),
		reconcileMessage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exact_reconciliation_messages_total",
			Help: "Messages returned by XML uploads by class.",
		}, []string{"class"}),
		itemResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exact_items_total",
			Help: "Processed input items by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.retries,
		m.waits,
		m.waitSeconds,
		m.recordsFetched,
		m.reconcileMessage,
		m.itemResults,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveRetry(wait time.Duration) {
	if m == nil {
		return
	}
	m.retries.Inc()
	m.waitSeconds.Add(wait.Seconds())
}

func (m *Metrics) ObserveWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.waits.Inc()
	m.waitSeconds.Add(wait.Seconds())
}

func (m *Metrics) ObserveRecords(n int) {
	if m == nil {
		return
	}
	m.recordsFetched.Add(float64(n))
}

// ObserveMessage counts an XML upload message; class is "error" or "info".
func (m *Metrics) ObserveMessage(class string) {
	if m == nil {
		return
	}
	m.reconcileMessage.WithLabelValues(class).Inc()
}

// ObserveItem counts a processed item; outcome is "success" or "error".
func (m *Metrics) ObserveItem(operation, outcome string) {
	if m == nil {
		return
	}
	m.itemResults.WithLabelValues(operation, outcome).Inc()
}

// WriteTextfile writes the current values in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
