// Package metrics exposes the API's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mveditor"

type Registry struct {
	registry *prometheus.Registry

	workspaces      prometheus.Gauge
	connections     prometheus.Gauge
	messages        *prometheus.CounterVec
	fanoutFailures  prometheus.Counter
	protocolErrors  prometheus.Counter
	authFailures    prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "workspaces",
			Help: "Workspaces with at least one live connection.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connections",
			Help: "Registered realtime connections.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "messages_total",
			Help: "Envelopes fanned out, by type.",
		}, []string{"type"}),
		fanoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "fanout_failures_total",
			Help: "Recipients evicted after a failed or timed out send.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "protocol_errors_total",
			Help: "Inbound frames dropped as malformed.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "auth_failures_total",
			Help: "Realtime handshakes rejected for missing or invalid tokens.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.workspaces,
		r.connections,
		r.messages,
		r.fanoutFailures,
		r.protocolErrors,
		r.authFailures,
		r.requests,
		r.requestDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Registry) SetActive(workspaces, connections int) {
	r.workspaces.Set(float64(workspaces))
	r.connections.Set(float64(connections))
}

func (r *Registry) MessageBroadcast(msgType string) {
	r.messages.WithLabelValues(msgType).Inc()
}

func (r *Registry) FanoutFailure() { r.fanoutFailures.Inc() }

func (r *Registry) ProtocolError() { r.protocolErrors.Inc() }

func (r *Registry) AuthFailure() { r.authFailures.Inc() }

// ObserveRequest records one finished HTTP request.
func (r *Registry) ObserveRequest(method string, status int, elapsed time.Duration) {
	r.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
