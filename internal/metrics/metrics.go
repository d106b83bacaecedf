// Package metrics owns the Prometheus collectors for the tracker server.
//
// Collectors live in a private registry rather than the global default one,
// so tests and embedded uses don't collide with other libraries' metrics.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nutrition",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nutrition",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nutrition",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	storageStatements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nutrition",
			Subsystem: "storage",
			Name:      "statements_total",
			Help:      "Statements executed by the persistence adapter.",
		},
		[]string{"backend", "kind", "outcome"},
	)

	storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nutrition",
			Subsystem: "storage",
			Name:      "statement_duration_seconds",
			Help:      "Duration of statements executed by the persistence adapter.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"backend", "kind"},
	)

	broadcastSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nutrition",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Currently connected broadcast subscribers.",
		},
	)

	broadcastDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nutrition",
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Broadcast deliveries by result (delivered, evicted).",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		storageStatements,
		storageDuration,
		broadcastSubscribers,
		broadcastDeliveries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Requests are labelled by chi route pattern, not raw path, to keep label
// cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveStatement records one adapter statement.
// kind is "query" or "exec"; outcome is "ok" or an error kind label.
func ObserveStatement(backend, kind, outcome string, d time.Duration) {
	storageStatements.WithLabelValues(backend, kind, outcome).Inc()
	storageDuration.WithLabelValues(backend, kind).Observe(d.Seconds())
}

// SubscriberAdded and SubscriberRemoved track live broadcast subscriptions.
func SubscriberAdded() { broadcastSubscribers.Inc() }
func SubscriberRemoved() { broadcastSubscribers.Dec() }

// DeliveryDelivered counts a message handed to a subscriber.
func DeliveryDelivered() { broadcastDeliveries.WithLabelValues("delivered").Inc() }

// DeliveryEvicted counts a subscriber dropped because its buffer was full.
func DeliveryEvicted() { broadcastDeliveries.WithLabelValues("evicted").Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over instrumented connections.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
