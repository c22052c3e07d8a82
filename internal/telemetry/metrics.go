package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Protocol traffic ----
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "messages_sent_total",
			Help:      "Messages handed to the transport, by kind.",
		},
		[]string{"kind"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "messages_received_total",
			Help:      "Messages delivered to the detector, by kind.",
		},
		[]string{"kind"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped before or by the detector, by reason.",
		},
		[]string{"reason"},
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "send_errors_total",
			Help:      "Sends the transport refused, by kind.",
		},
		[]string{"kind"},
	)

	// ---- Coordinator ----
	Registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "registrations_total",
			Help:      "Register requests handled, by outcome (new or duplicate).",
		},
		[]string{"outcome"},
	)

	FailuresDeclared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "failures_declared_total",
			Help:      "Workers removed after reaching the failure threshold.",
		},
	)

	ProbeCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "probe_cycles_total",
			Help:      "Probe cycles run by the coordinator.",
		},
	)

	RegisteredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pingack",
			Name:      "registered_workers",
			Help:      "Workers currently in the coordinator's registry.",
		},
	)

	SuspicionLevel = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pingack",
			Name:      "suspicion_level",
			Help:      "Suspicion levels reached by workers during probe cycles.",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		},
	)

	ResponseAge = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pingack",
			Name:      "response_age_seconds",
			Help:      "Age of probe responses when they reach the coordinator.",
			// 1ms .. ~16s, past the freshness window.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	// ---- Worker ----
	WorkerRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pingack",
			Name:      "worker_registered",
			Help:      "1 once this worker's registration was acknowledged.",
		},
	)

	// ---- HTTP status endpoints ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pingack",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pingack",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pingack",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version, git_sha and role).",
		},
		[]string{"version", "git_sha", "role"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pingack",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesSent, MessagesReceived, MessagesDropped, SendErrors,
		Registrations, FailuresDeclared, ProbeCycles, RegisteredWorkers,
		SuspicionLevel, ResponseAge, WorkerRegistered,
		RequestsTotal, RequestDuration, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA, role string) {
	buildInfo.WithLabelValues(version, gitSHA, role).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
//
//	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
