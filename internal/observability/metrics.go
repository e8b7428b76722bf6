package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)

	gatewayTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "gateway",
			Name:      "state_transitions_total",
			Help:      "Gateway session state transitions by target state.",
		},
		[]string{"state"},
	)
	gatewayCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "gateway",
			Name:      "closes_total",
			Help:      "Gateway socket closures by close code and disposition.",
		},
		[]string{"code", "disposition"},
	)
	gatewayDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "gateway",
			Name:      "dispatch_events_total",
			Help:      "Dispatch events forwarded to handlers.",
		},
		[]string{"event"},
	)
	gatewayHeartbeat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "edgelink",
			Subsystem: "gateway",
			Name:      "heartbeat_latency_seconds",
			Help:      "Heartbeat send to ack round trip.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	restRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "REST requests sent, by bucket and response status.",
		},
		[]string{"bucket", "method", "status"},
	)
	restDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgelink",
			Subsystem: "rest",
			Name:      "request_duration_seconds",
			Help:      "REST round trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"bucket", "method", "status"},
	)
	restRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "rest",
			Name:      "retries_total",
			Help:      "REST retries by reason (rate_limited, server_error, transport).",
		},
		[]string{"bucket", "reason"},
	)
	restWaits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgelink",
			Subsystem: "rest",
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting on exhausted rate limit buckets.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"scope"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			gatewayTransitions, gatewayCloses, gatewayDispatch, gatewayHeartbeat,
			restRequests, restDuration, restRetries, restWaits,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordGatewayState(state string) {
	RegisterMetrics()
	gatewayTransitions.WithLabelValues(state).Inc()
}

func RecordGatewayClose(code int, disposition string) {
	RegisterMetrics()
	gatewayCloses.WithLabelValues(strconv.Itoa(code), disposition).Inc()
}

func RecordGatewayDispatch(event string) {
	RegisterMetrics()
	gatewayDispatch.WithLabelValues(event).Inc()
}

func RecordHeartbeatLatency(rtt time.Duration) {
	RegisterMetrics()
	gatewayHeartbeat.Observe(rtt.Seconds())
}

// RecordRESTRequest records one completed round trip. status 0 means the
// request failed before a response arrived.
func RecordRESTRequest(bucket, method string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	restRequests.WithLabelValues(bucket, method, statusLabel).Inc()
	restDuration.WithLabelValues(bucket, method, statusLabel).Observe(duration.Seconds())
}

func RecordRESTRetry(bucket, reason string) {
	RegisterMetrics()
	restRetries.WithLabelValues(bucket, reason).Inc()
}

func RecordRateLimitWait(scope string, wait time.Duration) {
	RegisterMetrics()
	restWaits.WithLabelValues(scope).Observe(wait.Seconds())
}
