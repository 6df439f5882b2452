package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total topic publishes by outcome.",
		},
		[]string{"topic", "outcome"},
	)
	eventsPublishSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_publish_skipped_total",
			Help: "Publishes skipped before reaching the transport.",
		},
		[]string{"reason"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_received_total",
			Help: "Total messages received by queue.",
		},
		[]string{"queue"},
	)
	messagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_processed_total",
			Help: "Total processed messages by final state.",
		},
		[]string{"queue", "outcome"},
	)
	messagesDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_deleted_total",
			Help: "Total messages deleted from their source queue.",
		},
		[]string{"queue"},
	)
	deleteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_delete_failures_total",
			Help: "Per-entry batch delete failures by error code.",
		},
		[]string{"queue", "code"},
	)
	deadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dead_lettered_total",
			Help: "Total messages moved to the dead-letter queue.",
		},
		[]string{"queue"},
	)
	drainCycle = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_drain_cycle_seconds",
			Help:    "Drain cycle duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

// Collectors lists every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequests, httpLatency,
		eventsPublished, eventsPublishSkipped,
		messagesReceived, messagesProcessed, messagesDeleted, deleteFailures, deadLettered, drainCycle,
		asynqQueueDepth,
	}
}

func Register() {
	prometheus.MustRegister(Collectors()...)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncEventPublished(topic string, outcome string) {
	eventsPublished.WithLabelValues(topic, outcome).Inc()
}

func IncPublishSkipped(reason string) {
	eventsPublishSkipped.WithLabelValues(reason).Inc()
}

func AddMessagesReceived(queue string, n int) {
	if n <= 0 {
		return
	}
	messagesReceived.WithLabelValues(queue).Add(float64(n))
}

func IncMessageProcessed(queue string, outcome string) {
	messagesProcessed.WithLabelValues(queue, outcome).Inc()
}

func AddMessagesDeleted(queue string, n int) {
	if n <= 0 {
		return
	}
	messagesDeleted.WithLabelValues(queue).Add(float64(n))
}

func IncDeleteFailure(queue string, code string) {
	deleteFailures.WithLabelValues(queue, code).Inc()
}

func IncDeadLettered(queue string) {
	deadLettered.WithLabelValues(queue).Inc()
}

func ObserveDrainCycle(queue string, d time.Duration) {
	drainCycle.WithLabelValues(queue).Observe(d.Seconds())
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
