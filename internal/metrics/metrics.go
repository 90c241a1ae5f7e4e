package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "klaxon"

// HTTP metrics (counter/histogram — incremented by middleware).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})

	HTTPResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B → 100MB
	}, []string{"method", "path_pattern"})
)

// Call lifecycle counters (incremented directly by the services).
var (
	CallsRegisteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_registered_total",
		Help:      "Call registrations by outcome (new cycle vs. dedup update).",
	}, []string{"outcome"})

	DialAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dial_attempts_total",
		Help:      "Channel originations by outcome.",
	}, []string{"outcome"})

	AcknowledgementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "acknowledgements_total",
		Help:      "Acknowledgements by outcome (in_window, late).",
	}, []string{"outcome"})

	RetriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_scheduled_total",
		Help:      "Unanswered calls re-enqueued by the recaller.",
	})

	BackupEscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_escalations_total",
		Help:      "Exhausted cycles escalated to a backup callee.",
	})

	ScheduledDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_calls_dispatched_total",
		Help:      "Scheduled calls handed to the dialer at their due time.",
	})

	AlertsDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_dispatched_total",
		Help:      "Alert notifications dispatched per receiver kind.",
	}, []string{"receiver"})
)

// PBX event stream counters.
var (
	PBXEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pbx_events_total",
		Help:      "ARI websocket events received by type.",
	}, []string{"type"})

	PlaybacksStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "playbacks_started_total",
		Help:      "Message playbacks started on answered channels.",
	})
)

// TTS and audio cache counters.
var (
	SynthesisTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tts_synthesis_total",
		Help:      "Text-to-speech renderings by engine and outcome.",
	}, []string{"engine", "outcome"})

	SynthesisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tts_synthesis_duration_seconds",
		Help:      "Text-to-speech rendering duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms → ~51s
	}, []string{"engine"})

	AudioCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_cache_hits_total",
		Help:      "Audio requests served from the content-addressed cache.",
	})

	AudioCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_cache_misses_total",
		Help:      "Audio requests that required a fresh rendering.",
	})
)

// SMS counters.
var (
	SMSSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sms_sent_total",
		Help:      "SMS deliveries by carrier and outcome.",
	}, []string{"carrier", "outcome"})
)

// Queue and MQTT counters.
var (
	QueuePublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_published_total",
		Help:      "Dial jobs published to the queue.",
	}, []string{"queue"})

	MQTTMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_total",
		Help:      "Total MQTT messages received.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPResponseSize,
		CallsRegisteredTotal,
		DialAttemptsTotal,
		AcknowledgementsTotal,
		RetriesScheduledTotal,
		BackupEscalationsTotal,
		ScheduledDispatchedTotal,
		AlertsDispatchedTotal,
		PBXEventsTotal,
		PlaybacksStartedTotal,
		SynthesisTotal,
		SynthesisDuration,
		AudioCacheHitsTotal,
		AudioCacheMissesTotal,
		SMSSentTotal,
		QueuePublishedTotal,
		MQTTMessagesTotal,
	)
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
		HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(sw.written))
	})
}

// statusWriter wraps http.ResponseWriter to capture status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Unwrap supports http.ResponseController and middleware that check for
// wrapped writers (e.g. http.Flusher for websocket upgrades).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
