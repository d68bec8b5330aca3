package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: streaming chat requests that opened a provider stream.
	StreamsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_streams_started_total",
			Help: "Total number of provider streams opened.",
		},
	)

	// Counter: streams that ended with an in-stream error event.
	StreamErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stream_errors_total",
			Help: "Total number of streams terminated by an error event.",
		},
	)

	// Counter: fragments forwarded to browsers.
	FragmentsForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fragments_forwarded_total",
			Help: "Total number of stream fragments relayed to clients.",
		},
	)

	// Histogram: full stream duration, open to close, in seconds.
	StreamDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_stream_duration_seconds",
			Help:    "Duration of one relayed chat stream in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// Counter: how many renders were served from the render cache.
	RenderCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "render_cache_hits_total",
			Help: "Total number of render cache hits.",
		},
	)

	// Histogram: HTTP latency in seconds.
	RequestLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		StreamsStartedTotal,
		StreamErrorsTotal,
		FragmentsForwardedTotal,
		StreamDurationSeconds,
		RenderCacheHitsTotal,
		RequestLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		// Label by route pattern, not raw path: /static/* is one series,
		// not one per asset.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		RequestLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streamable through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
