package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics instruments request count and duration.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

type metricsOptions struct {
	namespace string
	registry  prometheus.Registerer
	buckets   []float64
}

// MetricsOption configures NewHTTPMetrics.
type MetricsOption func(*metricsOptions)

// WithNamespace overrides the metric namespace. Default: "weft".
func WithNamespace(ns string) MetricsOption {
	return func(o *metricsOptions) { o.namespace = ns }
}

// WithRegistry registers the collectors somewhere other than the
// default registerer.
func WithRegistry(r prometheus.Registerer) MetricsOption {
	return func(o *metricsOptions) { o.registry = r }
}

// WithBuckets overrides the request duration buckets (seconds).
func WithBuckets(b []float64) MetricsOption {
	return func(o *metricsOptions) { o.buckets = b }
}

// NewHTTPMetrics builds and registers the collectors. Build one per
// process; promauto panics on duplicate registration.
func NewHTTPMetrics(opts ...MetricsOption) *HTTPMetrics {
	o := metricsOptions{
		namespace: "weft",
		registry:  prometheus.DefaultRegisterer,
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&o)
	}
	factory := promauto.With(o.registry)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by path and status code.",
		}, []string{"path", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request handling time.",
			Buckets:   o.buckets,
		}, []string{"path"}),
	}
}

// Handler is the middleware.
func (m *HTTPMetrics) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.URL.Path, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
