package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth metrics.
var (
	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Tokens issued by kind.",
		},
		[]string{"kind"},
	)

	tokenValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_validations_total",
			Help: "Token validations by result and rejection reason.",
		},
		[]string{"result", "reason"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Refresh rotations by result.",
		},
		[]string{"result"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_ready",
		Help: "1 when every readiness probe passed on the last check.",
	})

	maintenanceDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_maintenance_deleted_total",
			Help: "Rows retired by maintenance jobs.",
		},
		[]string{"job"},
	)
)

// Init registers every collector in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokensIssued, tokenValidations, tokenRefreshes, maintenanceDeleted, serviceReady,
	)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenIssued counts one issued token.
func TokenIssued(kind string) {
	tokensIssued.WithLabelValues(kind).Inc()
}

// TokenValidated counts one validation outcome; reason is empty on success.
func TokenValidated(ok bool, reason string) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	tokenValidations.WithLabelValues(result, reason).Inc()
}

// TokenRefreshed counts one refresh attempt.
func TokenRefreshed(ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	tokenRefreshes.WithLabelValues(result).Inc()
}

// SetReady records the last readiness outcome.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// MaintenanceDeleted adds n rows retired by job.
func MaintenanceDeleted(job string, n int64) {
	if n > 0 {
		maintenanceDeleted.WithLabelValues(job).Add(float64(n))
	}
}

// Instrument records request count, latency and concurrency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "roles", "users", "devices":
			if parts[i] != "seed" {
				parts[i] = ":id"
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
