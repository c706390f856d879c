package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tvRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracevault_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	tvRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracevault_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	tvEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracevault_entries_total",
		Help: "Total audit entries appended by outcome.",
	}, []string{"result"})

	tvVerifyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracevault_verify_runs_total",
		Help: "Total chain verification runs by verdict.",
	}, []string{"verdict"})

	tvViolationsDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracevault_violations_detected",
		Help: "Violations found by the most recent verification run.",
	})

	tvAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracevault_alert_deliveries_total",
		Help: "Total integrity alert deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		tvRequestsTotal.WithLabelValues(method, path, status).Inc()
		tvRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records an audit entry append outcome.
func RecordAppend(success bool) {
	if success {
		tvEntriesTotal.WithLabelValues("ok").Inc()
	} else {
		tvEntriesTotal.WithLabelValues("error").Inc()
	}
}

// RecordVerify records a verification run verdict and its violation count.
func RecordVerify(valid bool, violations int) {
	if valid {
		tvVerifyRunsTotal.WithLabelValues("valid").Inc()
	} else {
		tvVerifyRunsTotal.WithLabelValues("invalid").Inc()
	}
	tvViolationsDetected.Set(float64(violations))
}

// RecordAlertDelivery records an integrity alert delivery attempt.
func RecordAlertDelivery(success bool) {
	if success {
		tvAlertDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		tvAlertDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
