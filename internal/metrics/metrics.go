package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartsched_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartsched_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	calendarCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartsched_calendar_api_calls_total",
		Help: "Calls made to the Google Calendar API by operation and result.",
	}, []string{"operation", "result"})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartsched_token_refreshes_total",
		Help: "Access token refresh attempts by result.",
	}, []string{"result"})

	syncOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartsched_sync_outcomes_total",
		Help: "Reconciliation outcomes by entity kind.",
	}, []string{"kind", "outcome"})
)

// Middleware records request count and latency labelled by the matched gin route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(method, route).Inc()
		httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCalendarCall counts one Calendar API call. result is "ok" or an error class.
func ObserveCalendarCall(operation, result string) {
	calendarCalls.WithLabelValues(operation, result).Inc()
}

// ObserveTokenRefresh counts one refresh attempt.
func ObserveTokenRefresh(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

// ObserveSyncOutcome counts one reconciliation outcome for a task or slot.
func ObserveSyncOutcome(kind, outcome string) {
	syncOutcomes.WithLabelValues(kind, outcome).Inc()
}
