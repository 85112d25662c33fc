// Package metrics provides Prometheus instrumentation for the decision
// service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arbiter",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts finalized decisions by verdict.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "decisions_total",
			Help:      "Total decisions by verdict.",
		},
		[]string{"verdict"},
	)

	// DecisionDuration observes end-to-end decision latency. Buckets are
	// tuned to the sub-150ms budget.
	DecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbiter",
		Name:      "decision_duration_seconds",
		Help:      "End-to-end decision latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.25, 0.5, 1},
	})

	// DegradedDecisionsTotal counts decisions made with a missing input path.
	DegradedDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "degraded_decisions_total",
			Help:      "Total decisions made in a degraded mode, by missing path.",
		},
		[]string{"path"},
	)

	// FailSafeDenialsTotal counts decisions denied because every input failed.
	FailSafeDenialsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiter",
		Name:      "failsafe_denials_total",
		Help:      "Total fail-safe denials issued when all decision inputs failed.",
	})

	// IdempotentHitsTotal counts requests answered from the idempotency cache.
	IdempotentHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiter",
		Name:      "idempotent_hits_total",
		Help:      "Total requests answered with a previously stored decision.",
	})

	// AuditAppendsTotal counts audit chain appends.
	AuditAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiter",
		Name:      "audit_appends_total",
		Help:      "Total audit log entries appended.",
	})

	// AuditAppendErrorsTotal counts failed audit appends.
	AuditAppendErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "arbiter",
		Name:      "audit_append_errors_total",
		Help:      "Total audit log appends that failed.",
	})

	// RuleSetSize tracks the number of compiled rules in the active set.
	RuleSetSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiter",
		Name:      "ruleset_size",
		Help:      "Number of compiled rules in the active rule set.",
	})

	// ActiveWebSocketClients tracks connected decision feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiter", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiter", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiter", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiter", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiter", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbiter", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecisionDuration,
		DegradedDecisionsTotal,
		FailSafeDenialsTotal,
		IdempotentHitsTotal,
		AuditAppendsTotal,
		AuditAppendErrorsTotal,
		RuleSetSize,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
