// Package metrics holds the Prometheus collectors shared by the engine,
// the response fan-out and the HTTP surface.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safezone"

var (
	RiskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_transitions_total",
			Help:      "Risk level changes by resulting level.",
		},
		[]string{"level"},
	)

	RiskLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "risk_level",
		Help:      "Current risk level (0 safe .. 3 danger).",
	})

	CountdownsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "countdowns_started_total",
		Help:      "Countdowns started after a danger evaluation.",
	})

	CountdownsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "countdowns_cancelled_total",
		Help:      "Countdowns cancelled before confirmation.",
	})

	IncidentsConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_confirmed_total",
			Help:      "Confirmed incidents by incident type.",
		},
		[]string{"kind"},
	)

	UnlockAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_attempts_total",
			Help:      "Safe word attempts by result.",
		},
		[]string{"result"},
	)

	OracleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_errors_total",
		Help:      "Area risk lookups that failed and fell back to zero.",
	})

	OracleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_latency_seconds",
		Help:      "Area risk lookup latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	ResponseActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_actions_total",
			Help:      "Fan-out actions by action and outcome.",
		},
		[]string{"action", "result"},
	)

	PanicTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panic_triggers_total",
			Help:      "Panic gestures detected by source.",
		},
		[]string{"source"},
	)

	SensorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_events_total",
			Help:      "Sensor messages accepted by transport and type.",
		},
		[]string{"transport", "type"},
	)

	SensorDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_dropped_total",
			Help:      "Sensor messages dropped by reason.",
		},
		[]string{"reason"},
	)

	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Number of connected live-state clients.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		RiskTransitions,
		RiskLevel,
		CountdownsStarted,
		CountdownsCancelled,
		IncidentsConfirmed,
		UnlockAttempts,
		OracleErrors,
		OracleLatency,
		ResponseActions,
		PanicTriggers,
		SensorEvents,
		SensorDropped,
		ActiveWebSocketClients,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath()))
		c.Next()
		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), statusBucket(c.Writer.Status())).Inc()
	}
}

func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

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
