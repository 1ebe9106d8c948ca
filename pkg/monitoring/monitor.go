package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AnswersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_answers_processed_total",
			Help: "Answer queue entries processed, by outcome",
		},
		[]string{"outcome"},
	)

	CoinsAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_coins_awarded_total",
			Help: "Total coins paid out through the ledger",
		},
	)

	AllocationChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_allocation_changes_total",
			Help: "Allocations created and evicted by the pool manager",
		},
		[]string{"op"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AnswersProcessed)
	prometheus.MustRegister(CoinsAwarded)
	prometheus.MustRegister(AllocationChanges)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
