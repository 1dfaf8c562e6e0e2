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

	RevealTransitionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reveal_transitions_total",
			Help: "Reveal lifecycle transitions by target state",
		},
		[]string{"to"},
	)

	RaceAttemptCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "race_attempts_total",
			Help: "Race challenge attempt submissions",
		},
		[]string{"race_type"},
	)

	RaceWinnerCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "race_winners_total",
			Help: "Race challenges decided by a winner",
		},
		[]string{"race_type"},
	)

	RevealWatchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reveal_watchers",
			Help: "Currently connected race watch sockets",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(RevealTransitionCounter)
	prometheus.MustRegister(RaceAttemptCounter)
	prometheus.MustRegister(RaceWinnerCounter)
	prometheus.MustRegister(RevealWatchers)
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
