package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trains",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trains",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trains",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by backend.",
	}, []string{"backend"})

	responseCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trains",
		Subsystem: "http",
		Name:      "response_cache_total",
		Help:      "Response cache lookups by result (hit, miss).",
	}, []string{"result"})
)

// Metrics records request counts and latency per registered route.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Response().Status)).Inc()
			httpLatency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
