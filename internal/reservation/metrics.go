package reservation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// bookingOps counts engine operations by operation and result
	bookingOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_operations_total",
		Help: "Reservation engine operations by operation and result",
	}, []string{"operation", "result"})

	confirmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_confirm_duration_seconds",
		Help:    "Time spent converting a hold into a booking",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)
