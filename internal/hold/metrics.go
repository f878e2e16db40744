package hold

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	holdsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hold_place_total",
		Help: "Hold placements by result",
	}, []string{"result"})

	holdsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hold_resolved_total",
		Help: "Holds that reached a terminal status, by status",
	}, []string{"status"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hold_sweep_duration_seconds",
		Help:    "Duration of one expiry sweep",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	pendingExpiries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hold_pending_expiries",
		Help: "Entries waiting in the expiry index",
	})
)
