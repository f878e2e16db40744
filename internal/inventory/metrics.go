package inventory

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

var (
	// casTotal counts compare-and-set batches by store and result
	casTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_cas_total",
		Help: "Seat compare-and-set batches by store and result",
	}, []string{"store", "result"})

	// casBatchSize tracks how many seats each batch touches
	casBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_cas_batch_seats",
		Help:    "Seats per compare-and-set batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})

	snapshotCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_snapshot_cache_total",
		Help: "Seat snapshot cache lookups by result",
	}, []string{"result"})
)

func observeCAS(store string, n int, err error) {
	casBatchSize.Observe(float64(n))
	casTotal.WithLabelValues(store, casResult(err)).Inc()
}

func casResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrHoldExpired):
		return "expired"
	default:
		return "error"
	}
}
