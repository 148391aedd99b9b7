package ledger

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanpoints",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger mutations by operation and result kind.",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cleanpoints",
		Subsystem: "ledger",
		Name:      "operation_duration_seconds",
		Help:      "Wall time of ledger mutations including lock wait and retries.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanpoints",
		Subsystem: "ledger",
		Name:      "conflict_retries_total",
		Help:      "Compare-and-update attempts lost to a concurrent writer.",
	}, []string{"op"})

	pointsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cleanpoints",
		Subsystem: "ledger",
		Name:      "points_total",
		Help:      "Points committed by kind and category.",
	}, []string{"kind", "category"})
)

func observe(op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(Code(err))
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
