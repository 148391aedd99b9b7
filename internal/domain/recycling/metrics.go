package recycling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 0 closed, 1 half-open, 2 open
var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "cleanpoints_recycling_breaker_state",
	Help: "Circuit breaker state of the recycling validator.",
}, []string{"name"})
