package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cleanpoints_websocket_connections",
		Help: "Open WebSocket connections on this instance.",
	})
	eventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cleanpoints_websocket_events_sent_total",
		Help: "Events queued to WebSocket clients.",
	})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cleanpoints_websocket_events_dropped_total",
		Help: "Events dropped because a client's buffer was full.",
	})
)
