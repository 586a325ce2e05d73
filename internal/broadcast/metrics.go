package broadcast

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livepost_events_broadcast_total",
		Help: "Events handed to connected clients, by event name",
	}, []string{"event"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livepost_events_dropped_total",
		Help: "Events that never reached the hub or a client, by reason",
	}, []string{"reason"})

	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livepost_ws_clients",
		Help: "Currently connected websocket clients",
	})
)

func init() {
	prometheus.MustRegister(eventsBroadcast, eventsDropped, connectedClients)
}
