// Package metrics declares the Prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	EventsReceived    *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	NotesRejected     prometheus.Counter
	ChannelsActive    prometheus.Gauge
	ClientsActive     prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "piano_connections_active",
			Help: "Number of currently open WebSocket connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "piano_connections_total",
			Help: "Total number of accepted WebSocket connections",
		}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "piano_events_received_total",
			Help: "Inbound events by message tag",
		}, []string{"tag"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "piano_events_dropped_total",
			Help: "Inbound events dropped before taking effect",
		}, []string{"reason"}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "piano_broadcasts_total",
			Help: "Outbound fan-outs that reached at least one recipient, by kind",
		}, []string{"kind"}),
		NotesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "piano_notes_rejected_total",
			Help: "Note batches rejected by the quota",
		}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "piano_channels_active",
			Help: "Number of live channels",
		}),
		ClientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "piano_clients_active",
			Help: "Number of registered clients",
		}),
	}
}
