package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay holds the relay server collectors. A nil *Relay records nothing.
type Relay struct {
	// Connections tracks open WebSocket connections
	Connections prometheus.Gauge

	// Rooms tracks rooms with at least one member
	Rooms prometheus.Gauge

	// Messages counts received protocol messages by type
	Messages *prometheus.CounterVec

	// UpdateBytes counts document update payload bytes relayed
	UpdateBytes prometheus.Counter
}

func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Number of open relay connections",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Number of rooms with at least one member",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Total number of protocol messages received",
		}, []string{"type"}),
		UpdateBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "update_bytes_total",
			Help:      "Total document update bytes relayed",
		}),
	}
}

func (m *Relay) RecordConnection(delta float64) {
	if m == nil {
		return
	}
	m.Connections.Add(delta)
}

func (m *Relay) SetRooms(n int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(n))
}

func (m *Relay) RecordMessage(msgType string, updateBytes int) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(msgType).Inc()
	if updateBytes > 0 {
		m.UpdateBytes.Add(float64(updateBytes))
	}
}
