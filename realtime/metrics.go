package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the realtime layer. A nil Registerer keeps
// them private, which is what tests use.
type Metrics struct {
	Connections    prometheus.Gauge
	OnlineUsers    prometheus.Gauge
	EventsReceived *prometheus.CounterVec
	FramesSent     prometheus.Counter
	FramesDropped  prometheus.Counter
	TypingSets     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "citizenchat",
			Subsystem: "socket",
			Name:      "connections",
			Help:      "Open socket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "citizenchat",
			Subsystem: "presence",
			Name:      "online_users",
			Help:      "Users with at least one open connection.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citizenchat",
			Subsystem: "socket",
			Name:      "events_received_total",
			Help:      "Inbound socket events by name.",
		}, []string{"event"}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "citizenchat",
			Subsystem: "socket",
			Name:      "frames_sent_total",
			Help:      "Outbound frames queued for delivery.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "citizenchat",
			Subsystem: "socket",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because a client send buffer was full.",
		}),
		TypingSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "citizenchat",
			Subsystem: "typing",
			Name:      "conversations",
			Help:      "Conversations with a tracked typing set.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.OnlineUsers, m.EventsReceived, m.FramesSent, m.FramesDropped, m.TypingSets)
	}
	return m
}

// unknownEvent labels inbound events outside the known set so client input
// cannot grow the number of series.
const unknownEvent = "unknown"

func (m *Metrics) eventReceived(event string) {
	if !IsInbound(event) {
		event = unknownEvent
	}
	m.EventsReceived.WithLabelValues(event).Inc()
}
