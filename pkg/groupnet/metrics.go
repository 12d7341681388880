package groupnet

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters maintained by a Node.
type Metrics struct {
	TxPackets       prometheus.Counter
	TxErrors        *prometheus.CounterVec
	RxPackets       prometheus.Counter
	RxDropped       prometheus.Counter
	BeaconsSent     prometheus.Counter
	BeaconsDropped  prometheus.Counter
	PeersRegistered prometheus.Counter
	PeerErrors      prometheus.Counter
}

// NewMetrics creates the counters and registers them to reg if not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupnet",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		TxPackets: counter("tx_packets_total", "Packets accepted by the radio."),
		TxErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupnet",
			Name:      "tx_errors_total",
			Help:      "Failed transmissions.",
		}, []string{"stage"}),
		RxPackets:       counter("rx_packets_total", "DATA packets queued for the application."),
		RxDropped:       counter("rx_dropped_total", "DATA packets dropped on a full receive ring."),
		BeaconsSent:     counter("beacons_total", "Beacons queued for transmission."),
		BeaconsDropped:  counter("beacons_dropped_total", "Beacons dropped on a full send ring."),
		PeersRegistered: counter("peers_registered_total", "Peers registered from beacons."),
		PeerErrors:      counter("peer_errors_total", "Failed peer registrations."),
	}
	if reg != nil {
		reg.MustRegister(
			m.TxPackets, m.TxErrors,
			m.RxPackets, m.RxDropped,
			m.BeaconsSent, m.BeaconsDropped,
			m.PeersRegistered, m.PeerErrors,
		)
	}
	return m
}

func (m *Metrics) txError(stage string) {
	m.TxErrors.WithLabelValues(stage).Inc()
}
