package rudp

import (
	"github.com/prometheus/client_golang/prometheus"

	"gorudp/source/protocol"
)

// Metrics exposes the per-channel delivery statistics spec §3 "Channel ...
// Common fields" requires as Prometheus counters/gauges, alongside the
// plain struct counters protocol.Stats already tracks — grounded on
// runZeroInc-sockstats' exporter package, the pack's one example wiring
// client_golang to per-connection traffic counters.
type Metrics struct {
	PacketsSent       *prometheus.GaugeVec
	BytesSent         *prometheus.GaugeVec
	PacketsReceived   *prometheus.GaugeVec
	BytesReceived     *prometheus.GaugeVec
	Duplicated        *prometheus.GaugeVec
	OutOfOrder        *prometheus.GaugeVec
	Retransmitted     *prometheus.GaugeVec
	PoolAllocations   prometheus.Gauge
	ActiveConnections prometheus.Gauge
}

// NewMetrics registers the transport's collectors on reg (use
// prometheus.NewRegistry() per-Node in tests to avoid global-registry
// collisions).
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	labels := []string{"channel"}
	newVec := func(name, help string) *prometheus.GaugeVec {
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(v)
		return v
	}

	m := &Metrics{
		PacketsSent:     newVec("packets_sent_total", "Packets sent per channel."),
		BytesSent:       newVec("bytes_sent_total", "Bytes sent per channel."),
		PacketsReceived: newVec("packets_received_total", "Packets received per channel."),
		BytesReceived:   newVec("bytes_received_total", "Bytes received per channel."),
		Duplicated:      newVec("duplicated_total", "Duplicate packets discarded per channel."),
		OutOfOrder:      newVec("out_of_order_total", "Out-of-order packets discarded per channel."),
		Retransmitted:   newVec("retransmitted_total", "Retransmitted packets per channel."),
		PoolAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "allocations",
			Help:      "Pool buffers currently checked out and not yet returned (spec §8 invariant 8).",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Currently connected endpoints.",
		}),
	}
	reg.MustRegister(m.PoolAllocations, m.ActiveConnections)
	return m
}

// Observe copies a channel's current Stats snapshot into the Prometheus
// series labeled by name. Called from Node.Tick, not from the hot
// send/receive path, so counters stay monotonic without per-packet
// Prometheus overhead.
func (m *Metrics) Observe(name string, s protocol.Stats) {
	m.PacketsSent.WithLabelValues(name).Set(float64(s.PacketsSent))
	m.BytesSent.WithLabelValues(name).Set(float64(s.BytesSent))
	m.PacketsReceived.WithLabelValues(name).Set(float64(s.PacketsReceived))
	m.BytesReceived.WithLabelValues(name).Set(float64(s.BytesReceived))
	m.Duplicated.WithLabelValues(name).Set(float64(s.Duplicated))
	m.OutOfOrder.WithLabelValues(name).Set(float64(s.OutOfOrder))
	m.Retransmitted.WithLabelValues(name).Set(float64(s.Retransmitted))
}
