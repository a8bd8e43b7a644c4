// Package metrics exposes Fluxel's sender/receiver engines as Prometheus
// collectors. It is ambient observability, not a protocol primitive: the
// engines function identically whether or not a Sender or Receiver is
// wired in.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Sender holds the counters and gauges the sender engine updates as it
// transmits, retransmits, and drains its window.
type Sender struct {
	WindowSize          prometheus.Gauge
	BytesRead           prometheus.Counter
	PacketsSent         prometheus.Counter
	RetransmitSelective prometheus.Counter
	RetransmitTimeout   prometheus.Counter
}

// Receiver holds the counters and gauges the receiver engine updates as it
// buffers, deduplicates, and plays out datagrams.
type Receiver struct {
	BufferSize        prometheus.Gauge
	BytesDelivered    prometheus.Counter
	PacketsDropped    prometheus.Counter
	DuplicatesDropped prometheus.Counter
	AcksSent          prometheus.Counter
}

// NewSender registers a Sender's collectors against reg. Passing a
// dedicated *prometheus.Registry (rather than the global default) keeps
// concurrent tests isolated from one another.
func NewSender(reg prometheus.Registerer, streamID uint16) *Sender {
	labels := prometheus.Labels{"stream_id": labelFromStreamID(streamID)}
	s := &Sender{
		WindowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fluxel",
			Subsystem:   "sender",
			Name:        "window_size",
			Help:        "Number of datagrams currently in the sender's in-flight window.",
			ConstLabels: labels,
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "sender",
			Name:        "bytes_read_total",
			Help:        "Total bytes read from the byte source.",
			ConstLabels: labels,
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "sender",
			Name:        "packets_sent_total",
			Help:        "Total DATA datagrams transmitted, including retransmissions.",
			ConstLabels: labels,
		}),
		RetransmitSelective: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "sender",
			Name:        "retransmits_selective_total",
			Help:        "Retransmissions triggered by a selective-ack bitmap gap.",
			ConstLabels: labels,
		}),
		RetransmitTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "sender",
			Name:        "retransmits_timeout_total",
			Help:        "Retransmissions triggered by the per-entry retransmit timeout.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(s.WindowSize, s.BytesRead, s.PacketsSent, s.RetransmitSelective, s.RetransmitTimeout)
	return s
}

// NewReceiver registers a Receiver's collectors against reg.
func NewReceiver(reg prometheus.Registerer, streamID uint16) *Receiver {
	labels := prometheus.Labels{"stream_id": labelFromStreamID(streamID)}
	r := &Receiver{
		BufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fluxel",
			Subsystem:   "receiver",
			Name:        "buffer_size",
			Help:        "Number of datagrams currently held in the reorder buffer.",
			ConstLabels: labels,
		}),
		BytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "receiver",
			Name:        "bytes_delivered_total",
			Help:        "Total bytes written to the sink in order.",
			ConstLabels: labels,
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "receiver",
			Name:        "packets_dropped_total",
			Help:        "Malformed or already-delivered DATA datagrams dropped.",
			ConstLabels: labels,
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "receiver",
			Name:        "duplicates_dropped_total",
			Help:        "Duplicate arrivals of a seq already present in the buffer.",
			ConstLabels: labels,
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fluxel",
			Subsystem:   "receiver",
			Name:        "acks_sent_total",
			Help:        "Total ACK datagrams emitted.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(r.BufferSize, r.BytesDelivered, r.PacketsDropped, r.DuplicatesDropped, r.AcksSent)
	return r
}

func labelFromStreamID(streamID uint16) string {
	return fmt.Sprintf("0x%04x", streamID)
}
