package protocol

import (
	"net"
	"sync"
	"sync/atomic"
)

// ChannelOwner is the subset of Connection a Channel needs: raw send,
// pending-packet dispatch, pool access, and RTT for backoff seeding (spec
// §4.6 "current smoothed RTT times two"; §9 "channels borrow the
// connection for the duration of a call").
type ChannelOwner interface {
	SendRaw(pkt *Packet)
	EnqueuePending(pkt *Packet, from net.Addr)
	Pool() *PacketPool
	SmoothedRTT() float64
	InitialRTT() float64
	RemoteAddr() net.Addr
	// ReportLost is called by a channel once a PendingPacket exceeds
	// MaxResendAttempts (spec §4.8 "signals the connection to timeout").
	ReportLost()
}

// Stats holds the counters every channel exposes regardless of delivery
// mode (spec §3 "Channel ... Common fields").
type Stats struct {
	PacketsSent     int64
	BytesSent       int64
	PacketsReceived int64
	BytesReceived   int64
	Duplicated      int64
	OutOfOrder      int64
	Retransmitted   int64
}

// Counters are touched from both the receive thread and timer workers
// (spec §5 "Shared-resource policy"), hence atomics rather than plain
// fields.
func (s *Stats) addSent(packets, bytes int) {
	atomic.AddInt64(&s.PacketsSent, int64(packets))
	atomic.AddInt64(&s.BytesSent, int64(bytes))
}

func (s *Stats) addReceived(bytes int) {
	atomic.AddInt64(&s.PacketsReceived, 1)
	atomic.AddInt64(&s.BytesReceived, int64(bytes))
}

func (s *Stats) addDuplicate()  { atomic.AddInt64(&s.Duplicated, 1) }
func (s *Stats) addOutOfOrder() { atomic.AddInt64(&s.OutOfOrder, 1) }
func (s *Stats) addRetransmit() { atomic.AddInt64(&s.Retransmitted, 1) }

// Snapshot returns a copy safe to read without racing further updates.
func (s *Stats) Snapshot() Stats {
	return Stats{
		PacketsSent:     atomic.LoadInt64(&s.PacketsSent),
		BytesSent:       atomic.LoadInt64(&s.BytesSent),
		PacketsReceived: atomic.LoadInt64(&s.PacketsReceived),
		BytesReceived:   atomic.LoadInt64(&s.BytesReceived),
		Duplicated:      atomic.LoadInt64(&s.Duplicated),
		OutOfOrder:      atomic.LoadInt64(&s.OutOfOrder),
		Retransmitted:   atomic.LoadInt64(&s.Retransmitted),
	}
}

// Channel is the per-delivery-mode send/receive/ack pipeline attached to a
// connection (spec §4.3).
type Channel interface {
	Name() string
	ID() byte
	// Send frames and transmits pkt, returning the number of packets and
	// bytes actually put on the wire.
	Send(pkt *Packet) (packetsEmitted int, bytesEmitted int, err error)
	// Receive handles an inbound Data packet already positioned past the
	// fixed header and channel id.
	Receive(pkt *Packet, from net.Addr)
	// ReceiveAck handles an inbound Acknowledgement packet for this
	// channel. Non-reliable channels treat this as a protocol violation.
	ReceiveAck(pkt *Packet, from net.Addr)
	Stats() Stats
	// HeaderLen is how many placeholder bytes the caller building a Data
	// packet must reserve after the channel id and before the payload,
	// for this channel to fill in via WriteAt (spec §3 "Packet" field
	// layout: sequence/fragment fields sit before the payload at fixed
	// offsets). Fragment channels return 0: they build their own
	// per-fragment packets from the raw payload instead.
	HeaderLen() int
	// CancelPending stops every in-flight PendingPacket's retransmit timer
	// and returns its packet to the pool, without sending anything further
	// (spec §5 "Connection close cancels all pending packets' timers;
	// their packets are returned to the pool exactly once"). Called once
	// per channel on connection teardown.
	CancelPending()
}

// base is embedded by every concrete channel to share id/name/stats and a
// back-reference to the owning connection's send/dispatch surface.
type base struct {
	id    byte
	name  string
	owner ChannelOwner
	stats Stats
	mu    sync.Mutex // guards channel-specific sequence/window state
}

func (b *base) Name() string { return b.name }
func (b *base) ID() byte     { return b.id }
func (b *base) Stats() Stats { return b.stats.Snapshot() }

// CancelPending default: nothing in flight for Unreliable/Sequenced
// channels, which never hold a PendingPacket. Reliable and fragment
// channels override this.
func (b *base) CancelPending() {}
