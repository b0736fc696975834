package protocol

import "gorudp/pkg/buffer"

// PacketPool is the per-node Buffer pool sized to the transport's MaxSize,
// plus the reassembly byte-array pool, wrapped so channel/connection code
// only ever imports this package (spec §9 "Global pools ... become
// per-node pools").
type PacketPool struct {
	bufs *buffer.Pool
}

// NewPacketPool creates a PacketPool whose Buffers have the given MaxSize.
func NewPacketPool(maxSize int) *PacketPool {
	return &PacketPool{bufs: buffer.NewPool(maxSize)}
}

func (p *PacketPool) MaxSize() int { return p.bufs.MaxSize() }

// Control builds a header-only Packet (Connect/ConnectApproved/Disconnect).
func (p *PacketPool) Control(h HeaderType) *Packet { return NewControl(p.bufs, h) }

// Data builds a Data packet addressed to channelID.
func (p *PacketPool) Data(channelID byte) *Packet { return NewData(p.bufs, channelID) }

// Ack builds an Acknowledgement packet addressed to channelID.
func (p *PacketPool) Ack(channelID byte) *Packet { return NewAck(p.bufs, channelID) }

// FromWire wraps n received bytes.
func (p *PacketPool) FromWire(raw []byte) *Packet { return FromWire(p.bufs, raw) }

// Release returns pkt's buffer to the pool.
func (p *PacketPool) Release(pkt *Packet) {
	if pkt == nil {
		return
	}
	p.bufs.Put(pkt.buf)
}

// AllocationCount exposes the underlying pool's leak diagnostic (spec §8
// invariant 8).
func (p *PacketPool) AllocationCount() int64 { return p.bufs.AllocationCount() }

// ReassemblyBuffer allocates an exact-size byte slice for fragment
// reassembly (spec §4.7 "allocates a receive-side Buffer sized exactly
// to ..."), drawn from the power-of-two bucketed oversize pool.
func (p *PacketPool) ReassemblyBuffer(n int) []byte {
	return p.bufs.GetOversize(n)
}

// Reassembled builds a Data Packet addressed to channelID over an
// oversize backing array sized to hold capacity bytes (header included),
// for messages whose reassembled size exceeds MaxSize (spec §4.1, §4.7).
// It also serves as the send-side carrier handed to a fragment channel,
// whose payload may exceed MaxSize before it is split. Releasing the returned Packet through Release returns the backing array
// to the bucketed oversize pool, not the fixed-size free list.
func (p *PacketPool) Reassembled(channelID byte, capacity int) *Packet {
	data := p.ReassemblyBuffer(capacity)
	b := buffer.WrapOversize(data)
	pkt := &Packet{buf: b}
	_ = pkt.WriteUint8(byte(HeaderData))
	_ = pkt.WriteUint8(channelID)
	return pkt
}
