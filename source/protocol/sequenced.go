package protocol

import "net"

// seqHeaderSize is the length of the channel-id + sequence-number prefix
// written after the fixed 1-byte header (spec §6 wire-format table:
// "[1] channel id, [2..4] seq").
const seqHeaderSize = 1 + 2

// SequencedChannel adds a monotonically increasing sequence number and
// discards anything not strictly newer than the last accepted remote
// sequence; no ack traffic (spec §4.5).
type SequencedChannel struct {
	base

	localSeq  Sequence
	remoteSeq Sequence
	hasRemote bool
}

// NewSequencedChannel builds the channel for slot id on owner.
func NewSequencedChannel(id byte, owner ChannelOwner) *SequencedChannel {
	return &SequencedChannel{base: base{id: id, name: "sequenced", owner: owner}}
}

func (c *SequencedChannel) HeaderLen() int { return 2 }

func (c *SequencedChannel) Send(pkt *Packet) (int, int, error) {
	c.mu.Lock()
	c.localSeq++
	seq := c.localSeq
	c.mu.Unlock()

	if err := writeSeqField(pkt, seq); err != nil {
		return 0, 0, err
	}
	c.owner.SendRaw(pkt)
	n := pkt.Size()
	c.stats.addSent(1, n)
	return 1, n, nil
}

func (c *SequencedChannel) Receive(pkt *Packet, from net.Addr) {
	seq, err := readSeqField(pkt)
	if err != nil {
		c.owner.Pool().Release(pkt)
		return
	}

	c.mu.Lock()
	accept := !c.hasRemote || Greater(seq, c.remoteSeq)
	if accept {
		c.remoteSeq = seq
		c.hasRemote = true
	}
	c.mu.Unlock()

	if !accept {
		c.stats.addOutOfOrder()
		c.owner.Pool().Release(pkt)
		return
	}
	pkt.Buffer().SeekRead(seqHeaderSize + 1) // past header + channel id + sequence
	c.stats.addReceived(pkt.Size())
	c.owner.EnqueuePending(pkt, from)
}

func (c *SequencedChannel) ReceiveAck(pkt *Packet, from net.Addr) {
	c.owner.Pool().Release(pkt) // protocol violation: sequenced channels never ack
}

// writeSeqField writes the sequence number at its fixed wire offset
// (byte 2, after header + channel id).
func writeSeqField(pkt *Packet, seq Sequence) error {
	return pkt.Buffer().WriteAt(2, leUint16(seq))
}

func readSeqField(pkt *Packet) (Sequence, error) {
	var b [2]byte
	if err := pkt.Buffer().ReadAt(2, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func leUint16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
