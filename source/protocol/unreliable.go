package protocol

import (
	"net"

	"gorudp/pkg/logger"
)

// UnreliableChannel is fire-and-forget: prepend header, hand to the node;
// no sequence, no ack (spec §4.4). Grounded on the teacher's plain
// DataPacket path with no reliability layer bolted on.
type UnreliableChannel struct {
	base
}

// NewUnreliableChannel builds the channel for slot id on owner.
func NewUnreliableChannel(id byte, owner ChannelOwner) *UnreliableChannel {
	return &UnreliableChannel{base{id: id, name: "unreliable", owner: owner}}
}

func (c *UnreliableChannel) HeaderLen() int { return 0 }

func (c *UnreliableChannel) Send(pkt *Packet) (int, int, error) {
	c.owner.SendRaw(pkt)
	n := pkt.Size()
	c.stats.addSent(1, n)
	return 1, n, nil
}

func (c *UnreliableChannel) Receive(pkt *Packet, from net.Addr) {
	pkt.Buffer().SeekRead(HeaderSize + 1) // past header + channel id
	c.stats.addReceived(pkt.Size())
	c.owner.EnqueuePending(pkt, from)
}

func (c *UnreliableChannel) ReceiveAck(pkt *Packet, from net.Addr) {
	logger.Warn("unreliable channel %d: ack received, dropping (protocol violation)", c.id)
	c.owner.Pool().Release(pkt)
}
