package protocol

import "net"

// fragHeaderSize is channel-id + sequence + fragment-number (spec §6:
// "[1] channel id, [2..4] seq, [4..6] frag#").
const fragHeaderSize = 1 + 2 + 2

// lastFragmentBit marks the final fragment of a message (spec §3
// "fragment number (bit 15 set on the last fragment)").
const lastFragmentBit = uint16(1) << 15

// maxFragments is the largest fragment count a single message may split
// into (spec §4.7 "Fragment count must not exceed 2^15").
const maxFragments = 1 << 15

// fragmentKey identifies one in-flight fragment for PendingPacket/ack
// bookkeeping (spec §4.7 "each (sequence, fragment_number) is tracked as
// its own PendingPacket").
type fragmentKey struct {
	seq  Sequence
	frag uint16
}

// fragmentedPacket is the receiver-side reassembly record for one outer
// sequence (spec §3 "FragmentedPacket").
type fragmentedPacket struct {
	parts       map[uint16]*Packet
	total       int // -1 until the last fragment has been observed
	lastFragNum uint16
	reassembled *Packet
}

// ReliableFragmentChannel splits oversize sends into fragments, acks and
// retransmits each individually, and reassembles on the receive side
// (spec §4.7). Grounded on the teacher's SplitPackets map on Session
// (fragment-id → ordered payload slices), generalized to the spec's
// (sequence, fragment_number) keying and exact reassembly-size
// allocation.
type ReliableFragmentChannel struct {
	base

	ordered        bool
	payloadPerFrag int

	nextSend Sequence
	pending  map[fragmentKey]*PendingPacket

	recv           map[Sequence]*fragmentedPacket
	hasNextDeliver bool
	nextDeliver    Sequence
	deliverable    map[Sequence]*Packet
}

// NewReliableFragmentChannel builds the channel for slot id on owner.
// payloadPerFrag is MaxSize minus the fixed+fragment header overhead
// (spec §4.7 "payload exceeds MaxSize − HeaderSize ... split ... of that
// payload size").
func NewReliableFragmentChannel(id byte, owner ChannelOwner, ordered bool, payloadPerFrag int) *ReliableFragmentChannel {
	name := "fragmented-unordered"
	if ordered {
		name = "fragmented"
	}
	return &ReliableFragmentChannel{
		base:           base{id: id, name: name, owner: owner},
		ordered:        ordered,
		payloadPerFrag: payloadPerFrag,
		pending:        make(map[fragmentKey]*PendingPacket),
		recv:           make(map[Sequence]*fragmentedPacket),
		deliverable:    make(map[Sequence]*Packet),
	}
}

func (c *ReliableFragmentChannel) HeaderLen() int { return 0 }

// Send splits pkt's payload (everything written after the fixed header
// and channel id) into fragments and transmits each as its own
// PendingPacket. pkt itself is never put on the wire — it is the
// caller's scratch carrier for the unfragmented payload.
func (c *ReliableFragmentChannel) Send(pkt *Packet) (int, int, error) {
	payload := pkt.Payload(HeaderSize + 1)
	n := len(payload)
	fragCount := (n + c.payloadPerFrag - 1) / c.payloadPerFrag
	if fragCount == 0 {
		fragCount = 1
	}
	if fragCount > maxFragments {
		c.owner.Pool().Release(pkt)
		return 0, 0, ErrTooManyFragments
	}

	c.mu.Lock()
	c.nextSend++
	seq := c.nextSend
	c.mu.Unlock()

	rtt := c.owner.SmoothedRTT()
	if rtt <= 0 {
		rtt = c.owner.InitialRTT()
	}

	totalPackets, totalBytes := 0, 0
	for i := 0; i < fragCount; i++ {
		start := i * c.payloadPerFrag
		end := start + c.payloadPerFrag
		if end > n {
			end = n
		}
		fragNum := uint16(i)
		if i == fragCount-1 {
			fragNum |= lastFragmentBit
		}

		frag := c.owner.Pool().Data(c.id)
		_ = writeSeqField(frag, seq)
		_ = frag.Buffer().WriteAt(HeaderSize+reliableHeaderSize, leFragNum(fragNum))
		_ = frag.Buffer().SetSize(HeaderSize + fragHeaderSize)
		if err := frag.WriteBytes(payload[start:end]); err != nil {
			c.owner.Pool().Release(frag)
			continue
		}

		key := fragmentKey{seq: seq, frag: fragNum &^ lastFragmentBit}
		pp := newPendingPacket(frag, c, c.owner.Pool(), key, rtt)

		c.mu.Lock()
		c.pending[key] = pp
		c.mu.Unlock()

		c.owner.SendRaw(frag)
		totalPackets++
		totalBytes += frag.Size()
		pp.arm()
	}

	c.stats.addSent(totalPackets, totalBytes)
	c.owner.Pool().Release(pkt) // the caller's scratch header packet is not itself transmitted
	return totalPackets, totalBytes, nil
}

func (c *ReliableFragmentChannel) Receive(pkt *Packet, from net.Addr) {
	seq, err := readSeqField(pkt)
	if err != nil {
		c.owner.Pool().Release(pkt)
		return
	}
	var fb [2]byte
	if err := pkt.Buffer().ReadAt(HeaderSize+reliableHeaderSize, fb[:]); err != nil {
		c.owner.Pool().Release(pkt)
		return
	}
	fragNum := uint16(fb[0]) | uint16(fb[1])<<8
	isLast := fragNum&lastFragmentBit != 0
	fragNum &^= lastFragmentBit

	c.sendFragAck(seq, fragNum)

	c.mu.Lock()
	fp, ok := c.recv[seq]
	if !ok {
		fp = &fragmentedPacket{parts: make(map[uint16]*Packet), total: -1}
		c.recv[seq] = fp
	}
	if _, dup := fp.parts[fragNum]; dup {
		c.mu.Unlock()
		c.stats.addDuplicate()
		c.owner.Pool().Release(pkt)
		return
	}

	if isLast {
		fp.lastFragNum = fragNum
		fp.total = int(fragNum) + 1
	}
	fp.parts[fragNum] = pkt

	var reassembled *Packet
	if fp.total >= 0 && len(fp.parts) == fp.total {
		reassembled = c.reassemble(fp)
		delete(c.recv, seq)
	}
	c.mu.Unlock()

	if reassembled == nil {
		return
	}
	c.stats.addReceived(reassembled.Size())

	if !c.ordered {
		c.owner.EnqueuePending(reassembled, from)
		return
	}

	c.mu.Lock()
	if !c.hasNextDeliver {
		c.nextDeliver = seq
		c.hasNextDeliver = true
	}
	c.deliverable[seq] = reassembled
	var toDeliver []*Packet
	for {
		p, ok := c.deliverable[c.nextDeliver]
		if !ok {
			break
		}
		toDeliver = append(toDeliver, p)
		delete(c.deliverable, c.nextDeliver)
		c.nextDeliver++
	}
	c.mu.Unlock()

	for _, p := range toDeliver {
		c.owner.EnqueuePending(p, from)
	}
}

// reassemble builds the receive-side Buffer sized exactly to the sum of
// fragment payload lengths, copies payload bytes, and returns every
// constituent fragment Packet to the pool (spec §4.7 "Reassembly
// allocates ... copies ... returns all constituent fragment Packets").
// A message spans more than one datagram by definition, so the target
// regularly exceeds MaxSize — that is what the bucketed oversize pool in
// §4.1 exists for; a fixed-MaxSize Packet from Pool.Data would silently
// truncate past the first fragment or two. Must be called with c.mu held.
func (c *ReliableFragmentChannel) reassemble(fp *fragmentedPacket) *Packet {
	payloadStart := HeaderSize + fragHeaderSize
	total := 0
	for _, p := range fp.parts {
		total += p.Size() - payloadStart
	}

	out := c.owner.Pool().Reassembled(c.id, payloadStart+total)
	_ = out.Buffer().SetSize(payloadStart)

	for i := 0; i < len(fp.parts); i++ {
		p := fp.parts[uint16(i)]
		payload := p.Payload(payloadStart)
		_ = out.WriteBytes(payload)
		c.owner.Pool().Release(p)
	}
	out.Buffer().SeekRead(payloadStart)
	return out
}

func (c *ReliableFragmentChannel) sendFragAck(seq Sequence, fragNum uint16) {
	ack := c.owner.Pool().Ack(c.id)
	_ = writeSeqField(ack, seq)
	_ = ack.Buffer().WriteAt(HeaderSize+reliableHeaderSize, leFragNum(fragNum))
	_ = ack.Buffer().SetSize(HeaderSize + fragHeaderSize)
	c.owner.SendRaw(ack)
}

func (c *ReliableFragmentChannel) ReceiveAck(pkt *Packet, from net.Addr) {
	defer c.owner.Pool().Release(pkt)

	seq, err := readSeqField(pkt)
	if err != nil {
		return
	}
	var fb [2]byte
	if err := pkt.Buffer().ReadAt(HeaderSize+reliableHeaderSize, fb[:]); err != nil {
		return
	}
	fragNum := (uint16(fb[0]) | uint16(fb[1])<<8) &^ lastFragmentBit

	key := fragmentKey{seq: seq, frag: fragNum}
	c.mu.Lock()
	pp := c.pending[key]
	if pp != nil {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if pp != nil {
		pp.ack()
	}
}

// CancelPending implements Channel: stops every in-flight fragment's
// retransmit timer and returns its packet to the pool (spec §5
// "Connection close cancels all pending packets' timers"). Reassembly
// state for partially-received messages is simply dropped along with the
// channel itself; there is nothing to ack or retransmit on the receive
// side.
func (c *ReliableFragmentChannel) CancelPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[fragmentKey]*PendingPacket)
	c.mu.Unlock()

	for _, pp := range pending {
		if pkt := pp.cancel(); pkt != nil {
			c.owner.Pool().Release(pkt)
		}
	}
}

// onLost implements lostNotifier.
func (c *ReliableFragmentChannel) onLost(key interface{}) {
	fk := key.(fragmentKey)
	c.mu.Lock()
	delete(c.pending, fk)
	c.mu.Unlock()
	c.owner.ReportLost()
}

// retransmit implements retransmitter.
func (c *ReliableFragmentChannel) retransmit(pkt *Packet) {
	c.owner.SendRaw(pkt)
	c.stats.addRetransmit()
}

func leFragNum(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
