package protocol

import "testing"

func TestSequencedChannelDiscardsStaleAndDuplicate(t *testing.T) {
	owner := newFakeOwner()
	ch := NewSequencedChannel(ChannelSlotTest, owner)
	owner.self = ch

	send := func(v uint32) {
		pkt := owner.pool.Data(ChannelSlotTest)
		_ = pkt.WriteBytes(make([]byte, ch.HeaderLen()))
		_ = pkt.WriteUint32(v)
		if _, _, err := ch.Send(pkt); err != nil {
			t.Fatalf("send %d: %v", v, err)
		}
	}

	// Sequence numbers 1, 2, 3 arrive, then a duplicate/stale resend of 2
	// arrives out of band and must be discarded.
	send(1)
	send(2)
	send(3)

	stale := owner.pool.Data(ChannelSlotTest)
	_ = writeSeqField(stale, 2)
	_ = stale.Buffer().SetSize(HeaderSize + seqHeaderSize)
	_ = stale.WriteUint32(999)
	ch.Receive(stale, nil)

	owner.mu.Lock()
	defer owner.mu.Unlock()
	if len(owner.delivered) != 3 {
		t.Fatalf("expected 3 delivered packets, got %d", len(owner.delivered))
	}
	for i, want := range []uint32{1, 2, 3} {
		got, err := owner.delivered[i].ReadUint32()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("packet %d: want %d got %d", i, want, got)
		}
	}
	if ch.Stats().OutOfOrder != 1 {
		t.Fatalf("expected 1 out-of-order drop, got %d", ch.Stats().OutOfOrder)
	}
}

func TestSequencedChannelDropsAck(t *testing.T) {
	owner := newFakeOwner()
	ch := NewSequencedChannel(ChannelSlotTest, owner)
	owner.self = ch

	ack := owner.pool.Ack(ChannelSlotTest)
	ch.ReceiveAck(ack, nil)

	owner.mu.Lock()
	defer owner.mu.Unlock()
	if len(owner.delivered) != 0 {
		t.Fatalf("expected ack to be dropped, not delivered")
	}
}
