package protocol

import "testing"

func TestUnreliableChannelDeliversPayload(t *testing.T) {
	owner := newFakeOwner()
	ch := NewUnreliableChannel(ChannelSlotTest, owner)
	owner.self = ch

	pkt := owner.pool.Data(ChannelSlotTest)
	_ = pkt.WriteUint32(0xDEADBEEF)
	if _, _, err := ch.Send(pkt); err != nil {
		t.Fatalf("send: %v", err)
	}

	owner.mu.Lock()
	defer owner.mu.Unlock()
	if len(owner.delivered) != 1 {
		t.Fatalf("expected 1 delivered packet, got %d", len(owner.delivered))
	}
	got, err := owner.delivered[0].ReadUint32()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Fatalf("want %x got %x", 0xDEADBEEF, got)
	}
}

func TestUnreliableChannelDropsAck(t *testing.T) {
	owner := newFakeOwner()
	ch := NewUnreliableChannel(ChannelSlotTest, owner)
	owner.self = ch

	ack := owner.pool.Ack(ChannelSlotTest)
	ch.ReceiveAck(ack, nil)

	owner.mu.Lock()
	defer owner.mu.Unlock()
	if len(owner.delivered) != 0 {
		t.Fatalf("expected ack to be dropped, not delivered")
	}
}
