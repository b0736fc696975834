package protocol

import (
	"sync"
	"testing"
	"time"
)

type fakeLostNotifier struct {
	mu   sync.Mutex
	lost []interface{}
}

func (f *fakeLostNotifier) onLost(key interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost = append(f.lost, key)
}

func (f *fakeLostNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lost)
}

// TestPendingPacketAckReturnsPacketOnce verifies ack() releases the
// packet to the pool exactly once and a second call (simulating the
// ack/timer-fire race spec §5 calls out) is a silent no-op.
func TestPendingPacketAckReturnsPacketOnce(t *testing.T) {
	pool := NewPacketPool(1432)
	pkt := pool.Data(0)
	notifier := &fakeLostNotifier{}
	before := pool.AllocationCount()

	pp := newPendingPacket(pkt, notifier, pool, uint16(1), 1)
	pp.ack()
	if got := pool.AllocationCount(); got != before-1 {
		t.Fatalf("allocation count after ack = %d, want %d", got, before-1)
	}

	pp.ack() // must not double-release or panic
	if got := pool.AllocationCount(); got != before-1 {
		t.Fatalf("allocation count after second ack = %d, want %d", got, before-1)
	}
}

// TestPendingPacketCancelDoesNotReleasePool verifies cancel() (used on
// connection teardown) stops the timer without returning the packet to
// the pool, since the caller owns that packet's disposal in that path.
func TestPendingPacketCancelDoesNotReleasePool(t *testing.T) {
	pool := NewPacketPool(1432)
	pkt := pool.Data(0)
	notifier := &fakeLostNotifier{}
	before := pool.AllocationCount()

	pp := newPendingPacket(pkt, notifier, pool, uint16(2), 1)
	pp.cancel()
	if got := pool.AllocationCount(); got != before {
		t.Fatalf("allocation count after cancel = %d, want unchanged %d", got, before)
	}

	pp.ack() // already done: must not run again or release anything
	if got := pool.AllocationCount(); got != before {
		t.Fatalf("allocation count after post-cancel ack = %d, want unchanged %d", got, before)
	}
}

// TestPendingPacketFireNotifiesLostAfterMaxAttempts drives the retransmit
// timer past MaxResendAttempts with a near-zero RTT and verifies the
// owner is notified exactly once and the packet is released back to the
// pool (spec §4.8 "after MaxResendAttempts the channel is notified the
// packet is lost").
func TestPendingPacketFireNotifiesLostAfterMaxAttempts(t *testing.T) {
	pool := NewPacketPool(1432)
	pkt := pool.Data(0)
	notifier := &fakeLostNotifier{}
	before := pool.AllocationCount()

	pp := newPendingPacket(pkt, notifier, pool, uint16(3), 0.001)
	pp.arm()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if notifier.count() > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if notifier.count() != 1 {
		t.Fatalf("onLost called %d times, want 1", notifier.count())
	}
	if got := pool.AllocationCount(); got != before-1 {
		t.Fatalf("allocation count after loss = %d, want %d", got, before-1)
	}

	pp.ack() // arriving late after loss must still be a safe no-op
	if got := pool.AllocationCount(); got != before-1 {
		t.Fatalf("allocation count after late ack = %d, want unchanged %d", got, before-1)
	}
}
