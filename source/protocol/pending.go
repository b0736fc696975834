package protocol

import (
	"sync"
	"time"
)

// Tunables matching spec §6 "Configuration (enumerated)" / §4.8.
const (
	MinResendDelay    = time.Millisecond
	MaxResendAttempts = 15
	BackoffFactor     = 1.2
)

// lostNotifier is the narrow callback surface a PendingPacket needs from
// its owning channel once it has exceeded MaxResendAttempts — kept
// separate from ReliablePacketChannel/ReliableFragmentChannel so both can
// implement it without a shared base type.
type lostNotifier interface {
	onLost(key interface{})
}

// PendingPacket is an in-flight reliable packet or fragment awaiting ack:
// owns its Packet, a retransmit deadline, an attempt counter, and a
// backoff multiplier (spec §4.8). Grounded on the teacher's
// Session.PendingACK bookkeeping (store/get/delete keyed by sequence),
// generalized into a self-contained, individually timed object per the
// spec's per-PendingPacket mutex/timer contract.
type PendingPacket struct {
	mu      sync.Mutex
	pkt     *Packet
	owner   lostNotifier
	pool    *PacketPool
	key     interface{}
	attempt int
	backoff float64
	rtt     float64
	timer   *time.Timer
	done    bool
}

func newPendingPacket(pkt *Packet, owner lostNotifier, pool *PacketPool, key interface{}, rtt float64) *PendingPacket {
	return &PendingPacket{
		pkt:     pkt,
		owner:   owner,
		pool:    pool,
		key:     key,
		backoff: 1.0,
		rtt:     rtt,
	}
}

func (p *PendingPacket) delay() time.Duration {
	d := time.Duration(float64(2) * p.rtt * p.backoff * float64(time.Millisecond))
	if d < MinResendDelay {
		d = MinResendDelay
	}
	return d
}

// arm starts (or restarts) the retransmit timer. Called with no lock held.
func (p *PendingPacket) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.timer = time.AfterFunc(p.delay(), p.fire)
}

// fire is the retransmit-timer callback (spec §4.8, §5 "Retransmit timers
// fire on a shared timer worker").
func (p *PendingPacket) fire() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.attempt++
	if p.attempt > MaxResendAttempts {
		p.done = true
		pkt, owner, key := p.pkt, p.owner, p.key
		p.pkt = nil
		p.mu.Unlock()
		owner.onLost(key)
		if pkt != nil && p.pool != nil {
			p.pool.Release(pkt)
		}
		return
	}
	p.backoff *= BackoffFactor
	pkt := p.pkt
	p.mu.Unlock()

	if retransmitter, ok := p.owner.(retransmitter); ok {
		retransmitter.retransmit(pkt)
	}
	p.arm()
}

// ack cancels the timer and returns the packet to the pool exactly once
// (spec §4.8 "On ack before expiry ... returned to the pool"; §5
// "acknowledge and timer-fire may race ... the second caller observes a
// nulled packet reference and returns silently").
func (p *PendingPacket) ack() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}
	pkt := p.pkt
	p.pkt = nil
	p.mu.Unlock()

	if pkt != nil && p.pool != nil {
		p.pool.Release(pkt)
	}
}

// cancel stops the timer and hands back the packet without releasing it
// (used on connection teardown, where the caller — the owning channel —
// takes ownership of returning it to the pool exactly once). Returns nil
// if already done, so a caller racing a concurrent ack/loss never
// double-releases.
func (p *PendingPacket) cancel() *Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}
	pkt := p.pkt
	p.pkt = nil
	return pkt
}

// retransmitter is implemented by channels that need to resend the exact
// wire bytes on timer fire (the packet itself already carries its
// sequence/fragment fields, so retransmit is just SendRaw again).
type retransmitter interface {
	retransmit(pkt *Packet)
}
