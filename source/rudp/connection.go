package rudp

import (
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"gorudp/pkg/logger"
	"gorudp/source/protocol"
)

// State is the connection lifecycle state (spec §4.9 "Disconnected →
// Connecting → Connected → Disconnected").
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Channel slot layout (spec §3 "Connection ... array of channels, slots
// 0..15 reserved for the six built-in deliveries, 16..255 available for
// user-registered custom channels").
const (
	ChannelUnreliable byte = iota
	ChannelSequenced
	ChannelReliableUnordered
	ChannelReliable
	ChannelFragmentedUnordered
	ChannelFragmented
	reservedChannelSlots = 16
	maxChannelSlots      = 256
)

// RTT smoothing constants (spec §4.9, §6).
const (
	rttAlpha = 0.125
	rttBeta  = 0.25
)

// Defaults (spec §6 "Configuration (enumerated)").
const (
	DefaultPeriodDuration  = time.Second
	DefaultTimeoutDuration = 10 * time.Second
	DefaultInitialRTTMs    = 100.0
)

// Connection owns a remote endpoint's channel array and handshake/ping
// machinery (spec §3 "Connection", §4.9). Grounded on the teacher's
// Session struct (Addr, GUID, State, per-session flags, Update(conn)
// driving retries), generalized from SA-MP session fields to the spec's
// RTT/backoff/channel-slot model. GUID generalizes Session.GUID uint64
// into a google/uuid identifier (see SPEC_FULL.md Ambient Stack).
type Connection struct {
	GUID uuid.UUID

	node   *Node
	remote net.Addr

	mu    sync.Mutex
	state State

	channels [maxChannelSlots]protocol.Channel

	rawRTT      float64 // milliseconds
	smoothedRTT float64
	devRTT      float64

	lastPingID    uint32
	lastSentPing  time.Time
	lastPongID    uint32
	lastLiveness  time.Time
	pingTimer     *time.Timer
	timeoutTimer  *time.Timer

	connectAttempts    int
	maxConnectAttempts int
	connectRetryDelay  time.Duration
	connectStopOnce    sync.Once
	connectStop        chan struct{}
}

func newConnection(node *Node, remote net.Addr) *Connection {
	c := &Connection{
		GUID:        uuid.New(),
		node:        node,
		remote:      remote,
		state:       StateDisconnected,
		smoothedRTT: 0,
		connectStop: make(chan struct{}),
	}
	c.installBuiltinChannels()
	return c
}

func (c *Connection) installBuiltinChannels() {
	payloadPerFrag := c.node.pool.MaxSize() - protocol.HeaderSize - 5 // channel id + seq + frag#
	c.channels[ChannelUnreliable] = protocol.NewUnreliableChannel(ChannelUnreliable, c)
	c.channels[ChannelSequenced] = protocol.NewSequencedChannel(ChannelSequenced, c)
	c.channels[ChannelReliableUnordered] = protocol.NewReliablePacketChannel(ChannelReliableUnordered, c, false)
	c.channels[ChannelReliable] = protocol.NewReliablePacketChannel(ChannelReliable, c, true)
	c.channels[ChannelFragmentedUnordered] = protocol.NewReliableFragmentChannel(ChannelFragmentedUnordered, c, false, payloadPerFrag)
	c.channels[ChannelFragmented] = protocol.NewReliableFragmentChannel(ChannelFragmented, c, true, payloadPerFrag)
}

// InstallChannel installs a custom channel into a user slot (16..255),
// failing if the slot is reserved or already occupied (spec §4.9
// "Channel slot ownership").
func (c *Connection) InstallChannel(slot byte, ch protocol.Channel) error {
	if slot < reservedChannelSlots {
		return errReservedSlot
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[slot] != nil {
		return errSlotTaken
	}
	c.channels[slot] = ch
	return nil
}

// Channels returns a snapshot of every installed channel (built-in and
// custom), for diagnostics and metrics export.
func (c *Connection) Channels() []protocol.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Channel, 0, reservedChannelSlots)
	for _, ch := range c.channels {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return out
}

// ChannelOwner implementation (spec §9 "channels borrow the connection
// for the duration of a call") -----------------------------------------

func (c *Connection) SendRaw(pkt *protocol.Packet) {
	c.node.sendTo(pkt, c.remote)
}

func (c *Connection) EnqueuePending(pkt *protocol.Packet, from net.Addr) {
	c.node.enqueuePending(pkt, from)
}

func (c *Connection) Pool() *protocol.PacketPool { return c.node.pool }

func (c *Connection) SmoothedRTT() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoothedRTT
}

func (c *Connection) InitialRTT() float64 { return c.node.cfg.InitialRTTEstimate }

func (c *Connection) RemoteAddr() net.Addr { return c.remote }

// ReportLost implements protocol.ChannelOwner: a pending packet exceeded
// MaxResendAttempts, so the connection times out (spec §4.8, §7 "Peer
// silence ... any pending packet exceeding MaxResendAttempts").
func (c *Connection) ReportLost() { c.timeout() }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Channel dispatch (spec §4.9 "Header-byte dispatch on the connection")

func (c *Connection) dispatch(h protocol.HeaderType, pkt *protocol.Packet, from net.Addr) {
	switch h {
	case protocol.HeaderData:
		ch := c.channelFor(pkt.ChannelID())
		if ch == nil {
			logger.Warn("connection %s: data for unknown channel %d", c.remote, pkt.ChannelID())
			c.node.pool.Release(pkt)
			return
		}
		ch.Receive(pkt, from)
	case protocol.HeaderAcknowledgement:
		ch := c.channelFor(pkt.ChannelID())
		if ch == nil {
			c.node.pool.Release(pkt)
			return
		}
		ch.ReceiveAck(pkt, from)
	case protocol.HeaderPing:
		c.handlePing(pkt)
	case protocol.HeaderPong:
		c.handlePong(pkt)
	case protocol.HeaderDisconnect:
		c.node.pool.Release(pkt)
		c.Close(false)
		c.node.handleDisconnect(c, CauseRemoteDisconnect)
	case protocol.HeaderConnect:
		// A Connect on an already-registered Connection is a duplicate
		// whose original ConnectApproved was presumably lost (spec §4.9
		// "A duplicate Connect from an already-connected endpoint
		// re-sends ConnectApproved").
		c.node.pool.Release(pkt)
		if c.State() == StateConnected {
			c.resendApproval()
		}
	case protocol.HeaderConnectApproved:
		c.node.pool.Release(pkt)
		c.handleConnectApproved()
	default:
		logger.Warn("connection %s: unknown header byte %v", c.remote, h)
		c.node.pool.Release(pkt)
	}
}

func (c *Connection) channelFor(id byte) protocol.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[id]
}

// Send frames appID (the first payload bytes of every Data packet, spec
// §6 "Application packet id ... selects the user handler") and payload
// through the given channel slot, failing if the connection is not
// Connected. The channel's HeaderLen() placeholder bytes are reserved
// between the channel id and the application id so the channel can fill
// in its sequence/fragment fields in place without disturbing the
// payload (spec §3 "Packet" fixed field layout).
func (c *Connection) Send(slot byte, appID uint16, payload []byte) (int, int, error) {
	if c.State() != StateConnected {
		return 0, 0, errNotConnected
	}
	ch := c.channelFor(slot)
	if ch == nil {
		return 0, 0, errNoSuchChannel
	}

	var pkt *protocol.Packet
	if _, fragmented := ch.(*protocol.ReliableFragmentChannel); fragmented {
		// Fragment channels split the payload themselves, so the carrier is
		// sized to the whole message rather than capped at MaxSize.
		pkt = c.node.pool.Reassembled(slot, protocol.HeaderSize+1+2+len(payload))
	} else {
		pkt = c.node.pool.Data(slot)
	}
	if n := ch.HeaderLen(); n > 0 {
		if err := pkt.WriteBytes(make([]byte, n)); err != nil {
			c.node.pool.Release(pkt)
			return 0, 0, err
		}
	}
	if err := pkt.WriteUint16(appID); err != nil {
		c.node.pool.Release(pkt)
		return 0, 0, err
	}
	if err := pkt.WriteBytes(payload); err != nil {
		c.node.pool.Release(pkt)
		return 0, 0, err
	}
	return ch.Send(pkt)
}

// --- Handshake (spec §4.9 "Client start" / "Server on Connect") ---

func (c *Connection) beginConnecting(maxAttempts int, retryDelay time.Duration) {
	c.setState(StateConnecting)
	c.maxConnectAttempts = maxAttempts
	c.connectRetryDelay = retryDelay
	go c.connectLoop()
}

func (c *Connection) connectLoop() {
	for c.connectAttempts < c.maxConnectAttempts {
		if c.State() != StateConnecting {
			return
		}
		c.connectAttempts++
		pkt := c.node.pool.Control(protocol.HeaderConnect)
		c.node.sendTo(pkt, c.remote)

		select {
		case <-c.connectStop:
			return
		case <-time.After(c.connectRetryDelay):
		}
	}
	if c.State() == StateConnecting {
		c.setState(StateDisconnected)
		c.node.fireEvent(Event{Type: EventDisconnected, Addr: c.remote, Cause: CauseTimeout})
	}
}

func (c *Connection) handleConnectApproved() {
	if c.State() != StateConnecting {
		return
	}
	c.connectStopOnce.Do(func() { close(c.connectStop) })
	c.setState(StateConnected)
	c.lastLiveness = c.node.now()
	c.startPingLoop()
	c.node.fireEvent(Event{Type: EventConnected, Addr: c.remote})
}

// acceptIncoming handles a Connect from a new or already-connected
// endpoint on the server side (spec §4.9 "Server on Connect").
func (c *Connection) acceptIncoming() {
	c.setState(StateConnected)
	c.lastLiveness = c.node.now()
	approved := c.node.pool.Control(protocol.HeaderConnectApproved)
	c.node.sendTo(approved, c.remote)
	c.startPingLoop()
}

func (c *Connection) resendApproval() {
	approved := c.node.pool.Control(protocol.HeaderConnectApproved)
	c.node.sendTo(approved, c.remote)
}

// --- Ping/pong RTT estimation (spec §4.9 "Ping loop") ---

func (c *Connection) startPingLoop() {
	c.schedulePing()
}

func (c *Connection) schedulePing() {
	c.pingTimer = time.AfterFunc(c.node.cfg.PeriodDuration, c.sendPing)
	c.timeoutTimer = time.AfterFunc(c.node.cfg.TimeoutDuration, c.checkTimeout)
}

func (c *Connection) sendPing() {
	if c.State() != StateConnected {
		return
	}
	c.mu.Lock()
	c.lastPingID++
	id := c.lastPingID
	c.lastSentPing = c.node.now()
	c.mu.Unlock()

	pkt := c.node.pool.Control(protocol.HeaderPing)
	_ = pkt.WriteUint32(id)
	c.node.sendTo(pkt, c.remote)

	c.schedulePing()
}

func (c *Connection) handlePing(pkt *protocol.Packet) {
	id, err := pkt.ReadUint32()
	c.node.pool.Release(pkt)
	if err != nil {
		return
	}
	pong := c.node.pool.Control(protocol.HeaderPong)
	_ = pong.WriteUint32(id)
	c.node.sendTo(pong, c.remote)
}

func (c *Connection) handlePong(pkt *protocol.Packet) {
	id, err := pkt.ReadUint32()
	c.node.pool.Release(pkt)
	if err != nil {
		return
	}

	c.mu.Lock()
	if id <= c.lastPongID && c.lastPongID != 0 {
		c.mu.Unlock()
		return
	}
	skipped := float64(c.lastPingID - id)
	elapsed := c.node.now().Sub(c.lastSentPing)
	raw := float64(elapsed.Milliseconds()) + skipped*float64(c.node.cfg.PeriodDuration.Milliseconds())
	c.lastPongID = id
	c.lastLiveness = c.node.now()

	if c.smoothedRTT == 0 {
		c.smoothedRTT = raw
	} else {
		c.smoothedRTT = (1-rttAlpha)*c.smoothedRTT + rttAlpha*raw
	}
	c.devRTT = (1-rttBeta)*c.devRTT + rttBeta*math.Abs(raw-c.smoothedRTT)
	c.rawRTT = raw
	c.mu.Unlock()

	if c.timeoutTimer != nil {
		c.timeoutTimer.Reset(c.node.cfg.TimeoutDuration)
	}
}

func (c *Connection) checkTimeout() {
	if c.State() != StateConnected {
		return
	}
	c.mu.Lock()
	elapsed := c.node.now().Sub(c.lastLiveness)
	c.mu.Unlock()
	if elapsed >= c.node.cfg.TimeoutDuration {
		c.timeout()
	} else {
		c.timeoutTimer.Reset(c.node.cfg.TimeoutDuration - elapsed)
	}
}

func (c *Connection) timeout() {
	if c.State() == StateDisconnected {
		return
	}
	c.stopTimers()
	c.setState(StateDisconnected)
	c.cancelPendingSends()
	c.node.handleDisconnect(c, CauseTimeout)
}

// Close sends a best-effort Disconnect and tears down local state without
// awaiting a reply (spec §4.9 "Closing locally sends a Disconnect
// (best-effort) and cleans up without awaiting reply").
func (c *Connection) Close(sendDisconnect bool) {
	if c.State() == StateDisconnected {
		return
	}
	if sendDisconnect {
		pkt := c.node.pool.Control(protocol.HeaderDisconnect)
		c.node.sendTo(pkt, c.remote)
	}
	c.stopTimers()
	c.setState(StateDisconnected)
	c.cancelPendingSends()
}

// cancelPendingSends stops every channel's in-flight retransmit timers and
// returns their packets to the pool (spec §5 "Connection close cancels
// all pending packets' timers; their packets are returned to the pool
// exactly once"). Otherwise outstanding reliable sends would keep firing
// retransmits against a peer that is no longer listening.
func (c *Connection) cancelPendingSends() {
	for _, ch := range c.Channels() {
		ch.CancelPending()
	}
}

func (c *Connection) stopTimers() {
	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
	}
}
