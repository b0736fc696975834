package rudp

import (
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gorudp/pkg/logger"
	"gorudp/source/protocol"
)

// Config holds every tunable spec §6 enumerates, populated with defaults
// and overridable by the embedder — the teacher's own core/main.go
// loadConfig pattern (plain struct, no config-file library), carried
// forward per SPEC_FULL.md Ambient Stack.
type Config struct {
	MaxSize             int
	PacketLoss          float64
	MinLatency          time.Duration
	MaxLatency          time.Duration
	PeriodDuration       time.Duration
	TimeoutDuration      time.Duration
	InitialRTTEstimate  float64 // milliseconds, spec.md §9 open question resolution
	MaxClients          int
}

// DefaultConfig returns the spec's documented defaults (spec §6).
func DefaultConfig() Config {
	return Config{
		MaxSize:            1432,
		PacketLoss:         0,
		MinLatency:         0,
		MaxLatency:         0,
		PeriodDuration:     DefaultPeriodDuration,
		TimeoutDuration:    DefaultTimeoutDuration,
		InitialRTTEstimate: DefaultInitialRTTMs,
		MaxClients:         64,
	}
}

// PacketHandler receives application payloads for one registered packet
// id (spec §9 "explicit registration calls ... a callback taking a
// read-only packet view and a sender endpoint").
type PacketHandler func(payload []byte, from net.Addr)

// pendingDispatch is one (packet, sender) awaiting the application
// thread's tick() (spec §3 "Node ... FIFO of (Packet, sender-endpoint)
// awaiting main-thread dispatch").
type pendingDispatch struct {
	pkt  *protocol.Packet
	from net.Addr
}

// Node is the socket-owning collaborator shared by Client and Server
// (spec §4.10 "Node (common)"). Grounded on the teacher's
// source/server/server.go listen loop and core/main.go wiring,
// generalized from a single SA-MP listener into the reusable transport
// core.
type Node struct {
	cfg    Config
	sock   Socket
	sim    *SimSocket
	pool   *protocol.PacketPool
	events *EventManager

	handlersMu sync.RWMutex
	handlers   map[uint16]PacketHandler

	queueMu sync.Mutex
	queue   []pendingDispatch
	actions []func()

	connMu sync.RWMutex
	conns  map[string]*Connection

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	clock func() time.Time

	metrics *Metrics

	// onConnectRequest and onDisconnectNotify let Server/Client install
	// their differing handshake/teardown semantics without Connection
	// needing to know which one owns it (spec §4.10 "Server on Connect",
	// "Timeout is driven by Connection, which notifies the Node").
	onConnectRequest   func(from net.Addr)
	onDisconnectNotify func(c *Connection, cause Cause)
}

func newNode(cfg Config, sock Socket) *Node {
	n := &Node{
		cfg:      cfg,
		pool:     protocol.NewPacketPool(cfg.MaxSize),
		events:   NewEventManager(),
		handlers: make(map[uint16]PacketHandler),
		conns:    make(map[string]*Connection),
		stopCh:   make(chan struct{}),
		clock:    time.Now,
	}
	if cfg.PacketLoss > 0 || cfg.MaxLatency > 0 {
		sim := NewSimSocket(sock, SimConfig{PacketLoss: cfg.PacketLoss, MinLatency: cfg.MinLatency, MaxLatency: cfg.MaxLatency})
		n.sim = sim
		n.sock = sim
	} else {
		n.sock = sock
	}
	return n
}

func (n *Node) now() time.Time { return n.clock() }

// EnableMetrics registers this node's Prometheus collectors on reg and
// arms per-tick observation of every connection's channel statistics
// (spec §8 invariant 8 pool diagnostic, plus §3 "Channel ... Common
// fields" exported as a time series).
func (n *Node) EnableMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	n.metrics = NewMetrics(reg, namespace)
	return n.metrics
}

func (n *Node) observeMetrics() {
	if n.metrics == nil {
		return
	}
	n.metrics.PoolAllocations.Set(float64(n.pool.AllocationCount()))
	n.metrics.ActiveConnections.Set(float64(n.connectionCount()))

	n.connMu.RLock()
	conns := make([]*Connection, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.connMu.RUnlock()

	for _, c := range conns {
		for _, ch := range c.Channels() {
			n.metrics.Observe(ch.Name(), ch.Stats())
		}
	}
}

// On registers a lifecycle event handler.
func (n *Node) On(t EventType, h EventHandler) { n.events.On(t, h) }

// fireEvent queues e as a pending action, so lifecycle handlers run on the
// application thread during the next Tick.
func (n *Node) fireEvent(e Event) { n.enqueueAction(func() { n.events.Fire(e) }) }

// Handle registers the callback for application packet id (spec §9).
func (n *Node) Handle(id uint16, h PacketHandler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.handlers[id] = h
}

func (n *Node) handlerFor(id uint16) PacketHandler {
	n.handlersMu.RLock()
	defer n.handlersMu.RUnlock()
	return n.handlers[id]
}

// sendTo writes pkt's bytes to the socket, releasing it to the pool
// afterward is the caller channel's responsibility for reliable sends
// (PendingPacket keeps ownership until acked); unreliable/control sends
// release immediately here.
func (n *Node) sendTo(pkt *protocol.Packet, addr net.Addr) {
	_, err := n.sock.WriteTo(pkt.Buffer().Bytes(), addr)
	if err != nil {
		logger.Error("node: send to %s failed: %v", addr, err)
	}
}

// enqueuePending hands a finished application packet to the dispatch
// queue, drained on Tick (spec §4.3 "enqueue_pending").
func (n *Node) enqueuePending(pkt *protocol.Packet, from net.Addr) {
	n.queueMu.Lock()
	n.queue = append(n.queue, pendingDispatch{pkt: pkt, from: from})
	n.queueMu.Unlock()
}

func (n *Node) enqueueAction(fn func()) {
	n.queueMu.Lock()
	n.actions = append(n.actions, fn)
	n.queueMu.Unlock()
}

// Tick drains the pending-dispatch and pending-action queues on the
// application thread (spec §4.10 "tick() drains both queues ... invoking
// the registered handler, then returning the packet to the pool").
func (n *Node) Tick() {
	n.queueMu.Lock()
	queue := n.queue
	actions := n.actions
	n.queue = nil
	n.actions = nil
	n.queueMu.Unlock()

	for _, a := range actions {
		a()
	}

	for _, d := range queue {
		n.dispatchToHandler(d.pkt, d.from)
	}

	n.observeMetrics()
}

func (n *Node) dispatchToHandler(pkt *protocol.Packet, from net.Addr) {
	defer n.pool.Release(pkt)

	ro := pkt.ReadOnly()
	id, err := ro.ReadUint16()
	if err != nil {
		logger.Warn("node: data packet too short for an application id")
		return
	}
	h := n.handlerFor(id)
	if h == nil {
		logger.Warn("node: no handler registered for packet id %d", id)
		return
	}
	payload, err := ro.ReadBytes(ro.Buffer().Remaining())
	if err != nil {
		return
	}
	h(payload, from)
}

// receiveLoop runs on its own goroutine, the "dedicated receive thread"
// of spec §5 "Scheduling model": blocks on the socket, performs stateless
// parsing, and drives channel-level receive work directly (channels never
// block; they only enqueue for Tick).
func (n *Node) receiveLoop(dispatch func(raw []byte, from net.Addr)) {
	defer n.wg.Done()
	buf := make([]byte, n.cfg.MaxSize)
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		nr, addr, err := n.sock.ReadFrom(buf)
		if err != nil {
			if IsDropped(err) {
				continue
			}
			select {
			case <-n.stopCh:
				return
			default:
			}
			logger.Error("node: receive error: %v", err)
			continue
		}
		if nr == 0 {
			continue
		}

		raw := make([]byte, nr)
		copy(raw, buf[:nr])

		if n.sim != nil {
			if delay := n.sim.Latency(); delay > 0 {
				go func() {
					time.Sleep(delay)
					dispatch(raw, addr)
				}()
				continue
			}
		}
		dispatch(raw, addr)
	}
}

func (n *Node) start(dispatch func(raw []byte, from net.Addr)) {
	n.wg.Add(1)
	go n.receiveLoop(dispatch)
}

func (n *Node) stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	_ = n.sock.Close()
	n.wg.Wait()
}

// connKey indexes the connection map by remote address string (spec §3
// "Node ... connection map (server)").
func connKey(addr net.Addr) string { return addr.String() }

func (n *Node) connection(addr net.Addr) *Connection {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.conns[connKey(addr)]
}

func (n *Node) setConnection(addr net.Addr, c *Connection) {
	n.connMu.Lock()
	n.conns[connKey(addr)] = c
	n.connMu.Unlock()
}

func (n *Node) removeConnection(addr net.Addr) {
	n.connMu.Lock()
	delete(n.conns, connKey(addr))
	n.connMu.Unlock()
}

func (n *Node) handleConnect(from net.Addr) {
	if n.onConnectRequest != nil {
		n.onConnectRequest(from)
	}
}

func (n *Node) handleDisconnect(c *Connection, cause Cause) {
	if n.onDisconnectNotify != nil {
		n.onDisconnectNotify(c, cause)
	}
}

// routeDatagram is the dispatch callback handed to receiveLoop: it maps
// the sender to an existing Connection, or — for a bare Connect with no
// Connection yet — defers to onConnectRequest (spec §4.9 "Server on
// Connect from new endpoint"; a Connect with no Connection on the client
// side is simply dropped, since a client never receives one).
func (n *Node) routeDatagram(raw []byte, from net.Addr) {
	if len(raw) < 1 {
		return
	}
	header := protocol.HeaderType(raw[0])
	conn := n.connection(from)
	if conn == nil {
		if header == protocol.HeaderConnect {
			n.handleConnect(from)
		}
		return
	}
	pkt := n.pool.FromWire(raw)
	conn.dispatch(header, pkt, from)
}

func (n *Node) connectionCount() int {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return len(n.conns)
}
