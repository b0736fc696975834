package rudp

import (
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"gorudp/pkg/logger"
)

// Server holds a keyed connection map and admits new clients up to
// MaxClients (spec §4.10 "Server"). Grounded on the teacher's
// source/server/server.go (listen loop, client table), generalized from
// a SA-MP player table into the address-keyed Connection map the spec
// requires.
type Server struct {
	node *Node
}

// NewServer opens a UDP socket on port, starts its receive loop, and
// returns the running Server (spec §4.10 "start(port, maxClients) opens
// the socket").
func NewServer(cfg Config, port int) (*Server, error) {
	sock, err := ListenUDP(fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	node := newNode(cfg, sock)
	s := &Server{node: node}
	node.onConnectRequest = s.onConnect
	node.onDisconnectNotify = s.onDisconnect
	node.start(node.routeDatagram)
	node.fireEvent(Event{Type: EventStarted})
	logger.Info("server: listening on %s", sock.LocalAddr())
	return s, nil
}

// On registers a lifecycle event handler.
func (s *Server) On(t EventType, h EventHandler) { s.node.On(t, h) }

// Handle registers an application packet-id handler.
func (s *Server) Handle(id uint16, h PacketHandler) { s.node.Handle(id, h) }

// Tick drains the dispatch queue on the application thread.
func (s *Server) Tick() { s.node.Tick() }

// EnableMetrics registers Prometheus collectors for this server's
// connections and channels on reg.
func (s *Server) EnableMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	return s.node.EnableMetrics(reg, namespace)
}

func (s *Server) onConnect(from net.Addr) {
	if s.node.connectionCount() >= s.node.cfg.MaxClients {
		logger.Warn("server: rejecting connect from %s, at capacity", from)
		return
	}
	conn := newConnection(s.node, from)
	s.node.setConnection(from, conn)
	conn.acceptIncoming()
	s.node.fireEvent(Event{Type: EventClientConnected, Addr: from})
}

func (s *Server) onDisconnect(c *Connection, cause Cause) {
	s.node.removeConnection(c.RemoteAddr())
	s.node.fireEvent(Event{Type: EventClientDisconnected, Addr: c.RemoteAddr(), Cause: cause, Server: true})
}

// Connections returns a snapshot slice of currently connected clients.
func (s *Server) Connections() []*Connection {
	s.node.connMu.RLock()
	defer s.node.connMu.RUnlock()
	out := make([]*Connection, 0, len(s.node.conns))
	for _, c := range s.node.conns {
		out = append(out, c)
	}
	return out
}

// Send delivers payload to one connected client through slot, failing if
// that endpoint isn't connected.
func (s *Server) Send(addr net.Addr, slot byte, appID uint16, payload []byte) (int, int, error) {
	conn := s.node.connection(addr)
	if conn == nil {
		return 0, 0, errNotConnected
	}
	return conn.Send(slot, appID, payload)
}

// Broadcast iterates every connection and sends the same payload,
// reusing the connections slice but letting each channel build and own
// its own framed Packet so no buffer is shared/double-freed across sends
// (spec §4.10 "Broadcast = iterate connections and send (single Packet
// reference, do not double-free)").
func (s *Server) Broadcast(slot byte, appID uint16, payload []byte) {
	for _, c := range s.Connections() {
		if _, _, err := c.Send(slot, appID, payload); err != nil {
			logger.Warn("server: broadcast to %s failed: %v", c.RemoteAddr(), err)
		}
	}
}

// Stop closes every connection with Disconnect and shuts down the socket
// (spec §4.10 "stop() closes all connections with Disconnect").
func (s *Server) Stop() {
	for _, c := range s.Connections() {
		c.Close(true)
		s.node.removeConnection(c.RemoteAddr())
	}
	s.node.stop()
	s.node.fireEvent(Event{Type: EventStopped})
	logger.Info("server: stopped")
}
