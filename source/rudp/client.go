package rudp

import (
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gorudp/pkg/logger"
)

// Client owns exactly one Connection (spec §4.10 "Client").
type Client struct {
	node *Node
	conn *Connection
}

// NewClient opens an ephemeral UDP socket and returns a Client ready to
// Connect (spec §4.10 "starts listening on an ephemeral port").
func NewClient(cfg Config) (*Client, error) {
	sock, err := ListenUDP(":0")
	if err != nil {
		return nil, err
	}
	node := newNode(cfg, sock)
	c := &Client{node: node}
	node.onDisconnectNotify = c.onDisconnect
	node.start(node.routeDatagram)
	return c, nil
}

// onDisconnect reports a Connection-driven teardown (timeout or a
// Disconnect received from the server) as an EventDisconnected; a local
// Disconnect() call fires its own event directly and never reaches here
// since Close does not notify the Node (spec §4.9 "Timeout is
// driven by Connection, which notifies the Node").
func (c *Client) onDisconnect(conn *Connection, cause Cause) {
	c.node.removeConnection(conn.RemoteAddr())
	c.node.fireEvent(Event{Type: EventDisconnected, Addr: conn.RemoteAddr(), Cause: cause})
}

// On registers a lifecycle event handler (Connecting, Connected,
// Disconnected).
func (c *Client) On(t EventType, h EventHandler) { c.node.On(t, h) }

// Handle registers an application packet-id handler.
func (c *Client) Handle(id uint16, h PacketHandler) { c.node.Handle(id, h) }

// Tick drains the dispatch queue on the application thread.
func (c *Client) Tick() { c.node.Tick() }

// EnableMetrics registers Prometheus collectors for this client's
// connection and channels on reg.
func (c *Client) EnableMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	return c.node.EnableMetrics(reg, namespace)
}

// Connect starts the handshake to host:port, retrying up to maxAttempts
// times spaced by delayBetweenAttempts (spec §4.9 "Client start").
func (c *Client) Connect(host string, port int, maxAttempts int, delayBetweenAttempts time.Duration) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	c.conn = newConnection(c.node, addr)
	c.node.setConnection(addr, c.conn)
	c.node.fireEvent(Event{Type: EventConnecting, Addr: addr})
	c.conn.beginConnecting(maxAttempts, delayBetweenAttempts)
	return nil
}

// Connection returns the client's single connection, or nil if Connect
// hasn't been called.
func (c *Client) Connection() *Connection { return c.conn }

// Send delegates to the connection's channel array, failing if not
// Connected (spec §4.10 "send(packet) fails if not Connected").
func (c *Client) Send(slot byte, appID uint16, payload []byte) (int, int, error) {
	if c.conn == nil {
		return 0, 0, errNotConnected
	}
	return c.conn.Send(slot, appID, payload)
}

// Disconnect tears down the connection, optionally notifying the peer
// (spec §4.10 "disconnect(sendDisconnect) tears down").
func (c *Client) Disconnect(sendDisconnect bool) {
	if c.conn == nil {
		return
	}
	addr := c.conn.RemoteAddr()
	c.conn.Close(sendDisconnect)
	c.node.removeConnection(addr)
	c.node.fireEvent(Event{Type: EventDisconnected, Addr: addr, Cause: CauseLocalClose})
}

// Stop closes the underlying socket and receive loop.
func (c *Client) Stop() {
	c.node.stop()
	logger.Info("client: stopped")
}
