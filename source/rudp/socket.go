// Package rudp implements the connection state machine and Node/Client/
// Server surface on top of source/protocol's channel engine (spec §4.9,
// §4.10). Grounded on the teacher's core/main.go entrypoint shape and
// source/server/server.go listen loop, generalized from a single
// SA-MP game listener into the reusable Socket collaborator spec §6
// calls out.
package rudp

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"
)

// Socket is the collaborator a Node sends/receives through (spec §6
// "Collaborator interfaces ... socket layer"). A real net.UDPConn and the
// loss/latency-simulating decorator below both implement it.
type Socket interface {
	ReadFrom(buf []byte) (n int, addr net.Addr, err error)
	WriteTo(buf []byte, addr net.Addr) (n int, err error)
	LocalAddr() net.Addr
	Close() error
}

// udpSocket adapts *net.UDPConn to Socket.
type udpSocket struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP socket on the given local address ("" host means
// any interface; port 0 means ephemeral).
func ListenUDP(addr string) (Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &udpSocket{conn: conn}, nil
}

func (s *udpSocket) ReadFrom(buf []byte) (int, net.Addr, error) { return s.conn.ReadFrom(buf) }
func (s *udpSocket) WriteTo(buf []byte, addr net.Addr) (int, error) {
	return s.conn.WriteTo(buf, addr)
}
func (s *udpSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *udpSocket) Close() error        { return s.conn.Close() }

// SimConfig holds the test-only network simulation knobs (spec §4.10
// "Simulation (test-only)", §6 "PacketLoss ... MinLatency ≤ MaxLatency").
type SimConfig struct {
	PacketLoss float64 // probability in [0,1] a received datagram is dropped
	MinLatency time.Duration
	MaxLatency time.Duration
}

// SimSocket wraps a Socket and applies packet loss and added latency to
// inbound datagrams only (spec §4.10: "a uniform random draw ... dropped
// ... held for a uniform random delay ... the receive buffer must be
// copied before delay because the next receive reuses it").
type SimSocket struct {
	Socket
	cfg   SimConfig
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewSimSocket wraps inner with the given simulation parameters.
func NewSimSocket(inner Socket, cfg SimConfig) *SimSocket {
	return &SimSocket{Socket: inner, cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *SimSocket) float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// ReadFrom reads one datagram and reports ok=false (via a dropped
// sentinel error) when simulated loss discards it; latency is applied by
// the caller, which is expected to copy buf before acting on a delayed
// packet.
func (s *SimSocket) ReadFrom(buf []byte) (int, net.Addr, error) {
	n, addr, err := s.Socket.ReadFrom(buf)
	if err != nil {
		return n, addr, err
	}
	if s.cfg.PacketLoss > 0 && s.float64() < s.cfg.PacketLoss {
		return 0, addr, errDropped
	}
	return n, addr, nil
}

// errDropped signals a simulated-loss discard; callers must treat it as
// "no packet this round", not a socket fault.
var errDropped = errors.New("rudp: simulated packet loss")

// IsDropped reports whether err is the SimSocket simulated-loss sentinel.
func IsDropped(err error) bool { return err == errDropped }

// Latency returns a uniform random delay in [MinLatency, MaxLatency], or
// zero if MaxLatency is zero (spec §4.10).
func (s *SimSocket) Latency() time.Duration {
	if s.cfg.MaxLatency <= 0 {
		return 0
	}
	span := s.cfg.MaxLatency - s.cfg.MinLatency
	if span <= 0 {
		return s.cfg.MinLatency
	}
	return s.cfg.MinLatency + time.Duration(s.float64()*float64(span))
}
