package rudp

import (
	"net"
	"sync"
	"testing"
	"time"

	"gorudp/source/protocol"
)

// waitFor polls cond every 5ms until it returns true or the deadline
// passes, failing the test on timeout. Used instead of a fixed sleep
// since handshake/ack timing is driven by real timers.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func tickLoop(stop <-chan struct{}, ticks ...func()) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, t := range ticks {
				t()
			}
		}
	}
}

// TestHandshakeAndEcho covers scenario S1 (hello world): a Client
// connects to a Server, sends one reliable packet, and receives it back
// on a registered handler (spec §8 scenario S1).
func TestHandshakeAndEcho(t *testing.T) {
	const echoID = uint16(1)

	srv, err := NewServer(DefaultConfig(), 0)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Stop()

	var mu sync.Mutex
	var serverReceived []byte
	srv.Handle(echoID, func(payload []byte, from net.Addr) {
		mu.Lock()
		serverReceived = append([]byte(nil), payload...)
		mu.Unlock()
		_, _, _ = srv.Send(from, ChannelReliable, echoID, payload)
	})

	client, err := NewClient(DefaultConfig())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Stop()

	var clientGotEcho []byte
	client.Handle(echoID, func(payload []byte, from net.Addr) {
		mu.Lock()
		clientGotEcho = append([]byte(nil), payload...)
		mu.Unlock()
	})

	connected := make(chan struct{}, 1)
	client.On(EventConnected, func(e Event) { connected <- struct{}{} })

	serverAddr := srv.node.sock.LocalAddr().(*net.UDPAddr)
	if err := client.Connect("127.0.0.1", serverAddr.Port, 10, 50*time.Millisecond); err != nil {
		t.Fatalf("connect: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go tickLoop(stop, client.Tick, srv.Tick)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never reached Connected")
	}

	if _, _, err := client.Send(ChannelReliable, echoID, []byte("hello world")); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(serverReceived) == "hello world" && string(clientGotEcho) == "hello world"
	})
}

// TestSequencedChannelDiscardsDuplicateOverWire exercises scenario S2
// (duplicate sequenced packet discarded) end to end through the real
// connect handshake and the Sequenced channel, not the in-package
// fakeOwner loopback protocol tests use.
func TestSequencedChannelDiscardsDuplicateOverWire(t *testing.T) {
	const pingID = uint16(2)

	srv, err := NewServer(DefaultConfig(), 0)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Stop()

	var mu sync.Mutex
	var received []string
	srv.Handle(pingID, func(payload []byte, from net.Addr) {
		mu.Lock()
		received = append(received, string(payload))
		mu.Unlock()
	})

	client, err := NewClient(DefaultConfig())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Stop()

	connected := make(chan struct{}, 1)
	client.On(EventConnected, func(e Event) { connected <- struct{}{} })

	serverAddr := srv.node.sock.LocalAddr().(*net.UDPAddr)
	if err := client.Connect("127.0.0.1", serverAddr.Port, 10, 50*time.Millisecond); err != nil {
		t.Fatalf("connect: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go tickLoop(stop, client.Tick, srv.Tick)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never reached Connected")
	}

	for i := 0; i < 3; i++ {
		if _, _, err := client.Send(ChannelSequenced, pingID, []byte("tick")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	})

	// Replay the third datagram (sequence 3) straight from the client's
	// socket; the server's Sequenced channel must drop it as not newer.
	dup := []byte{byte(protocol.HeaderData), ChannelSequenced, 3, 0, byte(pingID), byte(pingID >> 8), 't', 'i', 'c', 'k'}
	if _, err := client.node.sock.WriteTo(dup, client.Connection().RemoteAddr()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		conns := srv.Connections()
		return len(conns) == 1 && conns[0].channelFor(ChannelSequenced).Stats().OutOfOrder == 1
	})
	mu.Lock()
	got := len(received)
	mu.Unlock()
	if got != 3 {
		t.Fatalf("expected the duplicate to be discarded, got %d packets", got)
	}
}

// TestTimeoutOnSilence covers scenario S6: a client connects, then the
// server stops acknowledging (we simulate this by closing the server's
// socket outright), and the client's Connection eventually reports
// Disconnected with CauseTimeout once ping/pong liveness lapses.
func TestTimeoutOnSilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodDuration = 20 * time.Millisecond
	cfg.TimeoutDuration = 80 * time.Millisecond

	srv, err := NewServer(cfg, 0)
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Stop()

	connected := make(chan struct{}, 1)
	timedOut := make(chan struct{}, 1)
	client.On(EventConnected, func(e Event) { connected <- struct{}{} })
	client.On(EventDisconnected, func(e Event) {
		if e.Cause == CauseTimeout {
			timedOut <- struct{}{}
		}
	})

	serverAddr := srv.node.sock.LocalAddr().(*net.UDPAddr)
	if err := client.Connect("127.0.0.1", serverAddr.Port, 10, 20*time.Millisecond); err != nil {
		t.Fatalf("connect: %v", err)
	}

	stop := make(chan struct{})
	go tickLoop(stop, client.Tick, srv.Tick)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		close(stop)
		t.Fatal("client never reached Connected")
	}

	srv.node.stop() // peer goes silent: socket closed, no Disconnect, no more pongs

	select {
	case <-timedOut:
	case <-time.After(3 * time.Second):
		t.Fatal("client never timed out after peer silence")
	}
	close(stop)
}
