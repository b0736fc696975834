package main

import (
	"bufio"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gorudp/pkg/logger"
	"gorudp/source/rudp"
)

const (
	Version = "1.0.0"
	AppName = "gorudp echo demo"
)

// packetEcho is the one application packet id this demo registers: the
// server bounces the payload back over the reliable ordered channel, the
// client prints whatever it receives.
const packetEcho uint16 = 1

func main() {
	logger.Banner(AppName, Version)

	mode := flag.String("mode", "server", "server or client")
	host := flag.String("host", "127.0.0.1", "server host (client mode)")
	port := flag.Int("port", 7777, "UDP port")
	loss := flag.Float64("loss", 0, "simulated packet loss, 0..1 (testing)")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus /metrics on this address (server mode)")
	flag.Parse()

	cfg := rudp.DefaultConfig()
	cfg.PacketLoss = *loss

	switch *mode {
	case "server":
		runServer(cfg, *port, *metricsAddr)
	case "client":
		runClient(cfg, *host, *port)
	default:
		logger.Fatal("unknown -mode %q (want server or client)", *mode)
	}
}

func runServer(cfg rudp.Config, port int, metricsAddr string) {
	logger.Section("Starting server")
	srv, err := rudp.NewServer(cfg, port)
	if err != nil {
		logger.Fatal("server: %v", err)
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		srv.EnableMetrics(reg, "gorudp")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
		logger.Info("metrics: serving /metrics on %s", metricsAddr)
	}

	srv.On(rudp.EventClientConnected, func(e rudp.Event) {
		logger.Success("client connected: %s", e.Addr)
	})
	srv.On(rudp.EventClientDisconnected, func(e rudp.Event) {
		logger.Warn("client disconnected: %s (%v)", e.Addr, e.Cause)
	})
	srv.Handle(packetEcho, func(payload []byte, from net.Addr) {
		logger.Info("echo from %s: %q", from, payload)
		if _, _, err := srv.Send(from, rudp.ChannelReliable, packetEcho, payload); err != nil {
			logger.Error("echo reply to %s: %v", from, err)
		}
	})

	stopOnSignal(func() {
		logger.Section("Shutting down")
		srv.Stop()
	})

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		srv.Tick()
	}
}

func runClient(cfg rudp.Config, host string, port int) {
	logger.Section("Connecting")
	client, err := rudp.NewClient(cfg)
	if err != nil {
		logger.Fatal("client: %v", err)
	}

	connected := make(chan struct{}, 1)
	client.On(rudp.EventConnected, func(e rudp.Event) {
		logger.Success("connected to %s", e.Addr)
		connected <- struct{}{}
	})
	client.On(rudp.EventDisconnected, func(e rudp.Event) {
		logger.Warn("disconnected (%v)", e.Cause)
		os.Exit(0)
	})
	client.Handle(packetEcho, func(payload []byte, from net.Addr) {
		logger.Info("server echoed: %q", payload)
	})

	if err := client.Connect(host, port, 5, time.Second); err != nil {
		logger.Fatal("connect: %v", err)
	}

	stopOnSignal(func() {
		client.Disconnect(true)
		client.Stop()
	})

	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			client.Tick()
		}
	}()

	<-connected
	logger.Info("type a line and press enter to send it reliably; ctrl-c to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if _, _, err := client.Send(rudp.ChannelReliable, packetEcho, []byte(line)); err != nil {
			logger.Error("send: %v", err)
		}
	}
}

func stopOnSignal(onStop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		onStop()
		os.Exit(0)
	}()
}
