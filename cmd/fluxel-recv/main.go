// Command fluxel-recv receives a stream from a fluxel-send peer over UDP
// and writes it to a file in order.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/katzenpost/fluxel/internal/config"
	"github.com/katzenpost/fluxel/internal/ioloop"
	"github.com/katzenpost/fluxel/internal/metrics"
	"github.com/katzenpost/fluxel/internal/receiver"
	"github.com/katzenpost/fluxel/internal/streamio"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	sinkPath := flag.String("sink", "", "Path to write the received stream (overrides config)")
	local := flag.String("listen", "", "local host:port to bind (overrides config)")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal("config load failed", "err", err)
		}
		cfg = loaded
	}
	if *sinkPath != "" {
		cfg.Receiver.SinkPath = *sinkPath
	}
	if *local != "" {
		cfg.Receiver.LocalEndpoint = *local
	}
	logger = cfg.Log.NewLogger(os.Stderr)
	if cfg.Receiver.SinkPath == "" {
		logger.Fatal("no sink file given (-sink or Receiver.sink_path)")
	}

	sink, err := streamio.CreateFile(cfg.Receiver.SinkPath)
	if err != nil {
		logger.Fatal("create sink", "err", err)
	}
	defer sink.Close()

	localAddr, err := net.ResolveUDPAddr("udp", cfg.Receiver.LocalEndpoint)
	if err != nil {
		logger.Fatal("resolve local", "err", err)
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		logger.Fatal("listen udp", "err", err)
	}
	defer conn.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewReceiver(reg, cfg.Sender.StreamID)

	engCfg := receiver.Config{
		AckInterval:  cfg.Receiver.AckInterval(),
		PlayoutDelay: cfg.Receiver.PlayoutDelay(),
	}
	eng := receiver.New(engCfg, m)

	// remote is learned from the first datagram's source address; acks
	// go back to whoever last sent us data. RunReceiver is a single-
	// threaded loop, so both the read that sets remote and the ack
	// timer that reads it run on the same goroutine.
	var remote net.Addr
	wrapped := &learningConn{PacketConn: conn, remote: &remote}
	sendAck := func(datagram []byte) error {
		if remote == nil {
			return nil
		}
		_, err := conn.WriteTo(datagram, remote)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("receiving", "listen", cfg.Receiver.LocalEndpoint, "sink", cfg.Receiver.SinkPath)
	if err := ioloop.RunReceiver(ctx, logger, wrapped, eng, sink, cfg.Receiver.AckInterval(), sendAck); err != nil {
		logger.Fatal("receive loop failed", "err", err)
	}
	logger.Info("shutdown", "next_expected_seq", eng.NextExpected())
}

// learningConn wraps a net.PacketConn to remember the most recent sender
// address, so acks can be routed back without a separate handshake.
type learningConn struct {
	net.PacketConn
	remote *net.Addr
}

func (c *learningConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err == nil {
		*c.remote = addr
	}
	return n, addr, err
}
