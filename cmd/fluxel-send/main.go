// Command fluxel-send streams a file to a remote fluxel-recv over UDP.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/katzenpost/fluxel/internal/config"
	"github.com/katzenpost/fluxel/internal/ioloop"
	"github.com/katzenpost/fluxel/internal/metrics"
	"github.com/katzenpost/fluxel/internal/sender"
	"github.com/katzenpost/fluxel/internal/streamio"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	sourcePath := flag.String("source", "", "Path to the file to send (overrides config)")
	remote := flag.String("remote", "", "remote host:port (overrides config)")
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
	if *sourcePath != "" {
		cfg.Sender.SourcePath = *sourcePath
	}
	if *remote != "" {
		cfg.Sender.RemoteEndpoint = *remote
	}
	logger = cfg.Log.NewLogger(os.Stderr)
	if cfg.Sender.SourcePath == "" {
		logger.Fatal("no source file given (-source or Sender.source_path)")
	}

	src, err := streamio.OpenFile(cfg.Sender.SourcePath)
	if err != nil {
		logger.Fatal("open source", "err", err)
	}
	defer src.Close()

	remoteAddr, err := net.ResolveUDPAddr("udp", cfg.Sender.RemoteEndpoint)
	if err != nil {
		logger.Fatal("resolve remote", "err", err)
	}
	localAddr, err := net.ResolveUDPAddr("udp", cfg.Sender.LocalEndpoint)
	if err != nil {
		logger.Fatal("resolve local", "err", err)
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		logger.Fatal("listen udp", "err", err)
	}
	defer conn.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewSender(reg, cfg.Sender.StreamID)

	engCfg := sender.Config{
		StreamID:       cfg.Sender.StreamID,
		WindowSize:     cfg.Sender.WindowSize,
		PayloadSize:    cfg.Sender.PayloadSize,
		RetransTimeout: cfg.Sender.RetransTimeout(),
	}
	tx := func(datagram []byte) error {
		_, err := conn.WriteTo(datagram, remoteAddr)
		return err
	}
	eng := sender.New(engCfg, tx, m, logger.WithPrefix("sender-engine"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	logger.Info("sending", "source", cfg.Sender.SourcePath, "remote", cfg.Sender.RemoteEndpoint)
	if err := ioloop.RunSender(ctx, logger, conn, eng, src); err != nil {
		logger.Fatal("transfer failed", "err", err)
	}
	logger.Info("done",
		"bytes", eng.BytesRead(),
		"segments", eng.NextSeq(),
		"retransmits", eng.Retransmitted(),
		"duration", time.Since(start))
}
