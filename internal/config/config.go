// Package config loads Fluxel's TOML configuration: a sectioned document
// ([Sender], [Receiver], [Log]) decoded over the documented defaults, so
// a partial file leaves the unset fields at their default values.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// Sender mirrors sender.Config in its on-disk, millisecond-duration form.
type Sender struct {
	StreamID         uint16 `toml:"stream_id"`
	WindowSize       int    `toml:"window_size"`
	PayloadSize      int    `toml:"payload_size"`
	RetransTimeoutMs int    `toml:"retrans_timeout_ms"`
	LocalEndpoint    string `toml:"local_endpoint"`
	RemoteEndpoint   string `toml:"remote_endpoint"`
	SourcePath       string `toml:"source_path"`
}

// Receiver mirrors receiver.Config in its on-disk form.
type Receiver struct {
	AckIntervalMs  int    `toml:"ack_interval_ms"`
	PlayoutDelayMs int    `toml:"playout_delay_ms"`
	LocalEndpoint  string `toml:"local_endpoint"`
	SinkPath       string `toml:"sink_path"`
}

// Log configures the charmbracelet/log logger shared by both binaries.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the top-level document; a deployment runs either a sender or
// a receiver, so only the relevant section need be populated, but both
// are always parsed.
type Config struct {
	Sender   Sender   `toml:"Sender"`
	Receiver Receiver `toml:"Receiver"`
	Log      Log      `toml:"Log"`
}

// MTU bounds the payload size validation; Fluxel assumes a conservative
// UDP-over-Ethernet MTU rather than attempting path MTU discovery.
const MTU = 1500

// Default returns a Config populated with the protocol's documented
// defaults.
func Default() *Config {
	return &Config{
		Sender: Sender{
			StreamID:         1,
			WindowSize:       256,
			PayloadSize:      1000,
			RetransTimeoutMs: 250,
			LocalEndpoint:    "0.0.0.0:0",
			RemoteEndpoint:   "127.0.0.1:9000",
		},
		Receiver: Receiver{
			AckIntervalMs:  80,
			PlayoutDelayMs: 150,
			LocalEndpoint:  "0.0.0.0:9000",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a TOML document at path, starting from Default()
// so unset fields keep their documented defaults, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would produce undefined behavior
// downstream, per the ConfigurationInvalid error kind: payload_size must
// leave room for the 18-byte DATA header within MTU.
func (c *Config) Validate() error {
	if c.Sender.PayloadSize <= 0 {
		return fmt.Errorf("config: payload_size must be positive, got %d", c.Sender.PayloadSize)
	}
	if c.Sender.PayloadSize > MTU-18 {
		return fmt.Errorf("config: payload_size %d exceeds MTU-18 (%d)", c.Sender.PayloadSize, MTU-18)
	}
	if c.Sender.WindowSize <= 0 {
		return fmt.Errorf("config: window_size must be positive, got %d", c.Sender.WindowSize)
	}
	if c.Sender.RetransTimeoutMs <= 0 {
		return fmt.Errorf("config: retrans_timeout_ms must be positive, got %d", c.Sender.RetransTimeoutMs)
	}
	if c.Receiver.AckIntervalMs <= 0 {
		return fmt.Errorf("config: ack_interval_ms must be positive, got %d", c.Receiver.AckIntervalMs)
	}
	if c.Receiver.PlayoutDelayMs <= 0 {
		return fmt.Errorf("config: playout_delay_ms must be positive, got %d", c.Receiver.PlayoutDelayMs)
	}
	return nil
}

// NewLogger builds the process logger from the [Log] section. An
// unrecognized level falls back to info rather than failing startup.
func (l Log) NewLogger(w io.Writer) *log.Logger {
	opts := log.Options{ReportTimestamp: true}
	opts.Level = log.ParseLevel(l.Level)
	if l.Format == "json" {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(w, opts)
}

func (s Sender) RetransTimeout() time.Duration {
	return time.Duration(s.RetransTimeoutMs) * time.Millisecond
}

func (r Receiver) AckInterval() time.Duration {
	return time.Duration(r.AckIntervalMs) * time.Millisecond
}

func (r Receiver) PlayoutDelay() time.Duration {
	return time.Duration(r.PlayoutDelayMs) * time.Millisecond
}
