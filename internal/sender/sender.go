// Package sender implements Fluxel's sliding-window sender engine: the
// in-flight window keyed by sequence number, ack-driven selective
// retransmission, and timeout-driven retransmission. Entries leave the
// window only by cumulative-ack advance; a selective bitmap gap or an
// elapsed per-entry deadline triggers a resend but never frees anything.
package sender

import (
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/fluxel/internal/metrics"
	"github.com/katzenpost/fluxel/internal/seqnum"
	"github.com/katzenpost/fluxel/internal/wire"
)

// Source is the byte-stream the sender drains. It returns 0 bytes with a
// nil error to signal EOF; any other error is terminal.
type Source interface {
	ReadUpTo(n int) ([]byte, error)
}

// Transmitter hands an encoded datagram to the network. The sender engine
// does not interpret send failures beyond logging: the caller decides
// whether a failure is transient (retransmit path will retry) or fatal.
type Transmitter func(datagram []byte) error

// Config holds the sender's tunables, all named and defaulted per the
// protocol's recognized configuration options.
type Config struct {
	StreamID       uint16
	WindowSize     int
	PayloadSize    int
	RetransTimeout time.Duration
}

// DefaultConfig returns the protocol's documented defaults.
func DefaultConfig() Config {
	return Config{
		StreamID:       1,
		WindowSize:     256,
		PayloadSize:    1000,
		RetransTimeout: 250 * time.Millisecond,
	}
}

type entry struct {
	datagram      []byte
	lastSent      time.Time
	transmitCount int
}

// Sender drives transmission from a Source, tracks the in-flight window,
// and applies ack feedback. It is not safe for concurrent use; the I/O
// loop that owns it must call its methods from a single goroutine.
type Sender struct {
	cfg Config
	tx  Transmitter
	now func() time.Time
	m   *metrics.Sender
	log *log.Logger

	nextSeq    uint32
	eofReached bool
	window     map[uint32]*entry

	bytesRead     uint64
	retransmitted uint64
}

// New constructs a Sender. m may be nil to disable metrics; logger may be
// nil, in which case send-failure warnings are discarded.
func New(cfg Config, tx Transmitter, m *metrics.Sender, logger *log.Logger) *Sender {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Sender{
		cfg:    cfg,
		tx:     tx,
		now:    time.Now,
		m:      m,
		log:    logger,
		window: make(map[uint32]*entry, cfg.WindowSize),
	}
}

// FillWindow reads from src until the window is full or the source is
// exhausted, transmitting each chunk as it is read.
func (s *Sender) FillWindow(src Source) error {
	for len(s.window) < s.cfg.WindowSize && !s.eofReached {
		done, err := s.fillOne(src)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	if s.m != nil {
		s.m.WindowSize.Set(float64(len(s.window)))
	}
	return nil
}

// fillOne reads and transmits a single chunk. done is true when the
// source has reached EOF (nothing more to read this call or ever).
func (s *Sender) fillOne(src Source) (done bool, err error) {
	payload, err := src.ReadUpTo(s.cfg.PayloadSize)
	if err != nil {
		return true, err
	}
	if len(payload) == 0 {
		s.eofReached = true
		return true, nil
	}
	seq := s.nextSeq
	datagram, err := wire.EncodeData(s.cfg.StreamID, seq, uint64(s.now().UnixMilli()), payload)
	if err != nil {
		return true, err
	}
	if sendErr := s.tx(datagram); sendErr != nil {
		// The entry is still recorded so the retransmit timer will
		// retry it.
		s.log.Warn("transport send failed, relying on retransmission", "seq", seq, "err", sendErr)
	}
	s.window[seq] = &entry{datagram: datagram, lastSent: s.now(), transmitCount: 1}
	s.nextSeq = seqnum.Add(s.nextSeq, 1)
	s.bytesRead += uint64(len(payload))
	if s.m != nil {
		s.m.BytesRead.Add(float64(len(payload)))
		s.m.PacketsSent.Inc()
	}
	return false, nil
}

// OnAck applies a received (cumulative, bitmap) pair: entries covered by
// cumulative are freed, and bitmap gaps within the next 64 seqs trigger
// selective retransmission.
func (s *Sender) OnAck(cumulative uint32, bitmap uint64) {
	for seq := range s.window {
		if seqnum.LessEqual(seq, cumulative) {
			delete(s.window, seq)
		}
	}

	for i := 0; i < wire.BitmapSize; i++ {
		if bitmap&(1<<uint(i)) != 0 {
			continue
		}
		seq := seqnum.Add(cumulative, uint32(i+1))
		e, ok := s.window[seq]
		if !ok {
			continue
		}
		s.retransmit(seq, e)
		if s.m != nil {
			s.m.RetransmitSelective.Inc()
		}
	}
	if s.m != nil {
		s.m.WindowSize.Set(float64(len(s.window)))
	}
}

// ScanTimeouts retransmits every window entry whose retransmit deadline
// has elapsed.
func (s *Sender) ScanTimeouts() {
	now := s.now()
	for seq, e := range s.window {
		if now.Sub(e.lastSent) > s.cfg.RetransTimeout {
			s.retransmit(seq, e)
			if s.m != nil {
				s.m.RetransmitTimeout.Inc()
			}
		}
	}
}

func (s *Sender) retransmit(seq uint32, e *entry) {
	if err := s.tx(e.datagram); err != nil {
		s.log.Warn("transport send failed on retransmit, will retry", "seq", seq, "err", err)
	}
	e.lastSent = s.now()
	e.transmitCount++
	s.retransmitted++
	if s.m != nil {
		s.m.PacketsSent.Inc()
	}
}

// IsDone reports whether the source is exhausted and every transmitted
// datagram has been cumulatively acknowledged.
func (s *Sender) IsDone() bool {
	return s.eofReached && len(s.window) == 0
}

// WindowLen reports the current number of in-flight entries, for tests
// and the window-bound invariant.
func (s *Sender) WindowLen() int { return len(s.window) }

// NextSeq reports the next sequence number to be assigned, for tests.
func (s *Sender) NextSeq() uint32 { return s.nextSeq }

// BytesRead reports the total payload bytes consumed from the source.
func (s *Sender) BytesRead() uint64 { return s.bytesRead }

// Retransmitted reports the total number of retransmissions, selective
// and timeout-driven combined.
func (s *Sender) Retransmitted() uint64 { return s.retransmitted }

// TransmitCount reports how many times seq has been transmitted, or 0 if
// seq is not (or no longer) in the window.
func (s *Sender) TransmitCount(seq uint32) int {
	e, ok := s.window[seq]
	if !ok {
		return 0
	}
	return e.transmitCount
}

// SetNextSeq overrides the starting sequence number, used by tests
// exercising wraparound.
func (s *Sender) SetNextSeq(seq uint32) { s.nextSeq = seq }

// SetClock overrides the time source, used by tests that need
// deterministic timeout behavior.
func (s *Sender) SetClock(now func() time.Time) { s.now = now }
