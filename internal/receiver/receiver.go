// Package receiver implements Fluxel's reorder buffer: duplicate
// suppression, cumulative+bitmap ack construction, and time-gated
// in-order playout. Out-of-order arrivals are held in a map keyed by
// sequence with their arrival time; an entry is only emitted to the sink
// once every lower sequence has been emitted and the entry has dwelled
// in the buffer for at least the playout delay.
package receiver

import (
	"time"

	"github.com/katzenpost/fluxel/internal/metrics"
	"github.com/katzenpost/fluxel/internal/seqnum"
	"github.com/katzenpost/fluxel/internal/wire"
)

// Sink receives payloads in strictly increasing sequence order, exactly
// once per delivered sequence.
type Sink interface {
	Write(payload []byte) error
}

// Config holds the receiver's tunables.
type Config struct {
	AckInterval  time.Duration
	PlayoutDelay time.Duration
}

// DefaultConfig returns the protocol's documented defaults.
func DefaultConfig() Config {
	return Config{
		AckInterval:  80 * time.Millisecond,
		PlayoutDelay: 150 * time.Millisecond,
	}
}

type bufEntry struct {
	payload []byte
	arrival time.Time
}

// Receiver holds the out-of-order buffer and next-expected cursor. It is
// not safe for unsynchronized concurrent use across goroutines; if
// reception and playout run on separate goroutines the caller must
// serialize calls to OnDatagram, AdvancePlayout, and BuildAck (a shared
// mutex, or route everything through a single loop the way ioloop does).
type Receiver struct {
	cfg Config
	m   *metrics.Receiver
	now func() time.Time

	nextExpected uint32
	buffer       map[uint32]*bufEntry
}

// New constructs a Receiver. m may be nil to disable metrics.
func New(cfg Config, m *metrics.Receiver) *Receiver {
	return &Receiver{
		cfg:    cfg,
		m:      m,
		now:    time.Now,
		buffer: make(map[uint32]*bufEntry),
	}
}

// OnDatagram decodes and buffers a DATA datagram. Already-delivered seqs
// and duplicates of buffered-but-undelivered seqs are dropped.
func (r *Receiver) OnDatagram(datagram []byte) {
	seq, payload, ok := wire.DecodeData(datagram)
	if !ok {
		if r.m != nil {
			r.m.PacketsDropped.Inc()
		}
		return
	}
	if seqnum.Less(seq, r.nextExpected) {
		// Already delivered; harmless duplicate of the past.
		if r.m != nil {
			r.m.PacketsDropped.Inc()
		}
		return
	}
	if _, exists := r.buffer[seq]; exists {
		if r.m != nil {
			r.m.DuplicatesDropped.Inc()
		}
		return
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.buffer[seq] = &bufEntry{payload: cp, arrival: r.now()}
	if r.m != nil {
		r.m.BufferSize.Set(float64(len(r.buffer)))
	}
}

// AdvancePlayout emits every contiguous entry starting at nextExpected
// that has aged at least PlayoutDelay, stopping at the first gap or the
// first entry still too young.
func (r *Receiver) AdvancePlayout(sink Sink) error {
	now := r.now()
	for {
		e, ok := r.buffer[r.nextExpected]
		if !ok {
			return nil
		}
		if now.Sub(e.arrival) < r.cfg.PlayoutDelay {
			return nil
		}
		if err := sink.Write(e.payload); err != nil {
			return err
		}
		if r.m != nil {
			r.m.BytesDelivered.Add(float64(len(e.payload)))
		}
		delete(r.buffer, r.nextExpected)
		r.nextExpected = seqnum.Add(r.nextExpected, 1)
		if r.m != nil {
			r.m.BufferSize.Set(float64(len(r.buffer)))
		}
	}
}

// BuildAck computes the (cumulative, bitmap) pair for the receiver's
// current buffer state. Cumulative is defined over received seqs,
// including ones buffered but not yet played out.
func (r *Receiver) BuildAck() (cumulative uint32, bitmap uint64) {
	c := seqnum.Sub1(r.nextExpected)
	for {
		next := seqnum.Add(c, 1)
		if _, ok := r.buffer[next]; !ok {
			break
		}
		c = next
	}
	for i := 0; i < wire.BitmapSize; i++ {
		seq := seqnum.Add(c, uint32(i+1))
		if _, ok := r.buffer[seq]; ok {
			bitmap |= 1 << uint(i)
		}
	}
	if r.m != nil {
		r.m.AcksSent.Inc()
	}
	return c, bitmap
}

// NextExpected reports the receiver's delivery cursor, for tests.
func (r *Receiver) NextExpected() uint32 { return r.nextExpected }

// SetNextExpected overrides the delivery cursor, used by tests
// exercising wraparound.
func (r *Receiver) SetNextExpected(seq uint32) { r.nextExpected = seq }

// BufferLen reports the number of buffered, undelivered entries.
func (r *Receiver) BufferLen() int { return len(r.buffer) }

// SetClock overrides the time source, used by tests that need
// deterministic playout-delay behavior.
func (r *Receiver) SetClock(now func() time.Time) { r.now = now }
