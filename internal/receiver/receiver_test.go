package receiver

import (
	"bytes"
	"testing"
	"time"

	"github.com/katzenpost/fluxel/internal/wire"
)

type collectSink struct {
	writes [][]byte
}

func (s *collectSink) Write(payload []byte) error {
	s.writes = append(s.writes, append([]byte(nil), payload...))
	return nil
}

func testConfig() Config {
	return Config{AckInterval: 80 * time.Millisecond, PlayoutDelay: 50 * time.Millisecond}
}

func data(t *testing.T, seq uint32, payload string) []byte {
	t.Helper()
	d, err := wire.EncodeData(1, seq, 0, []byte(payload))
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}
	return d
}

func TestLosslessInOrderDelivery(t *testing.T) {
	r := New(testConfig(), nil)
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	r.OnDatagram(data(t, 0, "a"))
	r.OnDatagram(data(t, 1, "b"))
	r.OnDatagram(data(t, 2, "c"))

	sink := &collectSink{}
	r.SetClock(func() time.Time { return now.Add(100 * time.Millisecond) })
	if err := r.AdvancePlayout(sink); err != nil {
		t.Fatalf("AdvancePlayout: %v", err)
	}
	if len(sink.writes) != 3 {
		t.Fatalf("got %d writes, want 3", len(sink.writes))
	}
	for i, want := range []string{"a", "b", "c"} {
		if !bytes.Equal(sink.writes[i], []byte(want)) {
			t.Errorf("write %d = %q, want %q", i, sink.writes[i], want)
		}
	}
	if r.NextExpected() != 3 {
		t.Errorf("NextExpected = %d, want 3", r.NextExpected())
	}
}

func TestPlayoutWaitsForDelay(t *testing.T) {
	r := New(testConfig(), nil)
	now := time.Now()
	r.SetClock(func() time.Time { return now })
	r.OnDatagram(data(t, 0, "a"))

	sink := &collectSink{}
	// Still too young: same instant as arrival.
	r.AdvancePlayout(sink)
	if len(sink.writes) != 0 {
		t.Fatalf("expected no delivery before playout delay elapses, got %d", len(sink.writes))
	}

	r.SetClock(func() time.Time { return now.Add(50 * time.Millisecond) })
	r.AdvancePlayout(sink)
	if len(sink.writes) != 1 {
		t.Fatalf("expected delivery once delay elapses, got %d", len(sink.writes))
	}
}

func TestDuplicateSuppressed(t *testing.T) {
	r := New(testConfig(), nil)
	now := time.Now()
	r.SetClock(func() time.Time { return now })
	r.OnDatagram(data(t, 0, "a"))
	r.OnDatagram(data(t, 0, "a-dup"))

	if r.BufferLen() != 1 {
		t.Fatalf("buffer len = %d, want 1", r.BufferLen())
	}
	sink := &collectSink{}
	r.SetClock(func() time.Time { return now.Add(100 * time.Millisecond) })
	r.AdvancePlayout(sink)
	if len(sink.writes) != 1 {
		t.Fatalf("got %d writes, want exactly 1", len(sink.writes))
	}
}

func TestDuplicateOfAlreadyDeliveredDropped(t *testing.T) {
	r := New(testConfig(), nil)
	now := time.Now()
	r.SetClock(func() time.Time { return now })
	r.OnDatagram(data(t, 0, "a"))
	sink := &collectSink{}
	r.SetClock(func() time.Time { return now.Add(100 * time.Millisecond) })
	r.AdvancePlayout(sink)

	r.OnDatagram(data(t, 0, "a-again"))
	if r.BufferLen() != 0 {
		t.Fatalf("buffer should remain empty, got len %d", r.BufferLen())
	}
}

func TestReorderBuffersThenDeliversInOrder(t *testing.T) {
	r := New(testConfig(), nil)
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	r.OnDatagram(data(t, 2, "c"))
	r.OnDatagram(data(t, 0, "a"))
	r.OnDatagram(data(t, 1, "b"))

	if r.BufferLen() != 3 {
		t.Fatalf("buffer len = %d, want 3", r.BufferLen())
	}
	sink := &collectSink{}
	r.SetClock(func() time.Time { return now.Add(100 * time.Millisecond) })
	r.AdvancePlayout(sink)
	for i, want := range []string{"a", "b", "c"} {
		if !bytes.Equal(sink.writes[i], []byte(want)) {
			t.Errorf("write %d = %q, want %q", i, sink.writes[i], want)
		}
	}
}

func TestBuildAckCumulativeAndBitmap(t *testing.T) {
	r := New(testConfig(), nil)
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	r.OnDatagram(data(t, 0, "a"))
	r.OnDatagram(data(t, 2, "c")) // gap at 1

	c, bitmap := r.BuildAck()
	if c != 0 {
		t.Fatalf("cumulative = %d, want 0", c)
	}
	// seq 1 (bit 0) absent, seq 2 (bit 1) present.
	if bitmap&1 != 0 {
		t.Errorf("bit 0 should be clear (seq 1 missing)")
	}
	if bitmap&2 == 0 {
		t.Errorf("bit 1 should be set (seq 2 present)")
	}
}

func TestBuildAckFoldsContiguousUndeliveredRun(t *testing.T) {
	r := New(testConfig(), nil)
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	r.OnDatagram(data(t, 0, "a"))
	r.OnDatagram(data(t, 1, "b"))
	// Do not advance playout: both are received but undelivered.
	c, _ := r.BuildAck()
	if c != 1 {
		t.Fatalf("cumulative = %d, want 1 (received, even though not yet played out)", c)
	}
}

func TestWraparoundDelivery(t *testing.T) {
	r := New(testConfig(), nil)
	r.SetNextExpected(^uint32(0) - 1)
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	seqs := []uint32{^uint32(0) - 1, ^uint32(0), 0, 1}
	for i, seq := range seqs {
		r.OnDatagram(data(t, seq, string(rune('a'+i))))
	}
	sink := &collectSink{}
	r.SetClock(func() time.Time { return now.Add(100 * time.Millisecond) })
	r.AdvancePlayout(sink)
	if len(sink.writes) != 4 {
		t.Fatalf("got %d writes, want 4", len(sink.writes))
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if !bytes.Equal(sink.writes[i], []byte(want)) {
			t.Errorf("write %d = %q, want %q", i, sink.writes[i], want)
		}
	}
}
