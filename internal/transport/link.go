package transport

import (
	"net"
	"time"
)

// Policy decides what happens to a single datagram in flight from one Fake
// endpoint to another. Returning deliver=false drops it. A nonzero delay
// schedules delivery after that duration on its own goroutine, which is
// how tests construct reordering (delay an earlier seq behind a later one).
type Policy func(b []byte) (deliver bool, delay time.Duration)

// AlwaysDeliver is the default Policy: deliver immediately, never drop.
func AlwaysDeliver(b []byte) (bool, time.Duration) { return true, 0 }

// Link wires two Fake endpoints together so writes on one appear as reads
// on the other, each direction filtered by its own Policy.
type Link struct {
	a, b       *Fake
	aToB, bToA Policy
}

// NewLink connects a and b. aToB governs datagrams a sends toward b; bToA
// governs datagrams b sends toward a. A nil Policy defaults to
// AlwaysDeliver.
func NewLink(a, b *Fake, aToB, bToA Policy) *Link {
	if aToB == nil {
		aToB = AlwaysDeliver
	}
	if bToA == nil {
		bToA = AlwaysDeliver
	}
	l := &Link{a: a, b: b, aToB: aToB, bToA: bToA}
	a.deliver = func(payload []byte, from net.Addr) { l.forward(payload, from, aToB, b) }
	b.deliver = func(payload []byte, from net.Addr) { l.forward(payload, from, bToA, a) }
	return l
}

func (l *Link) forward(payload []byte, from net.Addr, p Policy, dst *Fake) {
	deliver, delay := p(payload)
	if !deliver {
		return
	}
	if delay <= 0 {
		dst.push(payload, from)
		return
	}
	go func() {
		time.Sleep(delay)
		dst.push(payload, from)
	}()
}

// SetAToB replaces the a-to-b forwarding policy after the
// Link is constructed, useful for scenarios that change behavior partway
// through a test (e.g. "drop all acks after the first retransmit").
func (l *Link) SetAToB(p Policy) {
	if p == nil {
		p = AlwaysDeliver
	}
	l.aToB = p
	l.a.deliver = func(payload []byte, from net.Addr) { l.forward(payload, from, p, l.b) }
}

func (l *Link) SetBToA(p Policy) {
	if p == nil {
		p = AlwaysDeliver
	}
	l.bToA = p
	l.b.deliver = func(payload []byte, from net.Addr) { l.forward(payload, from, p, l.a) }
}
