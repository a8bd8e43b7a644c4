// Package seqnum implements serial-number arithmetic (RFC 1982 style) over
// the 32-bit wrapping sequence numbers used throughout Fluxel's wire
// protocol. Every ordering comparison between two seqs must go through
// here; a plain `a < b` breaks the moment a stream wraps past 2^32.
package seqnum

// Less reports whether a precedes b in modular serial-number order: a < b
// iff (b - a) mod 2^32 is in (0, 2^31).
func Less(a, b uint32) bool {
	d := b - a
	return d != 0 && d < 1<<31
}

// LessEqual reports whether a precedes or equals b in modular order.
func LessEqual(a, b uint32) bool {
	return a == b || Less(a, b)
}

// Greater reports whether a follows b in modular order.
func Greater(a, b uint32) bool {
	return Less(b, a)
}

// GreaterEqual reports whether a follows or equals b in modular order.
func GreaterEqual(a, b uint32) bool {
	return a == b || Greater(a, b)
}

// Add returns a+delta, wrapping modulo 2^32.
func Add(a uint32, delta uint32) uint32 {
	return a + delta
}

// Sub1 returns a-1 modulo 2^32, the predecessor of a.
func Sub1(a uint32) uint32 {
	return a - 1
}

// InRange reports whether x falls within [lo, hi] under modular order,
// inclusive of both ends.
func InRange(x, lo, hi uint32) bool {
	return GreaterEqual(x, lo) && LessEqual(x, hi)
}

// Min returns whichever of a, b precedes the other in modular order.
func Min(a, b uint32) uint32 {
	if Less(a, b) {
		return a
	}
	return b
}
