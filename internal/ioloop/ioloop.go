// Package ioloop runs the single-threaded cooperative loop that pumps a
// sender or receiver engine over a net.PacketConn: bounded-deadline
// receive, periodic timers for ack cadence / retransmit scan / playout
// scan. One loop per peer owns its engine outright, so no locking is
// needed between reception, timers, and playout.
package ioloop

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/fluxel/internal/receiver"
	"github.com/katzenpost/fluxel/internal/sender"
	"github.com/katzenpost/fluxel/internal/wire"
)

// idlePoll bounds how long ReadFrom blocks before the loop re-checks its
// timers, keeping them responsive within one interval while bounding CPU.
const idlePoll = 8 * time.Millisecond

const recvBufSize = 1 << 16

// RunSender pumps s (which already knows how to reach its remote peer
// via the Transmitter it was constructed with) until s.IsDone() or ctx
// is canceled. It returns nil on normal completion.
func RunSender(ctx context.Context, logger *log.Logger, conn net.PacketConn, s *sender.Sender, src sender.Source) error {
	logger = logger.WithPrefix("sender")
	buf := make([]byte, recvBufSize)

	// sourceErr is set once the byte source fails. A source failure is
	// terminal, but the window must still drain (outstanding entries get
	// their chance at ack/retransmission) before the loop returns it.
	var sourceErr error

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(idlePoll))
		n, _, err := conn.ReadFrom(buf)
		switch {
		case err == nil:
			handleIncoming(logger, buf[:n], s, nil)
		case isTimeout(err):
			// Expected: no datagram arrived within the poll interval.
		default:
			logger.Warn("read failed", "err", err)
		}

		s.ScanTimeouts()

		if sourceErr == nil {
			if err := s.FillWindow(src); err != nil {
				logger.Error("source read failed, draining window before exit", "err", err, "window_len", s.WindowLen())
				sourceErr = err
			}
		}

		if sourceErr != nil && s.WindowLen() == 0 {
			logger.Warn("window drained after source read failure, exiting", "err", sourceErr)
			return sourceErr
		}

		if sourceErr == nil && s.IsDone() {
			logger.Info("transfer complete", "next_seq", s.NextSeq())
			return nil
		}
	}
}

// RunReceiver pumps r against conn until ctx is canceled; the receiver
// has no intrinsic terminal state, so the caller supplies shutdown via
// ctx (e.g. SIGINT/SIGTERM in the cmd binaries).
func RunReceiver(ctx context.Context, logger *log.Logger, conn net.PacketConn, r *receiver.Receiver, sink receiver.Sink, ackInterval time.Duration, sendAck func([]byte) error) error {
	logger = logger.WithPrefix("receiver")
	buf := make([]byte, recvBufSize)
	nextAck := time.Now().Add(ackInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(idlePoll))
		n, _, err := conn.ReadFrom(buf)
		switch {
		case err == nil:
			handleIncoming(logger, buf[:n], nil, r)
		case isTimeout(err):
		default:
			logger.Warn("read failed", "err", err)
		}

		if err := r.AdvancePlayout(sink); err != nil {
			logger.Error("sink write failed", "err", err)
			return err
		}

		if now := time.Now(); !now.Before(nextAck) {
			cumulative, bitmap := r.BuildAck()
			if err := sendAck(wire.EncodeAck(cumulative, bitmap)); err != nil {
				logger.Warn("ack send failed", "err", err)
			}
			nextAck = now.Add(ackInterval)
		}
	}
}

func handleIncoming(logger *log.Logger, datagram []byte, s *sender.Sender, r *receiver.Receiver) {
	switch wire.PacketType(datagram) {
	case wire.TypeData:
		if r != nil {
			r.OnDatagram(datagram)
		}
	case wire.TypeAck:
		if s != nil {
			cumulative, bitmap, ok := wire.DecodeAck(datagram)
			if !ok {
				logger.Debug("malformed ack dropped")
				return
			}
			s.OnAck(cumulative, bitmap)
		}
	default:
		// Unknown type byte: silently ignored for forward compatibility.
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
