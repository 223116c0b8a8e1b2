// Package engine defines the contract the packet loop (package loop) uses
// to talk to an opaque QUIC protocol engine. The engine itself — crypto,
// congestion control, stream layer, ACK logic — is out of scope: this
// package only names the surface the loop drives.
package engine

import (
	"errors"
	"net"
	"time"
)

// Engine is the black-box QUIC protocol engine that owns zero or more
// connections. An implementation is never provided by this module; it is
// supplied by the embedding application (picoquic's ctx in the original
// system this module generalizes).
type Engine interface {
	// NextWakeDelay reports how long the waiter may block before the engine
	// needs to run again (timers, retransmits, ...), capped by the caller at
	// waiter.MaxWait.
	NextWakeDelay(now time.Time) time.Duration

	// IncomingPacket hands one received datagram to the engine for
	// decryption and stream processing.
	IncomingPacket(pkt IncomingPacket) error

	// PrepareNextPacket asks the engine for the next outbound datagram, if
	// any. ok is false once the engine has nothing left to send this pass.
	PrepareNextPacket(now time.Time) (out OutgoingPacket, ok bool, err error)

	// ProbeNewPath asks the engine to start probing an additional path for
	// an existing connection (migration-test support, §4.5).
	ProbeNewPath(cnx Connection, peer net.Addr, local net.Addr, now time.Time) error

	// NotifyDestinationUnreachable tells the engine a send to peer/local
	// failed with an OS error implying the destination is unreachable, so
	// the engine can mark the path dead.
	NotifyDestinationUnreachable(cnx Connection, now time.Time, peer, local net.Addr, ifIndex int, sendErr error)

	// FirstConnection returns the first connection known to the engine, or
	// ok=false if it has none. Used only by the dual-engine handoff to find
	// the connection whose migration flag it inspects, never for packet
	// classification.
	FirstConnection() (cnx Connection, ok bool)
}

// Connection is an opaque QUIC session. The loop relies only on the facts
// named below; it never inspects QUIC state.
type Connection interface {
	PeerAddr() net.Addr
	LocalAddr() net.Addr

	// CallbackContext exposes the migration/server flags the application
	// attaches to the connection. See package callback.
	CallbackContext() any
}

// PseudoCode values are non-error return codes PrepareNextPacket may produce
// (via err, detected using errors.As) to request special handling from the
// loop, mirroring picoquic's use of dedicated negative error codes for the
// same purpose. The loop callback returns a plain int and cannot produce
// them: the loop treats every non-zero callback return as its exit code.
type PseudoCode int

const (
	// TerminatePacketLoop asks the loop to exit with a clean (zero) result.
	TerminatePacketLoop PseudoCode = iota + 1
	// SimulateNAT asks the loop to replace socket rank 0 with a freshly
	// bound socket on a new ephemeral port (§4.5).
	SimulateNAT
	// SimulateMigration asks the loop to open an additional socket and
	// probe a new path on the current connection (§4.5).
	SimulateMigration
)

// PseudoCodeError wraps a PseudoCode so it can flow back through the normal
// Go error return of PrepareNextPacket.
type PseudoCodeError struct{ Code PseudoCode }

func (e *PseudoCodeError) Error() string {
	switch e.Code {
	case TerminatePacketLoop:
		return "terminate packet loop"
	case SimulateNAT:
		return "simulate nat"
	case SimulateMigration:
		return "simulate migration"
	default:
		return "unknown pseudo code"
	}
}

// AsPseudoCode reports whether err carries one of the sentinel codes above.
func AsPseudoCode(err error) (PseudoCode, bool) {
	var pe *PseudoCodeError
	if !errors.As(err, &pe) {
		return 0, false
	}
	return pe.Code, true
}
