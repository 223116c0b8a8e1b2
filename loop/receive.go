package loop

import (
	"net"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/socketset"
)

// ReceiveOne runs the per-datagram receive path of spec §4.3 for a packet
// that has already been pulled off the wire (by a waiter, or copied out of
// a dual-engine handoff slot). It is shared verbatim between single-engine
// Run and the dual-engine primary/backup loops (package dual), which is
// exactly what spec §4.6 requires of the backup: "run the identical
// receive/drain pipeline against its own engine".
//
// classify, when non-nil, is consulted before the packet is submitted to
// eng — this is the dual-engine ownership hook (spec §4.3 step 3, §4.6). If
// classify returns handledElsewhere=true, ReceiveOne does not call
// eng.IncomingPacket and returns immediately without invoking the
// AfterReceive callback (the owning engine's own receive path will do
// that).
func ReceiveOne(
	set *socketset.Set,
	st *State,
	eng engine.Engine,
	cb callback.Func,
	pkt engine.IncomingPacket,
	classify func(pkt engine.IncomingPacket) (handledElsewhere bool),
) (exitCode int, exited bool) {
	learnLocalPort(set, st)
	relabelDestination(set, st, &pkt)

	if classify != nil && classify(pkt) {
		return 0, false
	}

	if err := eng.IncomingPacket(pkt); err != nil {
		defaultLog.WithError(err).Warn("engine rejected incoming packet")
	}

	if cb != nil {
		if code := cb(callback.AfterReceive, nil); code != 0 {
			return code, true
		}
	}
	return 0, false
}

// learnLocalPort implements spec §4.3 step 1 and invariant P3.
func learnLocalPort(set *socketset.Set, st *State) {
	if st.SocketPort != 0 {
		return
	}
	if set.Len() != 1 {
		return
	}
	addr, err := set.LocalAddr(0)
	if err != nil {
		if !st.loggedLocalRd {
			defaultLog.WithError(err).Warn("local address readback failed; proceeding with unlatched socket port")
			st.loggedLocalRd = true
		}
		return
	}
	if ua, ok := addr.(*net.UDPAddr); ok && ua.Port != 0 {
		st.SocketPort = ua.Port
	}
}

// relabelDestination implements spec §4.3 step 2: once TestingMigration is
// true, a receive on rank 0 is labelled with the latched SocketPort and a
// receive on any other rank is labelled with NextPort.
func relabelDestination(set *socketset.Set, st *State, pkt *engine.IncomingPacket) {
	if !st.TestingMigration {
		return
	}
	port := st.NextPort
	if pkt.SocketRank == 0 {
		port = st.SocketPort
	}
	ip := net.IPv4zero
	if ua, ok := pkt.AddrTo.(*net.UDPAddr); ok && ua.IP != nil {
		ip = ua.IP
	}
	pkt.AddrTo = &net.UDPAddr{IP: ip, Port: port}
}
