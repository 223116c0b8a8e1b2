package loop

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/socketset"
)

// handleSimulateNAT implements spec §4.5 SIMULATE_NAT: replace socket rank
// 0 with a freshly bound one on an ephemeral port, same family. Failure is
// soft (spec §7): logged against LastCnx, loop continues as if the
// pseudo-code had not fired.
func handleSimulateNAT(set *socketset.Set, st *State) {
	newPort, err := set.Replace(0, 0)
	if err != nil {
		logWithCnx(st, "simulate-nat: replace rank 0 socket").WithError(err).Warn("failed")
		return
	}
	_ = newPort // observable to callers via set.LocalAddr(0)/EntryID; nothing else to latch here.
}

// handleSimulateMigration implements spec §4.5 SIMULATE_MIGRATION: append a
// new socket bound to SocketPort+1 and probe a new path on the current
// connection. If the set has no room or there is no known connection, the
// request is silently discarded (we check both conditions before opening
// the socket rather than open-then-discard — observably identical, and it
// avoids burning an ephemeral port nobody will use).
func handleSimulateMigration(set *socketset.Set, st *State, eng engine.Engine, now time.Time) {
	if set.Len() >= socketset.Max {
		return
	}
	if st.LastCnx == nil {
		return
	}

	fam := socketset.FamilyOf(st.LastCnx.LocalAddr())
	newPort := st.SocketPort + 1
	rank, ok, err := set.Append(fam, newPort)
	if err != nil {
		logWithCnx(st, "simulate-migration: open new socket").WithError(err).Warn("failed")
		return
	}
	if !ok {
		return
	}

	st.TestingMigration = true
	st.NextPort = newPort

	localAddr := &net.UDPAddr{IP: addrIP(st.LastCnx.LocalAddr()), Port: newPort}
	if err := eng.ProbeNewPath(st.LastCnx, st.LastCnx.PeerAddr(), localAddr, now); err != nil {
		logWithCnx(st, "simulate-migration: probe new path").WithError(err).Warn("failed")
	}
	_ = rank
}

func addrIP(a net.Addr) net.IP {
	if ua, ok := a.(*net.UDPAddr); ok {
		return ua.IP
	}
	return net.IPv4zero
}

func logWithCnx(st *State, action string) *logrus.Entry {
	entry := defaultLog.WithField("action", action)
	if st.LastCnx != nil {
		entry = entry.WithField("peer", st.LastCnx.PeerAddr().String())
	}
	return entry
}
