package loop

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/socketset"
)

// DrainResult summarizes one send-drain pass (spec §4.4, component C4).
type DrainResult struct {
	// SentAny is true if the engine produced at least one outbound
	// datagram this pass, used to reset the hot-spin counter (spec §4.4
	// step 5).
	SentAny bool
	// ExitCode/Exited mirror Run's contract: Exited means the loop must
	// stop, ExitCode is the value to propagate.
	Exited   bool
	ExitCode int
}

// DrainAndSend repeatedly asks eng for the next outbound datagram until it
// declines, handling migration-test pseudo-codes inline (spec §4.5) and
// selecting a send socket by family match (spec §4.1, invariant P2). It
// does not abort on send failures — only a terminal pseudo-code or a
// non-pseudo-code error from PrepareNextPacket stops the loop (spec §4.4
// step 4, §7).
func DrainAndSend(set *socketset.Set, st *State, eng engine.Engine, now time.Time) DrainResult {
	var result DrainResult

	for {
		out, ok, err := eng.PrepareNextPacket(now)
		if err != nil {
			if code, isPseudo := engine.AsPseudoCode(err); isPseudo {
				switch code {
				case engine.SimulateNAT:
					handleSimulateNAT(set, st)
					continue
				case engine.SimulateMigration:
					handleSimulateMigration(set, st, eng, now)
					continue
				case engine.TerminatePacketLoop:
					result.Exited = true
					result.ExitCode = 0
					return result
				}
			}
			// A non-pseudo preparer error ends the loop with exit code -1
			// (spec §4.4 step 2, §7); the error value itself is not returned.
			result.Exited = true
			result.ExitCode = -1
			return result
		}

		if !ok || out.SendLength <= 0 {
			return result
		}

		if out.LastCnx != nil {
			st.LastCnx = out.LastCnx
		}
		result.SentAny = true

		rank, found := selectSendSocket(set, st, out)
		if !found {
			notifyUnreachable(eng, st, now, out, errUndeliverable)
			continue
		}

		n, werr := set.WriteTo(rank, out.Bytes[:out.SendLength], out.PeerAddr)
		if werr != nil || n <= 0 {
			logSendFailure(st, out, werr)
			if isUnreachable(werr) {
				notifyUnreachable(eng, st, now, out, werr)
			}
		}
	}
}

var errUndeliverable = errors.New("loop: no send socket matches destination family")

// selectSendSocket implements spec §4.1's linear scan plus the §4.4 step 3
// testing-migration override: once TestingMigration is true, a prepared
// packet whose LocalAddr port equals NextPort is forced onto the last
// socket in the set (the migration-test socket), overriding plain family
// matching (invariant P2's documented exception).
func selectSendSocket(set *socketset.Set, st *State, out engine.OutgoingPacket) (rank int, ok bool) {
	if st.TestingMigration {
		if ua, isUDP := out.LocalAddr.(*net.UDPAddr); isUDP && ua.Port == st.NextPort {
			return set.Len() - 1, true
		}
	}
	return set.SelectSendSocket(socketset.FamilyOf(out.PeerAddr))
}

func notifyUnreachable(eng engine.Engine, st *State, now time.Time, out engine.OutgoingPacket, sendErr error) {
	cnx := out.LastCnx
	if cnx == nil {
		cnx = st.LastCnx
	}
	if cnx == nil {
		return
	}
	eng.NotifyDestinationUnreachable(cnx, now, out.PeerAddr, out.LocalAddr, out.IfIndex, sendErr)
}

func logSendFailure(st *State, out engine.OutgoingPacket, err error) {
	entry := defaultLog.WithField("log_cid", out.LogCID)
	if out.PeerAddr != nil {
		entry = entry.WithField("peer", out.PeerAddr.String())
	}
	entry.WithError(err).Warn("send failed")
}

// isUnreachable reports whether err belongs to the OS "destination
// unreachable" class (spec §7).
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errUndeliverable) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// InvokeAfterSend runs the user loop callback for the AfterSend event (spec
// §4.4 step 6). A non-zero return terminates the loop. Exported so package
// dual's backup loop, which drains through the same pipeline, can reuse it.
func InvokeAfterSend(cb callback.Func) (exitCode int, exited bool) {
	if cb == nil {
		return 0, false
	}
	if code := cb(callback.AfterSend, nil); code != 0 {
		return code, true
	}
	return 0, false
}
