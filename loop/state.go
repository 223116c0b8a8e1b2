package loop

import (
	"time"

	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/internal/xlog"
)

// HotSpinThreshold is the iteration count at which the orchestrator emits a
// single diagnostic and resets its counters (spec §4.7, invariant P6).
const HotSpinThreshold = 100

// State is the per-loop-instance state of spec §3's "Loop state". A State
// must not be shared between loop instances: dual-engine mode gives the
// primary and the backup each their own.
type State struct {
	// SocketPort is the kernel-assigned local port, learned lazily after
	// the first receive when the caller passed port 0 (spec §4.3 step 1,
	// invariant P3: once non-zero it never changes again).
	SocketPort int

	// TestingMigration becomes true only after a successful
	// SIMULATE_MIGRATION and never reverts (spec §4.5's state machine).
	TestingMigration bool

	// NextPort is the ephemeral migration-test port used to relabel
	// receives on rank != 0 once TestingMigration is true.
	NextPort int

	// LastCnx is a non-owning handle to the connection most recently
	// prepared-from; used only for diagnostic and unreachable-notify
	// routing (spec §3, §9). Callers must not let it outlive the engine
	// call that produced it.
	LastCnx engine.Connection

	nbLoops       int
	loopCountUs   int64
	loggedLocalRd bool // true once the local-address readback failure has been logged (spec §7: log once)
}

// NewState returns a zero-valued State ready for a fresh loop instance.
func NewState() *State { return &State{} }

// tick is called once per orchestrator iteration (spec §4.7: "every 100
// iterations emit one diagnostic ... and reset the counters"; §4.4 step 5:
// "reset hot-spin counter whenever at least one packet was sent this
// pass").
func (s *State) tick(nowUs int64, sentAny bool, log loggerLike) {
	if sentAny {
		s.nbLoops = 0
		s.loopCountUs = nowUs
		return
	}
	s.nbLoops++
	if s.nbLoops < HotSpinThreshold {
		return
	}
	elapsed := nowUs - s.loopCountUs
	log.Warnf("hot-spin: %d iterations without a send in %dus", s.nbLoops, elapsed)
	s.nbLoops = 0
	s.loopCountUs = nowUs
}

// Tick is the exported form of tick, logging through the package's default
// logger. Package dual's primary/backup loops call this directly since they
// run their own orchestration outside package loop's Run.
func (s *State) Tick(nowUs int64, sentAny bool) {
	s.tick(nowUs, sentAny, defaultLog)
}

type loggerLike interface {
	Warnf(format string, args ...any)
}

var defaultLog = xlog.For("loop")

func timeNow() time.Time { return time.Now() }

func usFromMicros(us int64) time.Time { return time.UnixMicro(us) }
