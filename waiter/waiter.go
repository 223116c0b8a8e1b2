// Package waiter implements the multiplex waiter of spec §4.2, component
// C2: wait up to a bounded timeout for a datagram across every socket in a
// socketset.Set, returning the datagram plus source/dest addresses, arrival
// interface index, ECN codepoint, which socket fired, and a wall-clock
// snapshot taken after wakeup.
//
// Go has no direct equivalent of select(2)/poll(2) across arbitrary
// net.PacketConns, so the idiomatic answer is one background reader
// goroutine per socket, funnelling results into a single channel that Wait
// selects on with a timer. This trades one goroutine per open socket (at
// most socketset.Max) for a blocking multi-fd wait — the standard Go
// substitute, not a workaround.
package waiter

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/socketset"
)

// MaxWait is the hard cap on how long Wait may block, regardless of the
// timeout requested by the caller (spec §4.2 and invariant P7).
const MaxWait = 10 * time.Second

// Result is what Wait returns for one loop iteration.
type Result struct {
	// Bytes is nil/empty on timeout. Its length is > 0 on a real datagram.
	// A negative-length sentinel is represented by Err != nil instead of a
	// magic byte count, which is more idiomatic in Go than spec §4.2's "a
	// negative byte count signals a fatal I/O error".
	Packet engine.IncomingPacket
	NowUs  int64
	// Err is non-nil only for a fatal receive I/O error (spec §4.2, §7).
	Err error
}

type readResult struct {
	rank int
	pkt  engine.IncomingPacket
	err  error
}

// Waiter owns the background readers for one socketset.Set. A Waiter must
// not be shared between loop instances, matching the Set it reads.
type Waiter struct {
	mu      sync.Mutex
	tracked map[int]uint64
	ch      chan readResult
}

// New returns a Waiter ready to read from set.
func New() *Waiter {
	return &Waiter{
		tracked: map[int]uint64{},
		ch:      make(chan readResult, 64),
	}
}

// sync starts a reader goroutine for every rank in set whose socket
// identity (socketset.Set.EntryID) the Waiter has not seen yet — a brand
// new rank, or a rank whose socket was replaced/rebound since the last
// call.
func (w *Waiter) sync(set *socketset.Set) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rank := 0; rank < set.Len(); rank++ {
		id, ok := set.EntryID(rank)
		if !ok {
			continue
		}
		if cur, tracked := w.tracked[rank]; tracked && cur == id {
			continue
		}
		w.tracked[rank] = id
		w.startReader(set, rank, id)
	}
}

func (w *Waiter) startReader(set *socketset.Set, rank int, id uint64) {
	go func() {
		buf := make([]byte, engine.MaxDatagramSize)
		for {
			n, from, to, ifIndex, ecn, err := set.ReadWithAncillary(rank, buf)
			if err != nil {
				w.ch <- readResult{rank: rank, err: wrapReaderErr(err, rank, id)}
				return
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			w.ch <- readResult{rank: rank, pkt: engine.IncomingPacket{
				Bytes:      payload,
				AddrFrom:   from,
				AddrTo:     to,
				IfIndexTo:  ifIndex,
				ECN:        engine.ECN(ecn & 0x3),
				SocketRank: rank,
				ArrivalUs:  nowMicros(),
			}}
		}
	}()
}

// staleReaderErr wraps every error from a reader goroutine with the rank and
// socket identity it was reading, so Wait can tell whether that socket was
// since superseded by socketset.Set.Replace (expected, not fatal) or the
// error is a real I/O fault.
type staleReaderErr struct {
	rank int
	id   uint64
	err  error
}

func (e *staleReaderErr) Error() string { return e.err.Error() }
func (e *staleReaderErr) Unwrap() error { return e.err }

func wrapReaderErr(err error, rank int, id uint64) error {
	return &staleReaderErr{rank: rank, id: id, err: err}
}

// Wait blocks until a datagram arrives on any socket in set, timeout
// elapses (capped at MaxWait), or a fatal I/O error occurs.
func (w *Waiter) Wait(set *socketset.Set, timeout time.Duration) Result {
	if timeout > MaxWait {
		timeout = MaxWait
	}
	if timeout < 0 {
		timeout = 0
	}
	w.sync(set)

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		select {
		case res := <-w.ch:
			timer.Stop()
			if res.err != nil {
				if isStaleAndSuperseded(set, res) {
					// The socket that produced this error has since been
					// replaced; this is the old reader winding down, not a
					// real I/O fault. Re-sync (the replacement rank already
					// has its own reader from sync()) and keep waiting out
					// the same deadline.
					w.forgetStale(res)
					continue
				}
				return Result{NowUs: nowMicros(), Err: res.err}
			}
			return Result{Packet: res.pkt, NowUs: nowMicros()}
		case <-timer.C:
			return Result{NowUs: nowMicros()}
		}
	}
}

func (w *Waiter) forgetStale(res readResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if se, ok := res.err.(*staleReaderErr); ok {
		if cur, tracked := w.tracked[res.rank]; tracked && cur == se.id {
			delete(w.tracked, res.rank)
		}
	}
}

func isStaleAndSuperseded(set *socketset.Set, res readResult) bool {
	se, ok := res.err.(*staleReaderErr)
	if !ok {
		return false
	}
	if !errors.Is(se.err, net.ErrClosed) {
		return false
	}
	curID, ok := set.EntryID(se.rank)
	if !ok {
		// rank no longer valid at all; treat the close as expected winddown.
		return true
	}
	return curID != se.id
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}
