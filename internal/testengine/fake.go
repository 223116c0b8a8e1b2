// Package testengine is a scriptable fake of engine.Engine used by the
// package tests in loop and dual. It never touches the
// network; it only records what the loop fed it and replays a queue of
// canned responses.
package testengine

import (
	"net"
	"sync"
	"time"

	"github.com/quicsockloop/loop/engine"
)

// Fake is a minimal, concurrency-safe engine.Engine double. Zero value is
// not usable; construct with New.
type Fake struct {
	mu sync.Mutex

	wakeDelay time.Duration

	outQueue []queuedOut
	received []engine.IncomingPacket

	firstCnx   engine.Connection
	hasCnx     bool
	probed     []probeCall
	unreached  []unreachCall
}

type queuedOut struct {
	out engine.OutgoingPacket
	err error
}

type probeCall struct {
	Cnx   engine.Connection
	Peer  net.Addr
	Local net.Addr
}

type unreachCall struct {
	Cnx   engine.Connection
	Peer  net.Addr
	Local net.Addr
}

// New returns a Fake with no queued output and a zero wake delay.
func New() *Fake {
	return &Fake{}
}

// SetWakeDelay fixes what NextWakeDelay returns.
func (f *Fake) SetWakeDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeDelay = d
}

// QueueOutgoing appends one successful PrepareNextPacket response.
func (f *Fake) QueueOutgoing(out engine.OutgoingPacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outQueue = append(f.outQueue, queuedOut{out: out})
}

// QueueError appends a PrepareNextPacket response that returns err (used
// to inject pseudo-codes via engine.PseudoCodeError, or a genuine fatal
// error).
func (f *Fake) QueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outQueue = append(f.outQueue, queuedOut{err: err})
}

// SetFirstConnection fixes what FirstConnection returns.
func (f *Fake) SetFirstConnection(cnx engine.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firstCnx = cnx
	f.hasCnx = true
}

// Received returns every packet IncomingPacket has been called with, in
// order.
func (f *Fake) Received() []engine.IncomingPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.IncomingPacket, len(f.received))
	copy(out, f.received)
	return out
}

// ProbeCalls returns every ProbeNewPath invocation recorded so far.
func (f *Fake) ProbeCalls() []probeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]probeCall, len(f.probed))
	copy(out, f.probed)
	return out
}

// UnreachableCalls returns every NotifyDestinationUnreachable invocation
// recorded so far.
func (f *Fake) UnreachableCalls() []unreachCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]unreachCall, len(f.unreached))
	copy(out, f.unreached)
	return out
}

func (f *Fake) NextWakeDelay(time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakeDelay
}

func (f *Fake) IncomingPacket(pkt engine.IncomingPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, pkt)
	return nil
}

func (f *Fake) PrepareNextPacket(time.Time) (engine.OutgoingPacket, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outQueue) == 0 {
		return engine.OutgoingPacket{}, false, nil
	}
	next := f.outQueue[0]
	f.outQueue = f.outQueue[1:]
	if next.err != nil {
		return engine.OutgoingPacket{}, false, next.err
	}
	return next.out, true, nil
}

func (f *Fake) ProbeNewPath(cnx engine.Connection, peer, local net.Addr, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, probeCall{Cnx: cnx, Peer: peer, Local: local})
	return nil
}

func (f *Fake) NotifyDestinationUnreachable(cnx engine.Connection, _ time.Time, peer, local net.Addr, _ int, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreached = append(f.unreached, unreachCall{Cnx: cnx, Peer: peer, Local: local})
}

func (f *Fake) FirstConnection() (engine.Connection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstCnx, f.hasCnx
}

// Connection is a minimal engine.Connection double.
type Connection struct {
	Peer net.Addr
	Local net.Addr
	Ctx  any
}

func (c *Connection) PeerAddr() net.Addr   { return c.Peer }
func (c *Connection) LocalAddr() net.Addr  { return c.Local }
func (c *Connection) CallbackContext() any { return c.Ctx }
