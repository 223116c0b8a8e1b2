package dual

import (
	"sync"

	"github.com/quicsockloop/loop/engine"
)

// Slot is the shared handoff slot of spec §3/§4.6: exactly one datagram
// descriptor, guarded by a mutex, with condition-variable signalling
// between the primary (producer) and the backup (consumer).
//
// This is the same rendezvous shape as the teacher's
// quicriu/server/socket_wrapper.go and pre-dump/server/socket_wrapper.go
// MigratablePacketConn, which already pairs a sync.Cond with a boolean
// gate to pause/resume a blocked reader around a socket swap; here the gate
// carries a payload (the datagram) instead of just a boolean, and the
// roles are producer/consumer rather than pause/resume.
//
// The slot is single-buffered: a producer that writes again before the
// consumer has taken the previous value overwrites it. Spec §4.6 and §9
// document this as an accepted, not accidental, loss — the relevant
// connection has just migrated, so the next retransmit re-enters the same
// path.
type Slot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	has    bool
	pkt    engine.IncomingPacket
	closed bool
}

// NewSlot returns an empty, open slot.
func NewSlot() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Produce writes pkt into the slot and wakes the consumer. It never blocks.
func (s *Slot) Produce(pkt engine.IncomingPacket) {
	s.mu.Lock()
	s.pkt = pkt
	s.has = true
	s.mu.Unlock()
	s.cond.Signal()
}

// Consume blocks until a datagram is available or the slot is closed. ok is
// false only when the slot has been closed with nothing pending.
func (s *Slot) Consume() (pkt engine.IncomingPacket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.has && !s.closed {
		s.cond.Wait()
	}
	if !s.has {
		return engine.IncomingPacket{}, false
	}
	pkt = s.pkt
	s.has = false
	return pkt, true
}

// Close wakes any blocked consumer and marks the slot closed; used to unwind
// the backup loop when its context is cancelled, since sync.Cond.Wait has
// no native cancellation.
func (s *Slot) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}
