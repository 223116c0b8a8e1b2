// Package callback defines the user loop callback contract (spec §6) and
// the per-connection migration signalling bits a real application attaches
// to a connection (spec §3's "user-attached callback context").
package callback

import "sync/atomic"

// Event is the point in the loop's iteration at which the user callback is
// invoked.
type Event int

const (
	// Ready fires exactly once, after the loop has finished setup and
	// before it enters the wait/receive/drain cycle (spec §4.7).
	Ready Event = iota
	// AfterReceive fires once per iteration after a received datagram has
	// been submitted to the engine (spec §4.3 step 4).
	AfterReceive
	// AfterSend fires once per iteration after the send-drain pass
	// completes (spec §4.4 step 6).
	AfterSend
)

func (e Event) String() string {
	switch e {
	case Ready:
		return "ready"
	case AfterReceive:
		return "after_receive"
	case AfterSend:
		return "after_send"
	default:
		return "unknown"
	}
}

// Func is the user loop callback. A non-zero return terminates the loop
// (spec §4.7); the value is propagated as the loop's exit code.
type Func func(event Event, ctx *Context) int

// Context is the callback context a real application attaches to a
// connection (spec §3, §4.6). It carries the two bits the dual-engine
// handoff (package dual) inspects: ServerFlag (this connection is server
// side, so it is the primary that may initiate a handoff) and MigrationFlag
// (an application-level signal — e.g. a migctl "migrate" control message —
// asking the loop to transplant this connection to the backup engine).
//
// Both flags are accessed atomically: MigrationFlag is commonly set from a
// control-stream reader goroutine (see package migctl) while the packet
// loop goroutine reads and clears it.
type Context struct {
	serverFlag    int32
	migrationFlag int32
}

// NewContext returns a Context for a connection that is (or is not) the
// server side of the handshake.
func NewContext(serverFlag bool) *Context {
	c := &Context{}
	if serverFlag {
		atomic.StoreInt32(&c.serverFlag, 1)
	}
	return c
}

// ServerFlag reports whether this connection is the server side.
func (c *Context) ServerFlag() bool {
	return atomic.LoadInt32(&c.serverFlag) != 0
}

// RaiseMigration sets the migration flag. Idempotent.
func (c *Context) RaiseMigration() {
	atomic.StoreInt32(&c.migrationFlag, 1)
}

// TakeMigration atomically reads and clears the migration flag, returning
// whether it had been raised. This matches spec §4.6 step 1: "Clear
// migration_flag" as part of observing it.
func (c *Context) TakeMigration() bool {
	return atomic.SwapInt32(&c.migrationFlag, 0) != 0
}
