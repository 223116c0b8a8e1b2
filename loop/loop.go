// Package loop implements the single-engine packet loop orchestrator (spec
// §4.7, component C7) built from the receive path (§4.3, C3), send drain
// (§4.4, C4), and migration-test hooks (§4.5, C5). Dual-engine mode
// (component C6) lives in package dual and reuses ReceiveOne/DrainAndSend
// directly so the backup runs the identical pipeline spec §4.6 requires.
package loop

import (
	"context"
	"fmt"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/socketset"
	"github.com/quicsockloop/loop/waiter"
)

// UnexpectedError is returned for socket open/bind failure and for a fatal
// receive I/O error (spec §4.1, §4.2, §7).
const UnexpectedError = -1

// Options configures a single run of the loop.
type Options struct {
	LocalPort int
	Family    socketset.Family
	// DestIf is an interface index hint for multicast/link-local binds,
	// matching the opaque dest_if parameter in spec §6's run_loop signature.
	// socketset does not bind to a specific interface, so Run only logs it
	// once at startup for operational visibility rather than acting on it.
	DestIf int
}

// Run is the single-engine entry point of spec §6: it blocks, driving eng
// against one or two UDP sockets, until the callback or the engine's
// preparer asks it to stop, or a receive I/O error is fatal.
//
// Returns (0, nil) on graceful termination, (UnexpectedError, err) on a
// fatal I/O condition, or (code, nil) for a non-zero callback/engine return.
func Run(ctx context.Context, eng engine.Engine, opts Options, cb callback.Func) (int, error) {
	set, err := socketset.Open(opts.LocalPort, opts.Family)
	if err != nil {
		return UnexpectedError, fmt.Errorf("loop: %w", err)
	}
	defer func() {
		if cerr := set.Close(); cerr != nil {
			defaultLog.WithError(cerr).Warn("error closing socket set")
		}
	}()

	st := NewState()
	w := waiter.New()

	if opts.DestIf != 0 {
		defaultLog.WithField("dest_if", opts.DestIf).Info("loop started with interface hint")
	}

	if cb != nil {
		if code := cb(callback.Ready, nil); code != 0 {
			return code, nil
		}
	}

	for {
		if ctx.Err() != nil {
			return 0, nil
		}

		delay := eng.NextWakeDelay(timeNow())
		res := w.Wait(set, delay)
		if res.Err != nil {
			defaultLog.WithError(res.Err).Error("fatal receive error")
			return UnexpectedError, res.Err
		}

		if len(res.Packet.Bytes) > 0 {
			if code, exited := ReceiveOne(set, st, eng, cb, res.Packet, nil); exited {
				return code, nil
			}
		}

		drain := DrainAndSend(set, st, eng, usFromMicros(res.NowUs))
		if drain.Exited {
			return drain.ExitCode, nil
		}

		if code, exited := InvokeAfterSend(cb); exited {
			return code, nil
		}

		st.tick(res.NowUs, drain.SentAny, defaultLog)
	}
}
