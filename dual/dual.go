package dual

import (
	"context"
	"fmt"
	"time"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/internal/xlog"
	"github.com/quicsockloop/loop/loop"
	"github.com/quicsockloop/loop/socketset"
	"github.com/quicsockloop/loop/waiter"
)

var dualLog = xlog.For("dual")

// ShallowMigrate is the external operation of spec §4.6/§9: it relocates a
// connection's live state from primary into backup without renegotiating
// QUIC crypto. This module does not and cannot implement it — the QUIC
// engine itself is out of scope (spec §1) — callers supply it.
type ShallowMigrate func(primary, backup engine.Engine) error

// RunPrimary is the master half of spec §6's run_loop_dual: it runs the
// full single-engine orchestrator against primary, consulting table before
// submitting each received datagram to primary, and invoking migrate when
// the primary's current connection raises its migration flag (spec §4.6).
//
// migrate is called at most once per connection during a session
// (invariant P5): TakeMigration is a one-shot swap, so a connection whose
// flag was already consumed will not retrigger until the application raises
// it again.
func RunPrimary(
	ctx context.Context,
	primary, backup engine.Engine,
	table *OwnershipTable,
	slot *Slot,
	opts loop.Options,
	cb callback.Func,
	migrate ShallowMigrate,
) (int, error) {
	set, err := socketset.Open(opts.LocalPort, opts.Family)
	if err != nil {
		return loop.UnexpectedError, fmt.Errorf("dual: primary: %w", err)
	}
	defer func() {
		if cerr := set.Close(); cerr != nil {
			dualLog.WithError(cerr).Warn("error closing primary socket set")
		}
	}()

	st := loop.NewState()
	w := waiter.New()

	if cb != nil {
		if code := cb(callback.Ready, nil); code != 0 {
			return code, nil
		}
	}

	for {
		if ctx.Err() != nil {
			return 0, nil
		}

		delay := primary.NextWakeDelay(time.Now())
		res := w.Wait(set, delay)
		if res.Err != nil {
			dualLog.WithError(res.Err).Error("primary: fatal receive error")
			return loop.UnexpectedError, res.Err
		}

		if len(res.Packet.Bytes) > 0 {
			handledElsewhere := false
			key := table.Key(res.Packet.AddrFrom)
			classify := func(pkt engine.IncomingPacket) bool {
				if table.Owned(key) {
					slot.Produce(pkt)
					handledElsewhere = true
					return true
				}
				return false
			}

			code, exited := loop.ReceiveOne(set, st, primary, cb, res.Packet, classify)
			if exited {
				return code, nil
			}

			if !handledElsewhere {
				maybeMigrate(primary, backup, table, migrate)
			}
		}

		drain := loop.DrainAndSend(set, st, primary, time.UnixMicro(res.NowUs))
		if drain.Exited {
			return drain.ExitCode, nil
		}

		if code, exited := loop.InvokeAfterSend(cb); exited {
			return code, nil
		}

		st.Tick(res.NowUs, drain.SentAny)
	}
}

// maybeMigrate implements spec §4.6's trigger: if the primary's current
// connection is server-side and has raised its migration flag, transplant
// it to backup and record its peer key so future datagrams route to the
// handoff slot instead of primary.
func maybeMigrate(primary, backup engine.Engine, table *OwnershipTable, migrate ShallowMigrate) {
	cnx, ok := primary.FirstConnection()
	if !ok {
		return
	}
	cctx, ok := cnx.CallbackContext().(*callback.Context)
	if !ok || cctx == nil {
		return
	}
	if !cctx.ServerFlag() {
		return
	}
	if !cctx.TakeMigration() {
		return
	}
	if migrate == nil {
		dualLog.Warn("migration flag raised but no ShallowMigrate supplied")
		return
	}
	if err := migrate(primary, backup); err != nil {
		dualLog.WithError(err).Error("shallow migrate failed")
		return
	}
	table.Insert(table.Key(cnx.PeerAddr()))
	dualLog.WithField("peer", cnx.PeerAddr().String()).Info("connection migrated to backup")
}

// RunBackup is the slave half of spec §6's run_loop_dual: it blocks on
// slot, and for every datagram handed to it runs the identical
// receive/drain pipeline against backup (spec §4.6's "run the identical
// receive/drain pipeline against its own engine").
func RunBackup(ctx context.Context, backup engine.Engine, slot *Slot, opts loop.Options, cb callback.Func) (int, error) {
	set, err := socketset.Open(opts.LocalPort, opts.Family)
	if err != nil {
		return loop.UnexpectedError, fmt.Errorf("dual: backup: %w", err)
	}
	defer func() {
		if cerr := set.Close(); cerr != nil {
			dualLog.WithError(cerr).Warn("error closing backup socket set")
		}
	}()

	st := loop.NewState()

	if cb != nil {
		if code := cb(callback.Ready, nil); code != 0 {
			return code, nil
		}
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			slot.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		if ctx.Err() != nil {
			return 0, nil
		}

		pkt, ok := slot.Consume()
		if !ok {
			return 0, nil
		}

		code, exited := loop.ReceiveOne(set, st, backup, cb, pkt, nil)
		if exited {
			return code, nil
		}

		drain := loop.DrainAndSend(set, st, backup, time.Now())
		if drain.Exited {
			return drain.ExitCode, nil
		}

		if code, exited := loop.InvokeAfterSend(cb); exited {
			return code, nil
		}

		st.Tick(nowUs(), drain.SentAny)
	}
}

func nowUs() int64 { return time.Now().UnixMicro() }
