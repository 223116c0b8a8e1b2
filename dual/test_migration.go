package dual

import (
	"context"
	"fmt"
	"time"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/loop"
	"github.com/quicsockloop/loop/socketset"
	"github.com/quicsockloop/loop/waiter"
)

// MigrateFunc is the test-harness migration hook spec §6 item 3 calls
// "migrate(engine_a, engine_b)".
type MigrateFunc func(a, b engine.Engine) error

// RunTestMigration drives engineA through the ordinary single-engine
// pipeline (spec §4.3/§4.4) and, after exactly 100 drain iterations,
// invokes migrate(engineA, engineB) once — the transport-level migration
// test harness of spec §6 item 3, distinct from the application-triggered
// handoff of RunPrimary/RunBackup.
func RunTestMigration(
	ctx context.Context,
	engineA, engineB engine.Engine,
	opts loop.Options,
	cb callback.Func,
	migrate MigrateFunc,
) (int, error) {
	set, err := socketset.Open(opts.LocalPort, opts.Family)
	if err != nil {
		return loop.UnexpectedError, fmt.Errorf("dual: test-migration: %w", err)
	}
	defer func() {
		if cerr := set.Close(); cerr != nil {
			dualLog.WithError(cerr).Warn("error closing test-migration socket set")
		}
	}()

	st := loop.NewState()
	w := waiter.New()
	migrated := false
	iterations := 0

	if cb != nil {
		if code := cb(callback.Ready, nil); code != 0 {
			return code, nil
		}
	}

	for {
		if ctx.Err() != nil {
			return 0, nil
		}

		delay := engineA.NextWakeDelay(time.Now())
		res := w.Wait(set, delay)
		if res.Err != nil {
			dualLog.WithError(res.Err).Error("test-migration: fatal receive error")
			return loop.UnexpectedError, res.Err
		}

		if len(res.Packet.Bytes) > 0 {
			if code, exited := loop.ReceiveOne(set, st, engineA, cb, res.Packet, nil); exited {
				return code, nil
			}
		}

		drain := loop.DrainAndSend(set, st, engineA, time.UnixMicro(res.NowUs))
		if drain.Exited {
			return drain.ExitCode, nil
		}

		if code, exited := loop.InvokeAfterSend(cb); exited {
			return code, nil
		}

		st.Tick(res.NowUs, drain.SentAny)

		iterations++
		if !migrated && iterations >= 100 {
			migrated = true
			if migrate != nil {
				if err := migrate(engineA, engineB); err != nil {
					dualLog.WithError(err).Error("test-migration: migrate failed")
				}
			}
		}
	}
}
