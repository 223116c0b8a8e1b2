package dual

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/internal/testengine"
	"github.com/quicsockloop/loop/loop"
	"github.com/quicsockloop/loop/socketset"
)

func TestRunTestMigrationInvokesMigrateOnceAfter100Iterations(t *testing.T) {
	engA := testengine.New()
	engB := testengine.New()

	migrateCh := make(chan struct{}, 1)
	calls := 0

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	migrate := func(a, b engine.Engine) error {
		calls++
		require.Same(t, engA, a)
		require.Same(t, engB, b)
		select {
		case migrateCh <- struct{}{}:
		default:
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = RunTestMigration(ctx, engA, engB, loop.Options{Family: socketset.FamilyInet}, nil, migrate)
		close(done)
	}()

	select {
	case <-migrateCh:
	case <-time.After(time.Second):
		t.Fatal("migrate was never invoked")
	}

	cancel()
	<-done
	require.Equal(t, 1, calls)
}
