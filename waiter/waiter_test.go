package waiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicsockloop/loop/socketset"
)

func TestWaitTimesOutWithoutPacket(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	w := New()
	res := w.Wait(set, 20*time.Millisecond)
	require.NoError(t, res.Err)
	require.Empty(t, res.Packet.Bytes)
}

func TestWaitReturnsReceivedPacket(t *testing.T) {
	srv, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer srv.Close()

	cli, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer cli.Close()

	srvAddr, err := srv.LocalAddr(0)
	require.NoError(t, err)

	w := New()

	done := make(chan struct{})
	var result Result
	go func() {
		result = w.Wait(srv, time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = cli.WriteTo(0, []byte("ping"), srvAddr)
	require.NoError(t, err)

	<-done
	require.NoError(t, result.Err)
	require.Equal(t, "ping", string(result.Packet.Bytes))
}

func TestWaitShortTimeoutReturnsBeforeMaxWait(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	w := New()
	start := time.Now()
	res := w.Wait(set, 30*time.Millisecond)
	require.Less(t, time.Since(start), MaxWait)
	require.NoError(t, res.Err)
}

func TestWaitSurvivesSocketReplaceWithoutFalseFatalError(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	w := New()
	// Establish the first reader for rank 0.
	res := w.Wait(set, 20*time.Millisecond)
	require.NoError(t, res.Err)

	_, err = set.Replace(0, 0)
	require.NoError(t, err)

	// The stale reader's ReadFrom on the now-closed old socket should be
	// absorbed as winddown, not surfaced as a fatal error.
	res = w.Wait(set, 50*time.Millisecond)
	require.NoError(t, res.Err)
}
