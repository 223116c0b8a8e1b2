package loop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/internal/testengine"
	"github.com/quicsockloop/loop/socketset"
)

func TestDrainAndSendStopsWhenQueueEmpty(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()

	res := DrainAndSend(set, st, eng, time.Now())
	require.False(t, res.Exited)
	require.False(t, res.SentAny)
}

func TestDrainAndSendPropagatesTerminate(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()
	eng.QueueError(&engine.PseudoCodeError{Code: engine.TerminatePacketLoop})

	res := DrainAndSend(set, st, eng, time.Now())
	require.True(t, res.Exited)
	require.Equal(t, 0, res.ExitCode)
}

func TestDrainAndSendReportsSendFailureAsUnreachable(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()
	cnx := &testengine.Connection{Peer: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}}
	eng.SetFirstConnection(cnx)

	// No ipv6 socket is open, so an ipv6 destination is undeliverable and
	// should be reported via NotifyDestinationUnreachable, not abort the
	// drain loop.
	eng.QueueOutgoing(engine.OutgoingPacket{
		Bytes:      []byte("x"),
		SendLength: 1,
		PeerAddr:   &net.UDPAddr{IP: net.ParseIP("::1"), Port: 1},
		LastCnx:    cnx,
	})

	res := DrainAndSend(set, st, eng, time.Now())
	require.False(t, res.Exited)
	require.True(t, res.SentAny)
	require.Len(t, eng.UnreachableCalls(), 1)
}

func TestInvokeAfterSendPropagatesNonZero(t *testing.T) {
	cb := func(event callback.Event, _ *callback.Context) int {
		require.Equal(t, callback.AfterSend, event)
		return 3
	}
	code, exited := InvokeAfterSend(cb)
	require.True(t, exited)
	require.Equal(t, 3, code)
}

func TestInvokeAfterSendNilCallbackNoOp(t *testing.T) {
	code, exited := InvokeAfterSend(nil)
	require.False(t, exited)
	require.Zero(t, code)
}
