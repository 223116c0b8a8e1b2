package loop

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/internal/testengine"
	"github.com/quicsockloop/loop/socketset"
)

func TestRunExitsCleanlyOnTerminatePacketLoop(t *testing.T) {
	eng := testengine.New()
	eng.QueueError(&engine.PseudoCodeError{Code: engine.TerminatePacketLoop})

	code, err := Run(context.Background(), eng, Options{Family: socketset.FamilyInet}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, code)
}

func TestRunPropagatesNonPseudoPrepareError(t *testing.T) {
	eng := testengine.New()
	eng.QueueError(errBoom)

	code, err := Run(context.Background(), eng, Options{Family: socketset.FamilyInet}, nil)
	require.NoError(t, err)
	require.Equal(t, -1, code)
}

func TestRunSendsQueuedOutgoingPacketToPeer(t *testing.T) {
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	require.NoError(t, err)
	defer peer.Close()

	eng := testengine.New()
	eng.QueueOutgoing(engine.OutgoingPacket{
		Bytes:      []byte("hello"),
		SendLength: 5,
		PeerAddr:   peer.LocalAddr(),
	})
	eng.QueueError(&engine.PseudoCodeError{Code: engine.TerminatePacketLoop})

	done := make(chan struct{})
	var code int
	var runErr error
	go func() {
		code, runErr = Run(context.Background(), eng, Options{Family: socketset.FamilyInet}, nil)
		close(done)
	}()

	buf := make([]byte, 64)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	<-done
	require.NoError(t, runErr)
	require.Equal(t, 0, code)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	eng := testengine.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, err := Run(ctx, eng, Options{Family: socketset.FamilyInet}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, code)
}

func TestReceiveOneLearnsSocketPortOnce(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()

	_, exited := ReceiveOne(set, st, eng, nil, engine.IncomingPacket{Bytes: []byte("x")}, nil)
	require.False(t, exited)
	require.NotZero(t, st.SocketPort)

	learned := st.SocketPort
	_, exited = ReceiveOne(set, st, eng, nil, engine.IncomingPacket{Bytes: []byte("y")}, nil)
	require.False(t, exited)
	require.Equal(t, learned, st.SocketPort)
}

func TestReceiveOneClassifyShortCircuits(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()

	classify := func(engine.IncomingPacket) bool { return true }
	_, exited := ReceiveOne(set, st, eng, nil, engine.IncomingPacket{Bytes: []byte("x")}, classify)
	require.False(t, exited)
	require.Empty(t, eng.Received())
}

func TestReceiveOneInvokesAfterReceiveCallback(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()

	var seen callback.Event
	cb := func(event callback.Event, _ *callback.Context) int {
		seen = event
		return 0
	}
	_, exited := ReceiveOne(set, st, eng, cb, engine.IncomingPacket{Bytes: []byte("x")}, nil)
	require.False(t, exited)
	require.Equal(t, callback.AfterReceive, seen)
	require.Len(t, eng.Received(), 1)
}

func TestReceiveOneNonZeroCallbackExits(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()

	cb := func(callback.Event, *callback.Context) int { return 7 }
	code, exited := ReceiveOne(set, st, eng, cb, engine.IncomingPacket{Bytes: []byte("x")}, nil)
	require.True(t, exited)
	require.Equal(t, 7, code)
}

func TestStateTickResetsOnSend(t *testing.T) {
	st := NewState()
	log := &countingLogger{}

	for i := 0; i < HotSpinThreshold-1; i++ {
		st.tick(int64(i), false, log)
	}
	require.Zero(t, log.warns)

	st.tick(int64(HotSpinThreshold), true, log)
	require.Zero(t, log.warns)
}

func TestStateTickWarnsAfterThreshold(t *testing.T) {
	st := NewState()
	log := &countingLogger{}

	for i := 0; i < HotSpinThreshold; i++ {
		st.tick(int64(i), false, log)
	}
	require.Equal(t, 1, log.warns)
}

type countingLogger struct{ warns int }

func (c *countingLogger) Warnf(string, ...any) { c.warns++ }

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
