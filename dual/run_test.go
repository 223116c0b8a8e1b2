package dual

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/internal/testengine"
	"github.com/quicsockloop/loop/loop"
	"github.com/quicsockloop/loop/socketset"
)

func TestRunBackupProcessesSlotPackets(t *testing.T) {
	backup := testengine.New()
	slot := NewSlot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan callback.Event, 4)
	cb := func(event callback.Event, _ *callback.Context) int {
		received <- event
		return 0
	}

	done := make(chan struct{})
	go func() {
		_, _ = RunBackup(ctx, backup, slot, loop.Options{Family: socketset.FamilyInet}, cb)
		close(done)
	}()

	require.Equal(t, callback.Ready, <-received)

	slot.Produce(engine.IncomingPacket{Bytes: []byte("handoff")})

	require.Equal(t, callback.AfterReceive, <-received)
	require.Equal(t, callback.AfterSend, <-received)
	require.Len(t, backup.Received(), 1)
	require.Equal(t, "handoff", string(backup.Received()[0].Bytes))

	cancel()
	<-done
}

func TestRunPrimaryRoutesOwnedPeerToSlotInsteadOfPrimary(t *testing.T) {
	primary := testengine.New()
	backup := testengine.New()
	table := NewOwnershipTable()
	slot := NewSlot()

	cli, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer cli.Close()
	cliBound, err := cli.LocalAddr(0)
	require.NoError(t, err)
	// cli is bound to the wildcard address; datagrams it sends to a
	// loopback peer arrive with a 127.0.0.1 source, not 0.0.0.0, so the
	// ownership key must be computed against that observed source.
	peerAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: cliBound.(*net.UDPAddr).Port}
	table.Insert(table.Key(peerAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := loop.Options{Family: socketset.FamilyInet}
	srv, err := socketset.Open(opts.LocalPort, opts.Family)
	require.NoError(t, err)
	srvAddr, err := srv.LocalAddr(0)
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	ready := make(chan struct{})
	cb := func(event callback.Event, _ *callback.Context) int {
		if event == callback.Ready {
			close(ready)
		}
		return 0
	}

	done := make(chan struct{})
	go func() {
		_, _ = RunPrimary(ctx, primary, backup, table, slot, loop.Options{LocalPort: srvAddr.(*net.UDPAddr).Port, Family: socketset.FamilyInet}, cb, nil)
		close(done)
	}()
	<-ready

	_, err = cli.WriteTo(0, []byte("owned"), srvAddr)
	require.NoError(t, err)

	pkt, ok := slot.Consume()
	require.True(t, ok)
	require.Equal(t, "owned", string(pkt.Bytes))
	require.Empty(t, primary.Received())

	cancel()
	<-done
}
