package dual

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/engine"
	"github.com/quicsockloop/loop/internal/testengine"
)

func newServerConn(peer net.Addr) (*testengine.Connection, *callback.Context) {
	cctx := callback.NewContext(true)
	return &testengine.Connection{Peer: peer, Ctx: cctx}, cctx
}

func TestMaybeMigrateNoopsWithoutConnection(t *testing.T) {
	primary := testengine.New()
	backup := testengine.New()
	table := NewOwnershipTable()

	maybeMigrate(primary, backup, table, func(a, b engine.Engine) error { return nil })
	require.Zero(t, len(table.m))
}

func TestMaybeMigrateNoopsWhenNotServer(t *testing.T) {
	primary := testengine.New()
	backup := testengine.New()
	table := NewOwnershipTable()

	peer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	cctx := callback.NewContext(false)
	cctx.RaiseMigration()
	cnx := &testengine.Connection{Peer: peer, Ctx: cctx}
	primary.SetFirstConnection(cnx)

	called := false
	maybeMigrate(primary, backup, table, func(a, b engine.Engine) error { called = true; return nil })
	require.False(t, called)
}

func TestMaybeMigrateNoopsWhenFlagNotRaised(t *testing.T) {
	primary := testengine.New()
	backup := testengine.New()
	table := NewOwnershipTable()

	peer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	cnx, _ := newServerConn(peer)
	primary.SetFirstConnection(cnx)

	called := false
	maybeMigrate(primary, backup, table, func(a, b engine.Engine) error { called = true; return nil })
	require.False(t, called)
}

func TestMaybeMigrateInsertsOwnershipOnSuccess(t *testing.T) {
	primary := testengine.New()
	backup := testengine.New()
	table := NewOwnershipTable()

	peer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	cnx, cctx := newServerConn(peer)
	cctx.RaiseMigration()
	primary.SetFirstConnection(cnx)

	var gotA, gotB engine.Engine
	maybeMigrate(primary, backup, table, func(a, b engine.Engine) error {
		gotA, gotB = a, b
		return nil
	})

	require.Same(t, primary, gotA)
	require.Same(t, backup, gotB)
	require.True(t, table.Owned(table.Key(peer)))
	// A second call with the flag already consumed must not retrigger.
	called := false
	maybeMigrate(primary, backup, table, func(a, b engine.Engine) error { called = true; return nil })
	require.False(t, called)
}

func TestMaybeMigrateDoesNotInsertOwnershipOnFailure(t *testing.T) {
	primary := testengine.New()
	backup := testengine.New()
	table := NewOwnershipTable()

	peer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	cnx, cctx := newServerConn(peer)
	cctx.RaiseMigration()
	primary.SetFirstConnection(cnx)

	maybeMigrate(primary, backup, table, func(a, b engine.Engine) error { return errors.New("boom") })
	require.False(t, table.Owned(table.Key(peer)))
}
