package loop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicsockloop/loop/internal/testengine"
	"github.com/quicsockloop/loop/socketset"
)

func TestHandleSimulateNATReplacesRankZero(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	before, ok := set.EntryID(0)
	require.True(t, ok)

	handleSimulateNAT(set, st)

	after, ok := set.EntryID(0)
	require.True(t, ok)
	require.NotEqual(t, before, after)
}

func TestHandleSimulateMigrationNoopsWithoutConnection(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	eng := testengine.New()

	handleSimulateMigration(set, st, eng, time.Now())
	require.False(t, st.TestingMigration)
	require.Equal(t, 1, set.Len())
}

func TestHandleSimulateMigrationAppendsAndProbes(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()

	st := NewState()
	st.SocketPort = 58231
	cnx := &testengine.Connection{
		Peer:  &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9},
		Local: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: st.SocketPort},
	}
	st.LastCnx = cnx
	eng := testengine.New()

	handleSimulateMigration(set, st, eng, time.Now())

	require.True(t, st.TestingMigration)
	require.Equal(t, st.SocketPort+1, st.NextPort)
	require.Equal(t, 2, set.Len())
	require.Len(t, eng.ProbeCalls(), 1)
}

func TestHandleSimulateMigrationNoopsWhenSetFull(t *testing.T) {
	set, err := socketset.Open(0, socketset.FamilyInet)
	require.NoError(t, err)
	defer set.Close()
	for set.Len() < socketset.Max {
		_, _, err := set.Append(socketset.FamilyInet, 0)
		require.NoError(t, err)
	}

	st := NewState()
	st.LastCnx = &testengine.Connection{
		Peer:  &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9},
		Local: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1},
	}
	eng := testengine.New()

	handleSimulateMigration(set, st, eng, time.Now())
	require.False(t, st.TestingMigration)
	require.Empty(t, eng.ProbeCalls())
}
