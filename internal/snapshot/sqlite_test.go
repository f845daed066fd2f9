package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSnapshotterSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	snap, err := NewSQLiteSnapshotter(path)
	require.NoError(t, err)
	defer snap.Close()

	id := ballot.Ballot{Counter: 1, AgentID: "a"}
	records := []Record{{
		Store: "current",
		Key:   "foo",
		Promises: map[ballot.Ballot]message.Promise{
			id: {Prepare: &message.Prepare{ID: id, Key: "foo", Predicate: "set", Argument: "v"}},
		},
	}}

	require.NoError(t, snap.Save("current", records))

	loaded, err := snap.Load("current")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "foo", loaded[0].Key)
	promise, ok := loaded[0].Promises[id]
	require.True(t, ok)
	assert.Equal(t, "v", promise.Prepare.Argument)
}

func TestSQLiteSnapshotterSaveClearsPriorRecordsForStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	snap, err := NewSQLiteSnapshotter(path)
	require.NoError(t, err)
	defer snap.Close()

	id1 := ballot.Ballot{Counter: 1, AgentID: "a"}
	first := []Record{{Store: "current", Key: "foo", Promises: map[ballot.Ballot]message.Promise{
		id1: {Prepare: &message.Prepare{ID: id1, Key: "foo", Argument: "old"}},
	}}}
	require.NoError(t, snap.Save("current", first))

	id2 := ballot.Ballot{Counter: 2, AgentID: "a"}
	second := []Record{{Store: "current", Key: "bar", Promises: map[ballot.Ballot]message.Promise{
		id2: {Prepare: &message.Prepare{ID: id2, Key: "bar", Argument: "new"}},
	}}}
	require.NoError(t, snap.Save("current", second))

	loaded, err := snap.Load("current")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "bar", loaded[0].Key)
}

func TestSQLiteSnapshotterLoadEmptyStoreReturnsNoRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	snap, err := NewSQLiteSnapshotter(path)
	require.NoError(t, err)
	defer snap.Close()

	loaded, err := snap.Load("completed")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
