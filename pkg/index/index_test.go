package index

import (
	"testing"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	names map[int64]string
}

func (f *fakeResolver) StreamIDAt(pos types.LogPosition) (string, error) {
	return f.names[pos.Commit], nil
}

func newTestIndex(t *testing.T, resolver Resolver) *Index {
	t.Helper()
	idx, err := Open(Config{DataDir: t.TempDir()}, resolver, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestInsertAndLookup(t *testing.T) {
	idx := newTestIndex(t, nil)

	idx.Insert("orders-1", types.ExactVersion(0), types.LogPosition{Commit: 10, Prepare: 10})
	idx.Insert("orders-1", types.ExactVersion(1), types.LogPosition{Commit: 20, Prepare: 20})

	pos, err := idx.Lookup("orders-1", types.ExactVersion(0))
	require.NoError(t, err)
	require.Equal(t, int64(10), pos.Commit)

	pos, err = idx.Lookup("orders-1", types.ExactVersion(1))
	require.NoError(t, err)
	require.Equal(t, int64(20), pos.Commit)
}

func TestLookupNotFound(t *testing.T) {
	idx := newTestIndex(t, nil)
	_, err := idx.Lookup("missing", types.ExactVersion(0))
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestTailTracksLatestInsert(t *testing.T) {
	idx := newTestIndex(t, nil)
	require.Equal(t, types.NoStream, idx.Tail("s"))

	idx.Insert("s", types.ExactVersion(0), types.LogPosition{Commit: 1})
	require.Equal(t, types.ExactVersion(0), idx.Tail("s"))

	idx.Insert("s", types.ExactVersion(1), types.LogPosition{Commit: 2})
	require.Equal(t, types.ExactVersion(1), idx.Tail("s"))
}

func TestRangeForward(t *testing.T) {
	idx := newTestIndex(t, nil)
	for i := int64(0); i < 5; i++ {
		idx.Insert("s", types.ExactVersion(i), types.LogPosition{Commit: i * 10})
	}

	entries, err := idx.Range("s", types.ExactVersion(1), 2, Forward)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, types.ExactVersion(1), entries[0].EventNumber)
	require.Equal(t, types.ExactVersion(2), entries[1].EventNumber)
}

func TestRangeBackward(t *testing.T) {
	idx := newTestIndex(t, nil)
	for i := int64(0); i < 5; i++ {
		idx.Insert("s", types.ExactVersion(i), types.LogPosition{Commit: i * 10})
	}

	entries, err := idx.Range("s", types.ExactVersion(4), 2, Backward)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, types.ExactVersion(4), entries[0].EventNumber)
	require.Equal(t, types.ExactVersion(3), entries[1].EventNumber)
}

func TestMarkDeletedTombstones(t *testing.T) {
	idx := newTestIndex(t, nil)
	require.NoError(t, idx.MarkDeleted("s", true))

	tombstoned, err := idx.IsTombstoned("s")
	require.NoError(t, err)
	require.True(t, tombstoned)
}

func TestHashCollisionDisambiguation(t *testing.T) {
	resolver := &fakeResolver{names: map[int64]string{100: "stream-a"}}
	idx := newTestIndex(t, resolver)

	idx.Insert("stream-a", types.ExactVersion(0), types.LogPosition{Commit: 100})

	pos, err := idx.Lookup("stream-a", types.ExactVersion(0))
	require.NoError(t, err)
	require.Equal(t, int64(100), pos.Commit)

	// The record at 100 now belongs to a colliding stream: the entry is
	// not returned for stream-a, from the memtable or from a PTable.
	resolver.names[100] = "stream-b"
	_, err = idx.Lookup("stream-a", types.ExactVersion(0))
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, idx.flushMemtable())
	_, err = idx.Lookup("stream-a", types.ExactVersion(0))
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestMergeBackgroundDiscardsTombstonedAndTruncated(t *testing.T) {
	resolver := &fakeResolver{names: map[int64]string{
		1: "gone", 2: "kept", 3: "kept", 4: "kept",
	}}
	idx := newTestIndex(t, resolver)

	idx.Insert("gone", types.ExactVersion(0), types.LogPosition{Commit: 1})
	require.NoError(t, idx.flushMemtable())

	idx.Insert("kept", types.ExactVersion(0), types.LogPosition{Commit: 2})
	require.NoError(t, idx.flushMemtable())

	idx.Insert("kept", types.ExactVersion(1), types.LogPosition{Commit: 3})
	require.NoError(t, idx.flushMemtable())

	idx.Insert("kept", types.ExactVersion(2), types.LogPosition{Commit: 4})
	require.NoError(t, idx.flushMemtable())

	require.NoError(t, idx.MarkDeleted("gone", true))
	require.NoError(t, idx.SetStreamMetadata("kept", types.StreamMetadata{TruncateBefore: types.ExactVersion(1)}))

	idx.mergeBackground()

	_, err := idx.Lookup("gone", types.ExactVersion(0))
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = idx.Lookup("kept", types.ExactVersion(0))
	require.ErrorIs(t, err, types.ErrNotFound)

	pos, err := idx.Lookup("kept", types.ExactVersion(1))
	require.NoError(t, err)
	require.Equal(t, int64(3), pos.Commit)

	pos, err = idx.Lookup("kept", types.ExactVersion(2))
	require.NoError(t, err)
	require.Equal(t, int64(4), pos.Commit)
}

func TestFlushAndReloadManifest(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(Config{DataDir: dir}, nil, zerolog.Nop())
	require.NoError(t, err)

	idx.Insert("s", types.ExactVersion(0), types.LogPosition{Commit: 1})
	require.NoError(t, idx.flushMemtable())
	require.NoError(t, idx.Close())

	reopened, err := Open(Config{DataDir: dir}, nil, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	pos, err := reopened.Lookup("s", types.ExactVersion(0))
	require.NoError(t, err)
	require.Equal(t, int64(1), pos.Commit)
}
