package txlog

import (
	"os"
	"testing"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLog(t *testing.T, maxChunkSize uint64) *Log {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(Config{Dir: dir, MaxChunkSize: maxChunkSize}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndRead(t *testing.T) {
	l := testLog(t, DefaultMaxChunkSize)

	payload := []byte("hello event")
	pos, err := l.Append(payload)
	require.NoError(t, err)
	require.Equal(t, int64(0), pos.Commit)

	got, err := l.Read(pos)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestAppendMonotonicPositions(t *testing.T) {
	l := testLog(t, DefaultMaxChunkSize)

	var positions []types.LogPosition
	for i := 0; i < 5; i++ {
		pos, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	for i := 1; i < len(positions); i++ {
		require.True(t, positions[i-1].Less(positions[i]))
	}
}

func TestScanForwardReturnsAppendOrder(t *testing.T) {
	l := testLog(t, DefaultMaxChunkSize)

	want := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, p := range want {
		_, err := l.Append(p)
		require.NoError(t, err)
	}

	recs, err := l.ScanForward(types.LogPosition{})
	require.NoError(t, err)
	require.Len(t, recs, len(want))
	for i, r := range recs {
		require.Equal(t, want[i], r.Payload)
	}
}

func TestScanBackwardReversesOrder(t *testing.T) {
	l := testLog(t, DefaultMaxChunkSize)

	for i := 0; i < 4; i++ {
		_, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
	}

	fwd, err := l.ScanForward(types.LogPosition{})
	require.NoError(t, err)
	last := fwd[len(fwd)-1].Position

	back, err := l.ScanBackward(last)
	require.NoError(t, err)
	require.Len(t, back, len(fwd))
	for i := range fwd {
		require.Equal(t, fwd[len(fwd)-1-i].Payload, back[i].Payload)
	}
}

func TestChunkRollsWhenFull(t *testing.T) {
	// Room for exactly one framed 8-byte record (16 bytes) past the
	// header forces a roll after the first record.
	l := testLog(t, headerSize+16)

	_, err := l.Append(make([]byte, 8))
	require.NoError(t, err)
	_, err = l.Append(make([]byte, 8))
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(l.chunks), 2)
	require.True(t, l.chunks[0].complete)
}

func TestCompleteActiveChunk(t *testing.T) {
	l := testLog(t, DefaultMaxChunkSize)

	_, err := l.Append([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, l.CompleteActiveChunk())

	require.Len(t, l.chunks, 2)
	require.True(t, l.chunks[0].complete)
	require.False(t, l.chunks[1].complete)
}

func TestReopenRecoversChunks(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Config{Dir: dir, MaxChunkSize: DefaultMaxChunkSize}, zerolog.Nop())
	require.NoError(t, err)

	_, err = l.Append([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	reopened, err := Open(Config{Dir: dir, MaxChunkSize: DefaultMaxChunkSize}, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.ScanForward(types.LogPosition{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, []byte("first"), recs[0].Payload)
}

func TestReopenDetectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(Config{Dir: dir, MaxChunkSize: DefaultMaxChunkSize}, zerolog.Nop())
	require.NoError(t, err)

	_, err = l.Append([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, l.CompleteActiveChunk())
	path := l.chunks[0].path
	require.NoError(t, l.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("X"), headerSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(Config{Dir: dir, MaxChunkSize: DefaultMaxChunkSize}, zerolog.Nop())
	require.Error(t, err)
	require.ErrorIs(t, err, errTornWrite)
}

func TestStatReportsChunks(t *testing.T) {
	l := testLog(t, DefaultMaxChunkSize)
	_, err := l.Append([]byte("x"))
	require.NoError(t, err)

	stats := l.Stat()
	require.Len(t, stats, 1)
	require.Equal(t, uint32(1), stats[0].RecordCount)
}
