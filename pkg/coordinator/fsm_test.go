package coordinator

import (
	"testing"

	"github.com/cuemby/eventstore/pkg/bus"
	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) *CoordinatorFSM {
	t.Helper()
	log, err := txlog.Open(txlog.Config{Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	idx, err := index.Open(index.Config{DataDir: t.TempDir()}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	broker := bus.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewCoordinatorFSM(log, idx, broker)
}

func applyAppendCmd(t *testing.T, fsm *CoordinatorFSM, cmd AppendCommand) *AppendResult {
	t.Helper()
	raw, err := marshalCommand(opAppend, cmd)
	require.NoError(t, err)
	resp := fsm.Apply(&raft.Log{Data: raw})
	result, ok := resp.(*AppendResult)
	require.True(t, ok, "expected *AppendResult, got %T", resp)
	return result
}

func TestAppendToNewStream(t *testing.T) {
	fsm := newTestFSM(t)

	result := applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "orders-1",
		ExpectedVersion: types.NoStream,
		Events:          []types.ProposedEvent{{ID: uuid.New(), Type: "OrderPlaced"}},
	})

	require.NoError(t, result.Err)
	require.Equal(t, types.ExactVersion(0), result.FirstEventNumber)
}

func TestAppendWrongExpectedVersion(t *testing.T) {
	fsm := newTestFSM(t)

	applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "orders-1",
		ExpectedVersion: types.NoStream,
		Events:          []types.ProposedEvent{{ID: uuid.New()}},
	})

	result := applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "orders-1",
		ExpectedVersion: types.NoStream,
		Events:          []types.ProposedEvent{{ID: uuid.New()}},
	})

	require.ErrorIs(t, result.Err, types.ErrWrongExpectedVersion)
}

func TestAppendExactVersionAdvances(t *testing.T) {
	fsm := newTestFSM(t)

	applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "orders-1",
		ExpectedVersion: types.NoStream,
		Events:          []types.ProposedEvent{{ID: uuid.New()}},
	})

	result := applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "orders-1",
		ExpectedVersion: types.ExactVersion(0),
		Events:          []types.ProposedEvent{{ID: uuid.New()}},
	})

	require.NoError(t, result.Err)
	require.Equal(t, types.ExactVersion(1), result.FirstEventNumber)
}

func TestIdempotentReplayAtExactVersion(t *testing.T) {
	fsm := newTestFSM(t)

	id1, id2 := uuid.New(), uuid.New()
	events := []types.ProposedEvent{{ID: id1}, {ID: id2}}

	first := applyAppendCmd(t, fsm, AppendCommand{StreamID: "s", ExpectedVersion: types.NoStream, Events: events})
	require.NoError(t, first.Err)

	second := applyAppendCmd(t, fsm, AppendCommand{StreamID: "s", ExpectedVersion: types.NoStream, Events: events})
	require.NoError(t, second.Err)
	require.Equal(t, first.Position, second.Position)
	require.Equal(t, first.FirstEventNumber, second.FirstEventNumber)
}

func TestIdempotentReplayAtAny(t *testing.T) {
	fsm := newTestFSM(t)

	id1, id2 := uuid.New(), uuid.New()
	events := []types.ProposedEvent{{ID: id1}, {ID: id2}}

	first := applyAppendCmd(t, fsm, AppendCommand{StreamID: "s", ExpectedVersion: types.Any, Events: events})
	require.NoError(t, first.Err)

	// Replaying the stream's most recent event is recognized.
	second := applyAppendCmd(t, fsm, AppendCommand{StreamID: "s", ExpectedVersion: types.Any, Events: []types.ProposedEvent{{ID: id2}}})
	require.NoError(t, second.Err)
	require.Equal(t, first.Position, second.Position)
	require.Equal(t, first.FirstEventNumber, second.FirstEventNumber)

	// A longer batch that only starts with it is a partial replay.
	partial := applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "s",
		ExpectedVersion: types.Any,
		Events:          []types.ProposedEvent{{ID: id2}, {ID: uuid.New()}},
	})
	require.ErrorIs(t, partial.Err, types.ErrWrongExpectedVersion)

	third := applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "s",
		ExpectedVersion: types.Any,
		Events:          []types.ProposedEvent{{ID: uuid.New()}},
	})
	require.NoError(t, third.Err)
	require.NotEqual(t, first.Position, third.Position)
}

func TestAppendToTombstonedStreamFails(t *testing.T) {
	fsm := newTestFSM(t)
	require.NoError(t, fsm.index.MarkDeleted("gone", true))

	result := applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "gone",
		ExpectedVersion: types.Any,
		Events:          []types.ProposedEvent{{ID: uuid.New()}},
	})

	require.ErrorIs(t, result.Err, types.ErrStreamDeleted)
}

func TestStreamExistsAgainstMissingStreamConflicts(t *testing.T) {
	fsm := newTestFSM(t)

	result := applyAppendCmd(t, fsm, AppendCommand{
		StreamID:        "missing",
		ExpectedVersion: types.StreamExists,
		Events:          []types.ProposedEvent{{ID: uuid.New()}},
	})

	require.ErrorIs(t, result.Err, types.ErrWrongExpectedVersion)
}
