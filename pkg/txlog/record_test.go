package txlog

import (
	"testing"
	"time"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPrepareRoundTrip(t *testing.T) {
	p := PrepareRecord{
		TransactionPosition: 42,
		TransactionOffset:   0,
		StreamID:            "orders-1",
		EventNumber:         types.ExactVersion(3),
		EventID:             uuid.New(),
		Flags:               FlagIsJSON,
		EventType:           "OrderPlaced",
		CreatedAt:           time.Unix(1_700_000_000, 0).UTC(),
		Data:                []byte(`{"ok":true}`),
		Metadata:            []byte(`{"trace":"abc"}`),
	}

	encoded := encodePrepare(p)
	decoded, err := decodePrepare(encoded)
	require.NoError(t, err)

	require.Equal(t, p.StreamID, decoded.StreamID)
	require.Equal(t, p.EventNumber, decoded.EventNumber)
	require.Equal(t, p.EventID, decoded.EventID)
	require.Equal(t, p.Flags, decoded.Flags)
	require.Equal(t, p.EventType, decoded.EventType)
	require.True(t, p.CreatedAt.Equal(decoded.CreatedAt))
	require.Equal(t, p.Data, decoded.Data)
	require.Equal(t, p.Metadata, decoded.Metadata)
}

func TestCommitRoundTrip(t *testing.T) {
	c := CommitRecord{TransactionPosition: 10, FirstEventNumber: types.ExactVersion(7), LogPosition: 99}
	decoded, err := decodeCommit(encodeCommit(c))
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

func TestSystemRoundTrip(t *testing.T) {
	s := SystemRecord{Kind: SystemEpoch, Data: []byte("epoch-1")}
	decoded, err := decodeSystem(encodeSystem(s))
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestPeekType(t *testing.T) {
	p := encodePrepare(PrepareRecord{StreamID: "s", EventID: uuid.New()})
	typ, err := PeekType(p)
	require.NoError(t, err)
	require.Equal(t, RecordPrepare, typ)
}
