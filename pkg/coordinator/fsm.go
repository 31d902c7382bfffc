package coordinator

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/eventstore/pkg/bus"
	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

// CoordinatorFSM is the raft finite state machine that serializes every
// append through a single Apply call, giving it sole ownership of the
// log's writable tail and the stream-tail map.
type CoordinatorFSM struct {
	mu sync.Mutex

	log   *txlog.Log
	index *index.Index
	bus   *bus.Broker

	// lastBatch remembers the most recently committed batch per stream
	// for idempotent-replay detection; not persisted directly, but
	// rebuilt from Snapshot/Restore.
	lastBatch map[string]types.LastBatch
}

// NewCoordinatorFSM builds an FSM wired to the given log, index, and
// commit bus, the three collaborators Apply drives on every append.
func NewCoordinatorFSM(log *txlog.Log, idx *index.Index, broker *bus.Broker) *CoordinatorFSM {
	return &CoordinatorFSM{
		log:       log,
		index:     idx,
		bus:       broker,
		lastBatch: make(map[string]types.LastBatch),
	}
}

// Apply is raft's single entry point into the coordinator's state. It
// decodes a Command and dispatches by Op; an AppendCommand performs
// the full expected-version check, log append, index insert, and
// commit-bus publish as one serialized step.
func (f *CoordinatorFSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return &AppendResult{Err: fmt.Errorf("coordinator: decode command: %w", err)}
	}

	switch cmd.Op {
	case opAppend:
		var ac AppendCommand
		if err := json.Unmarshal(cmd.Data, &ac); err != nil {
			return &AppendResult{Err: err}
		}
		return f.applyAppend(ac)
	case opMarkDeleted:
		var mc MarkDeletedCommand
		if err := json.Unmarshal(cmd.Data, &mc); err != nil {
			return err
		}
		return f.index.MarkDeleted(mc.StreamID, mc.Hard)
	case opSetMetadata:
		var sc SetMetadataCommand
		if err := json.Unmarshal(cmd.Data, &sc); err != nil {
			return err
		}
		return f.index.SetStreamMetadata(sc.StreamID, sc.Metadata)
	default:
		return fmt.Errorf("coordinator: unknown command op %q", cmd.Op)
	}
}

// applyAppend is the expected-version table and idempotency rule from
// the append coordinator's contract, executed under f.mu so the
// stream-tail check and the physical append are atomic with respect to
// concurrent Apply calls (raft already serializes Apply, but f.mu also
// guards lastBatch against direct reads from Coordinator helpers).
func (f *CoordinatorFSM) applyAppend(cmd AppendCommand) *AppendResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	streamID := cmd.StreamID
	tombstoned, err := f.index.IsTombstoned(streamID)
	if err != nil {
		return &AppendResult{Err: err}
	}
	if tombstoned {
		return &AppendResult{Err: types.ErrStreamDeleted}
	}

	currentTail := f.index.Tail(streamID)
	ids := make([]uuid.UUID, len(cmd.Events))
	for i, e := range cmd.Events {
		ids[i] = e.ID
	}

	ok, replay := checkExpectedVersion(cmd.ExpectedVersion, currentTail, f.lastBatch[streamID], ids)
	if replay != nil {
		return &AppendResult{Position: replay.Position, FirstEventNumber: replay.FirstEventNumber}
	}
	if !ok {
		return &AppendResult{Err: types.NewWrongExpectedVersion(streamID, cmd.ExpectedVersion, currentTail)}
	}

	firstEventNumber := currentTail + 1
	if currentTail == types.NoStream {
		firstEventNumber = 0
	}

	var lastPos types.LogPosition
	now := time.Now().UTC()
	for i, pe := range cmd.Events {
		eventNumber := firstEventNumber + types.EventNumber(i)
		flags := txlog.PrepareFlags(0)
		if pe.IsJSON {
			flags |= txlog.FlagIsJSON
		}
		payload := txlog.EncodePrepare(txlog.PrepareRecord{
			StreamID:    streamID,
			EventNumber: eventNumber,
			EventID:     pe.ID,
			Flags:       flags,
			EventType:   pe.Type,
			CreatedAt:   now,
			Data:        pe.Data,
			Metadata:    pe.Metadata,
		})
		pos, err := f.log.Append(payload)
		if err != nil {
			return &AppendResult{Err: fmt.Errorf("%w: %v", types.ErrCommitTimeout, err)}
		}
		f.index.Insert(streamID, eventNumber, pos)
		lastPos = pos

		f.bus.Publish(&bus.Committed{
			Event: types.Event{
				ID:          pe.ID,
				StreamID:    streamID,
				EventNumber: eventNumber,
				Type:        pe.Type,
				IsJSON:      pe.IsJSON,
				Data:        pe.Data,
				Metadata:    pe.Metadata,
				CreatedAt:   now,
				Position:    pos,
			},
			Position:         pos,
			FirstEventNumber: firstEventNumber,
		})
	}

	f.lastBatch[streamID] = types.LastBatch{FirstEventNumber: firstEventNumber, EventIDs: ids, Position: lastPos}

	return &AppendResult{Position: lastPos, FirstEventNumber: firstEventNumber}
}

// checkExpectedVersion implements the expected-version table of
// §4.C. ok is true when the append should proceed at currentTail+1; a
// non-nil *AppendResult return means the batch is an idempotent replay
// and no new append should happen.
func checkExpectedVersion(expected, currentTail types.EventNumber, last types.LastBatch, ids []uuid.UUID) (ok bool, replay *AppendResult) {
	switch {
	case expected == types.Any:
		if len(last.EventIDs) > 0 && len(ids) > 0 && last.EventIDs[len(last.EventIDs)-1] == ids[0] {
			if len(ids) > 1 {
				// Only the first id can be checked; a longer batch that
				// starts with the last committed event is a partial replay.
				return false, nil
			}
			return false, &AppendResult{Position: last.Position, FirstEventNumber: last.FirstEventNumber}
		}
		return true, nil

	case expected == types.NoStream:
		if currentTail == types.NoStream {
			return true, nil
		}
		if eventIDsMatch(last.EventIDs, ids) {
			return false, &AppendResult{Position: last.Position, FirstEventNumber: last.FirstEventNumber}
		}
		return false, nil

	case expected == types.StreamExists:
		if currentTail != types.NoStream {
			return true, nil
		}
		return false, nil

	default: // ExactVersion(n)
		if currentTail == expected {
			return true, nil
		}
		if eventIDsMatch(last.EventIDs, ids) {
			return false, &AppendResult{Position: last.Position, FirstEventNumber: last.FirstEventNumber}
		}
		return false, nil
	}
}

// Snapshot captures every stream's last-appended batch so idempotency
// detection survives a restart; the log and index have their own
// durability and are not part of this snapshot.
func (f *CoordinatorFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshotCopy := make(map[string]types.LastBatch, len(f.lastBatch))
	for k, v := range f.lastBatch {
		snapshotCopy[k] = v
	}
	return &fsmSnapshot{LastBatch: snapshotCopy}, nil
}

// Restore replaces the in-memory lastBatch map from a prior snapshot.
func (f *CoordinatorFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("coordinator: decode snapshot: %w", err)
	}
	f.mu.Lock()
	f.lastBatch = snap.LastBatch
	f.mu.Unlock()
	return nil
}

type fsmSnapshot struct {
	LastBatch map[string]types.LastBatch `json:"last_batch"`
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	enc, err := json.Marshal(s)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(enc); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
