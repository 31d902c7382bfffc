package reader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
)

// Reader serves point and range reads over the transaction log and
// stream index. It holds no mutable state of its own.
type Reader struct {
	log   *txlog.Log
	index *index.Index
}

// New builds a Reader over the given log and index.
func New(log *txlog.Log, idx *index.Index) *Reader {
	return &Reader{log: log, index: idx}
}

// EventResult is the outcome of ReadEvent.
type EventResult struct {
	Event      types.Event
	Found      bool
	NoStream   bool
	Deleted    bool
	IsResolved bool
}

// ReadEvent reads a single event by (stream, event-number), optionally
// resolving a $> link event to its target.
func (r *Reader) ReadEvent(streamID string, eventNumber types.EventNumber, resolveLinks bool) (EventResult, error) {
	tombstoned, err := r.index.IsTombstoned(streamID)
	if err != nil {
		return EventResult{}, err
	}
	if tombstoned {
		return EventResult{Deleted: true}, nil
	}

	if r.index.Tail(streamID) == types.NoStream {
		return EventResult{NoStream: true}, nil
	}

	pos, err := r.index.Lookup(streamID, eventNumber)
	if err != nil {
		if err == types.ErrNotFound {
			return EventResult{Found: false}, nil
		}
		return EventResult{}, err
	}

	ev, err := r.readEventAt(pos)
	if err != nil {
		return EventResult{}, err
	}

	if !r.visibleUnderMetadata(streamID, ev.EventNumber, ev.CreatedAt) {
		return EventResult{Found: false}, nil
	}

	if resolveLinks && ev.Type == linkEventType {
		return r.resolveLink(ev)
	}
	return EventResult{Event: ev, Found: true, IsResolved: true}, nil
}

const linkEventType = "$>"

// resolveLink parses a $> event's data as "<number>@<stream>" and
// substitutes the target event.
func (r *Reader) resolveLink(link types.Event) (EventResult, error) {
	target, ok := parseLink(string(link.Data))
	if !ok {
		return EventResult{Event: link, Found: true, IsResolved: false}, nil
	}
	targetResult, err := r.ReadEvent(target.stream, target.number, false)
	if err != nil {
		return EventResult{}, err
	}
	if !targetResult.Found {
		return EventResult{Event: link, Found: true, IsResolved: false}, nil
	}
	return EventResult{Event: targetResult.Event, Found: true, IsResolved: true}, nil
}

type linkTarget struct {
	number types.EventNumber
	stream string
}

func parseLink(data string) (linkTarget, bool) {
	at := strings.IndexByte(data, '@')
	if at < 0 {
		return linkTarget{}, false
	}
	n, err := strconv.ParseInt(data[:at], 10, 64)
	if err != nil {
		return linkTarget{}, false
	}
	return linkTarget{number: types.EventNumber(n), stream: data[at+1:]}, true
}

func (r *Reader) readEventAt(pos types.LogPosition) (types.Event, error) {
	payload, err := r.log.Read(pos)
	if err != nil {
		return types.Event{}, fmt.Errorf("reader: read record at %d: %w", pos.Commit, err)
	}
	p, err := txlog.DecodePrepare(payload)
	if err != nil {
		return types.Event{}, fmt.Errorf("reader: decode record at %d: %w", pos.Commit, err)
	}
	return types.Event{
		ID:          p.EventID,
		StreamID:    p.StreamID,
		EventNumber: p.EventNumber,
		Type:        p.EventType,
		IsJSON:      p.Flags&txlog.FlagIsJSON != 0,
		Data:        p.Data,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		Position:    pos,
	}, nil
}

// visibleUnderMetadata applies truncate-before (taking precedence over
// max-count when both would exclude an event, per the resolved open
// question) and max-age.
func (r *Reader) visibleUnderMetadata(streamID string, eventNumber types.EventNumber, createdAt time.Time) bool {
	md, found, err := r.index.StreamMetadata(streamID)
	if err != nil || !found {
		return true
	}
	if eventNumber < md.TruncateBefore {
		return false
	}
	if md.MaxAge != nil && time.Since(createdAt) > *md.MaxAge {
		return false
	}
	if md.MaxCount != nil {
		tail := r.index.Tail(streamID)
		if tail.IsExact() && int64(tail)-int64(eventNumber) >= *md.MaxCount {
			return false
		}
	}
	return true
}

// StreamSlice is the bounded result of ReadStreamForward/Backward.
type StreamSlice struct {
	Events          []types.Event
	NextEventNumber types.EventNumber
	IsEndOfStream   bool
	TailAtRead      types.EventNumber
	Deleted         bool
}

// ReadStreamForward reads up to count events from streamID starting at
// from, in ascending event-number order.
func (r *Reader) ReadStreamForward(streamID string, from types.EventNumber, count int, resolveLinks bool) (StreamSlice, error) {
	return r.readStream(streamID, from, count, index.Forward, resolveLinks)
}

// ReadStreamBackward reads up to count events from streamID starting at
// from, in descending event-number order.
func (r *Reader) ReadStreamBackward(streamID string, from types.EventNumber, count int, resolveLinks bool) (StreamSlice, error) {
	return r.readStream(streamID, from, count, index.Backward, resolveLinks)
}

func (r *Reader) readStream(streamID string, from types.EventNumber, count int, dir index.Direction, resolveLinks bool) (StreamSlice, error) {
	tombstoned, err := r.index.IsTombstoned(streamID)
	if err != nil {
		return StreamSlice{}, err
	}
	if tombstoned {
		return StreamSlice{Deleted: true}, nil
	}

	tail := r.index.Tail(streamID)
	if tail == types.NoStream {
		return StreamSlice{IsEndOfStream: true, TailAtRead: tail, NextEventNumber: from}, nil
	}
	if dir == index.Forward && from > tail {
		return StreamSlice{IsEndOfStream: true, TailAtRead: tail, NextEventNumber: from}, nil
	}

	entries, err := r.index.Range(streamID, from, count, dir)
	if err != nil {
		return StreamSlice{}, err
	}

	slice := StreamSlice{TailAtRead: tail}
	for _, e := range entries {
		ev, err := r.readEventAt(e.Position)
		if err != nil {
			return StreamSlice{}, err
		}
		if !r.visibleUnderMetadata(streamID, ev.EventNumber, ev.CreatedAt) {
			continue
		}
		if resolveLinks && ev.Type == linkEventType {
			resolved, err := r.resolveLink(ev)
			if err != nil {
				return StreamSlice{}, err
			}
			if resolved.Found {
				ev = resolved.Event
			}
		}
		slice.Events = append(slice.Events, ev)
	}

	if dir == index.Forward {
		if len(entries) < count || (len(entries) > 0 && entries[len(entries)-1].EventNumber >= tail) {
			slice.IsEndOfStream = true
			slice.NextEventNumber = tail + 1
		} else {
			slice.NextEventNumber = entries[len(entries)-1].EventNumber + 1
		}
	} else {
		if len(entries) == 0 || entries[len(entries)-1].EventNumber == 0 {
			slice.IsEndOfStream = true
		} else {
			slice.NextEventNumber = entries[len(entries)-1].EventNumber - 1
		}
	}

	return slice, nil
}

// AllSlice is the bounded result of ReadAllForward/Backward.
type AllSlice struct {
	Events        []types.Event
	NextPosition  types.LogPosition
	IsEndOfStream bool
}

// ReadAllForward scans the global log forward from position, returning
// up to maxCount matches while scanning no more than maxSearchWindow
// records.
func (r *Reader) ReadAllForward(position types.LogPosition, maxCount int, predicate Predicate, maxSearchWindow int) (AllSlice, error) {
	records, err := r.log.ScanForward(position)
	if err != nil {
		return AllSlice{}, err
	}
	return r.collectAll(records, maxCount, predicate, maxSearchWindow, true)
}

// ReadAllBackward scans the global log backward from position.
func (r *Reader) ReadAllBackward(position types.LogPosition, maxCount int, predicate Predicate, maxSearchWindow int) (AllSlice, error) {
	records, err := r.log.ScanBackward(position)
	if err != nil {
		return AllSlice{}, err
	}
	return r.collectAll(records, maxCount, predicate, maxSearchWindow, false)
}

func (r *Reader) collectAll(records []txlog.Record, maxCount int, predicate Predicate, maxSearchWindow int, forward bool) (AllSlice, error) {
	if predicate == nil {
		predicate = func(string, string) bool { return true }
	}

	out := AllSlice{}
	examined := 0
	lastPos := types.ZeroPosition
	for _, rec := range records {
		if maxSearchWindow > 0 && examined >= maxSearchWindow {
			break
		}
		examined++
		lastPos = rec.Position

		typ, err := txlog.PeekType(rec.Payload)
		if err != nil || typ != txlog.RecordPrepare {
			continue
		}
		p, err := txlog.DecodePrepare(rec.Payload)
		if err != nil {
			return AllSlice{}, err
		}
		if !predicate(p.StreamID, p.EventType) {
			continue
		}
		if !r.visibleUnderMetadata(p.StreamID, p.EventNumber, p.CreatedAt) {
			continue
		}
		out.Events = append(out.Events, types.Event{
			ID:          p.EventID,
			StreamID:    p.StreamID,
			EventNumber: p.EventNumber,
			Type:        p.EventType,
			IsJSON:      p.Flags&txlog.FlagIsJSON != 0,
			Data:        p.Data,
			Metadata:    p.Metadata,
			CreatedAt:   p.CreatedAt,
			Position:    rec.Position,
		})
		if len(out.Events) >= maxCount {
			break
		}
	}

	if examined < len(records) {
		// stopped early due to maxCount or maxSearchWindow
		out.NextPosition = lastPos
	} else {
		out.IsEndOfStream = true
		out.NextPosition = lastPos
	}
	_ = forward
	return out, nil
}
