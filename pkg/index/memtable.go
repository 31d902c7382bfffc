package index

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/cuemby/eventstore/pkg/types"
)

// streamHash returns the 64-bit FNV-1a hash of a stream name used as
// the first component of every memtable/PTable key.
func streamHash(streamID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(streamID))
	return h.Sum64()
}

// entryKey orders memtable entries by (stream-hash, event-number),
// matching PTable entry order so a flush is already sorted.
type entryKey struct {
	hash        uint64
	eventNumber int64
}

func (a entryKey) less(b entryKey) bool {
	if a.hash != b.hash {
		return a.hash < b.hash
	}
	return a.eventNumber < b.eventNumber
}

// memtable is the in-memory, mutable tier of the stream index.
// entries holds every (stream-hash, event-number) -> position mapping
// inserted since the last flush; names records the stream names seen
// per hash, but lookups do not consult it (Index.Lookup verifies names
// through the log).
type memtable struct {
	mu      sync.RWMutex
	entries map[entryKey]types.LogPosition
	names   map[uint64]map[string]struct{}
}

func newMemtable() *memtable {
	return &memtable{
		entries: make(map[entryKey]types.LogPosition),
		names:   make(map[uint64]map[string]struct{}),
	}
}

func (m *memtable) insert(streamID string, eventNumber types.EventNumber, pos types.LogPosition) {
	h := streamHash(streamID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entryKey{hash: h, eventNumber: int64(eventNumber)}] = pos
	if m.names[h] == nil {
		m.names[h] = make(map[string]struct{})
	}
	m.names[h][streamID] = struct{}{}
}

func (m *memtable) lookup(streamID string, eventNumber types.EventNumber) (types.LogPosition, bool) {
	h := streamHash(streamID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.entries[entryKey{hash: h, eventNumber: int64(eventNumber)}]
	return pos, ok
}

// tail returns the highest event number recorded for streamID in the
// memtable, or false if the memtable holds nothing for it.
func (m *memtable) tail(streamID string) (types.EventNumber, bool) {
	h := streamHash(streamID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := types.EventNumber(-1)
	found := false
	for k := range m.entries {
		if k.hash == h && k.eventNumber > int64(max) {
			max = types.EventNumber(k.eventNumber)
			found = true
		}
	}
	return max, found
}

// snapshotEntries returns every entry sorted by (stream-hash,
// event-number), ready to be written out as a new PTable generation.
func (m *memtable) snapshotEntries() []ptableEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ptableEntry, 0, len(m.entries))
	for k, pos := range m.entries {
		out = append(out, ptableEntry{streamHash: k.hash, eventNumber: k.eventNumber, position: pos.Commit})
	}
	sort.Slice(out, func(i, j int) bool {
		return entryKey{out[i].streamHash, out[i].eventNumber}.less(entryKey{out[j].streamHash, out[j].eventNumber})
	})
	return out
}

func (m *memtable) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *memtable) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[entryKey]types.LogPosition)
	m.names = make(map[uint64]map[string]struct{})
}
