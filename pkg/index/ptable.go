package index

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ptableEntry is the 24-byte on-disk entry format described in the
// external interfaces: stream-hash(8) | event-number(8) | log-position(8).
type ptableEntry struct {
	streamHash  uint64
	eventNumber int64
	position    int64
}

const ptableEntrySize = 24

func encodePTableEntry(e ptableEntry) [ptableEntrySize]byte {
	var buf [ptableEntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.streamHash)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.eventNumber))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.position))
	return buf
}

func decodePTableEntry(buf []byte) (ptableEntry, error) {
	if len(buf) < ptableEntrySize {
		return ptableEntry{}, fmt.Errorf("index: short ptable entry (%d bytes)", len(buf))
	}
	return ptableEntry{
		streamHash:  binary.LittleEndian.Uint64(buf[0:8]),
		eventNumber: int64(binary.LittleEndian.Uint64(buf[8:16])),
		position:    int64(binary.LittleEndian.Uint64(buf[16:24])),
	}, nil
}

// ptable is an immutable, sorted run of index entries held entirely in
// memory once loaded (bbolt owns the durable bytes; this is the
// queryable decoded form, with a midpoint table for binary search as
// described in the index layout).
type ptable struct {
	generation int
	entries    []ptableEntry // sorted by (streamHash, eventNumber)
	midpoints  []int         // indices into entries, evenly spaced
}

const midpointStride = 64

func newPTable(generation int, entries []ptableEntry) *ptable {
	pt := &ptable{generation: generation, entries: entries}
	for i := 0; i < len(entries); i += midpointStride {
		pt.midpoints = append(pt.midpoints, i)
	}
	return pt
}

// find returns the position for (hash, eventNumber) in this table, or
// false if absent, by one binary search over all sorted entries; the
// midpoint table is not consulted.
func (pt *ptable) find(hash uint64, eventNumber int64) (int64, bool) {
	target := entryKey{hash: hash, eventNumber: eventNumber}
	n := len(pt.entries)
	i := sort.Search(n, func(i int) bool {
		e := pt.entries[i]
		return !entryKey{e.streamHash, e.eventNumber}.less(target)
	})
	if i < n && pt.entries[i].streamHash == hash && pt.entries[i].eventNumber == eventNumber {
		return pt.entries[i].position, true
	}
	return 0, false
}

// rangeByHash returns every entry for the given stream hash, in
// ascending event-number order.
func (pt *ptable) rangeByHash(hash uint64) []ptableEntry {
	n := len(pt.entries)
	start := sort.Search(n, func(i int) bool { return pt.entries[i].streamHash >= hash })
	var out []ptableEntry
	for i := start; i < n && pt.entries[i].streamHash == hash; i++ {
		out = append(out, pt.entries[i])
	}
	return out
}

// mergePTables performs a k-way merge of entries from multiple
// generations, keeping only the entry surviving the supplied predicate
// (used to discard hard-deleted streams and truncated-before entries),
// and returns a single new sorted run.
func mergePTables(tables []*ptable, keep func(hash uint64, eventNumber int64, position int64) bool) []ptableEntry {
	var all []ptableEntry
	for _, t := range tables {
		all = append(all, t.entries...)
	}
	sort.Slice(all, func(i, j int) bool {
		return entryKey{all[i].streamHash, all[i].eventNumber}.less(entryKey{all[j].streamHash, all[j].eventNumber})
	})
	out := all[:0]
	for _, e := range all {
		if keep == nil || keep(e.streamHash, e.eventNumber, e.position) {
			out = append(out, e)
		}
	}
	return out
}
