package index

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/rs/zerolog"
)

// MergeThreshold is the PTable generation count above which a
// background merge is triggered.
const MergeThreshold = 4

// Direction selects ascending or descending order for Range.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Resolver dereferences a LogPosition to the stream-id recorded there,
// used to disambiguate stream-hash collisions. pkg/txlog.Log satisfies
// this via a small adapter in pkg/server.
type Resolver interface {
	StreamIDAt(pos types.LogPosition) (string, error)
}

// Index is the stream index: the two-tier memtable + PTable structure
// mapping (stream, event-number) to LogPosition, plus per-stream tail
// and metadata bookkeeping.
type Index struct {
	mu sync.RWMutex

	store    *boltStore
	resolver Resolver
	log      zerolog.Logger

	mem    *memtable
	tables []*ptable // immutable snapshot of on-disk generations
	nextGeneration int

	tails map[string]types.EventNumber
}

// Config configures an Index's on-disk location.
type Config struct {
	DataDir string
}

// Open opens (creating if necessary) the bbolt-backed index store at
// cfg.DataDir and loads its manifest.
func Open(cfg Config, resolver Resolver, log zerolog.Logger) (*Index, error) {
	store, err := openBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	tables, err := store.loadManifest()
	if err != nil {
		store.close()
		return nil, err
	}
	maxGen := -1
	for _, t := range tables {
		if t.generation > maxGen {
			maxGen = t.generation
		}
	}
	idx := &Index{
		store:          store,
		resolver:       resolver,
		log:            log,
		mem:            newMemtable(),
		tables:         tables,
		nextGeneration: maxGen + 1,
		tails:          make(map[string]types.EventNumber),
	}
	return idx, nil
}

// Insert records that (streamID, eventNumber) committed at pos, and
// advances the in-memory tail for streamID.
func (idx *Index) Insert(streamID string, eventNumber types.EventNumber, pos types.LogPosition) {
	idx.mu.Lock()
	idx.tails[streamID] = eventNumber
	idx.mu.Unlock()

	idx.mem.insert(streamID, eventNumber, pos)

	if idx.mem.size() > 0 && idx.mem.size()%4096 == 0 {
		if err := idx.flushMemtable(); err != nil {
			idx.log.Error().Err(err).Msg("index: flush memtable failed")
		}
	}
}

// Lookup returns the LogPosition committed for (streamID, eventNumber),
// or types.ErrNotFound if no such entry exists.
func (idx *Index) Lookup(streamID string, eventNumber types.EventNumber) (types.LogPosition, error) {
	if pos, ok := idx.mem.lookup(streamID, eventNumber); ok {
		if idx.resolver == nil {
			return pos, nil
		}
		// On a hash collision fall through to the PTables.
		if actual, err := idx.resolver.StreamIDAt(pos); err != nil || actual == streamID {
			return pos, nil
		}
	}

	idx.mu.RLock()
	tables := idx.tables
	idx.mu.RUnlock()

	h := streamHash(streamID)
	// Search newest-first so the most recent generation's entry wins if
	// somehow duplicated across generations.
	for i := len(tables) - 1; i >= 0; i-- {
		if posRaw, ok := tables[i].find(h, int64(eventNumber)); ok {
			pos := types.LogPosition{Commit: posRaw, Prepare: posRaw}
			if idx.resolver != nil {
				actual, err := idx.resolver.StreamIDAt(pos)
				if err == nil && actual != streamID {
					continue // hash collision, keep searching
				}
			}
			return pos, nil
		}
	}
	return types.LogPosition{}, types.ErrNotFound
}

// Tail returns the current tail event number for streamID, or
// types.NoStream if the stream has never been written.
func (idx *Index) Tail(streamID string) types.EventNumber {
	idx.mu.RLock()
	if t, ok := idx.tails[streamID]; ok {
		idx.mu.RUnlock()
		return t
	}
	idx.mu.RUnlock()

	if t, ok := idx.mem.tail(streamID); ok {
		return t
	}

	idx.mu.RLock()
	tables := idx.tables
	idx.mu.RUnlock()
	h := streamHash(streamID)
	max := types.NoStream
	for _, t := range tables {
		for _, e := range t.rangeByHash(h) {
			if types.EventNumber(e.eventNumber) > max {
				max = types.EventNumber(e.eventNumber)
			}
		}
	}
	return max
}

// RangeEntry is one (event-number, position) pair returned by Range.
type RangeEntry struct {
	EventNumber types.EventNumber
	Position    types.LogPosition
}

// Range returns up to count index entries for streamID starting at
// from, in the given direction.
func (idx *Index) Range(streamID string, from types.EventNumber, count int, dir Direction) ([]RangeEntry, error) {
	h := streamHash(streamID)

	idx.mu.RLock()
	tables := idx.tables
	idx.mu.RUnlock()

	seen := make(map[int64]int64)
	for _, t := range tables {
		for _, e := range t.rangeByHash(h) {
			seen[e.eventNumber] = e.position
		}
	}
	idx.mem.mu.RLock()
	for k, pos := range idx.mem.entries {
		if k.hash == h {
			seen[k.eventNumber] = pos.Commit
		}
	}
	idx.mem.mu.RUnlock()

	var nums []int64
	for n := range seen {
		nums = append(nums, n)
	}
	sortInt64s(nums, dir == Forward)

	var out []RangeEntry
	for _, n := range nums {
		if dir == Forward && n < int64(from) {
			continue
		}
		if dir == Backward && n > int64(from) {
			continue
		}
		out = append(out, RangeEntry{EventNumber: types.EventNumber(n), Position: types.LogPosition{Commit: seen[n], Prepare: seen[n]}})
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

func sortInt64s(s []int64, ascending bool) {
	less := func(i, j int) bool { return s[i] < s[j] }
	if !ascending {
		less = func(i, j int) bool { return s[i] > s[j] }
	}
	// simple insertion sort is adequate: per-stream entry counts are small
	// relative to the whole index, and callers bound count anyway.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// MarkDeleted tombstones (hard=true) or soft-truncates a stream's
// metadata. Hard-deleted streams fail all future appends and reads
// with StreamDeleted at the Reader/Coordinator layer.
func (idx *Index) MarkDeleted(streamID string, hard bool) error {
	rec, _, err := idx.store.getStreamMetadata(streamID)
	if err != nil {
		return err
	}
	if hard {
		rec.Tombstoned = true
	} else {
		rec.TruncateBefore = int64(idx.Tail(streamID)) + 1
	}
	rec.Version++
	return idx.store.putStreamMetadata(streamID, rec)
}

// StreamMetadata returns the persisted metadata for streamID.
func (idx *Index) StreamMetadata(streamID string) (types.StreamMetadata, bool, error) {
	rec, found, err := idx.store.getStreamMetadata(streamID)
	if err != nil || !found {
		return types.StreamMetadata{}, found, err
	}
	md := types.StreamMetadata{
		TruncateBefore: types.EventNumber(rec.TruncateBefore),
		Version:        rec.Version,
	}
	if rec.MaxAgeSeconds > 0 {
		d := time.Duration(rec.MaxAgeSeconds) * time.Second
		md.MaxAge = &d
	}
	if rec.MaxCount > 0 {
		md.MaxCount = &rec.MaxCount
	}
	return md, true, nil
}

// IsTombstoned reports whether streamID has been hard-deleted.
func (idx *Index) IsTombstoned(streamID string) (bool, error) {
	rec, found, err := idx.store.getStreamMetadata(streamID)
	if err != nil || !found {
		return false, err
	}
	return rec.Tombstoned, nil
}

// SetStreamMetadata persists md for streamID, preserving the tombstone
// flag.
func (idx *Index) SetStreamMetadata(streamID string, md types.StreamMetadata) error {
	rec, _, err := idx.store.getStreamMetadata(streamID)
	if err != nil {
		return err
	}
	rec.TruncateBefore = int64(md.TruncateBefore)
	if md.MaxAge != nil {
		rec.MaxAgeSeconds = int64(*md.MaxAge / time.Second)
	}
	if md.MaxCount != nil {
		rec.MaxCount = *md.MaxCount
	}
	rec.Version = md.Version
	return idx.store.putStreamMetadata(streamID, rec)
}

// flushMemtable writes the memtable's current contents out as a new
// PTable generation and clears it, triggering a merge if the
// generation count now exceeds MergeThreshold.
func (idx *Index) flushMemtable() error {
	entries := idx.mem.snapshotEntries()
	if len(entries) == 0 {
		return nil
	}

	idx.mu.Lock()
	gen := idx.nextGeneration
	idx.nextGeneration++
	idx.mu.Unlock()

	if err := idx.store.persistPTable(gen, entries); err != nil {
		return fmt.Errorf("index: persist ptable %d: %w", gen, err)
	}

	idx.mu.Lock()
	idx.tables = append(idx.tables, newPTable(gen, entries))
	tableCount := len(idx.tables)
	idx.mu.Unlock()

	idx.mem.clear()

	if tableCount > MergeThreshold {
		go idx.mergeBackground()
	}
	return nil
}

// mergeBackground performs a k-way merge of all current PTable
// generations, discarding entries belonging to hard-deleted streams or
// below a stream's truncate-before watermark, then swaps the manifest.
func (idx *Index) mergeBackground() {
	idx.mu.RLock()
	tables := append([]*ptable(nil), idx.tables...)
	idx.mu.RUnlock()

	metaCache := make(map[string]streamMetadataRecord)
	keep := func(hash uint64, eventNumber int64, position int64) bool {
		if idx.resolver == nil {
			return true
		}
		streamID, err := idx.resolver.StreamIDAt(types.LogPosition{Commit: position, Prepare: position})
		if err != nil {
			// Position no longer resolves to a record we can read back;
			// keep the entry rather than risk discarding live data.
			return true
		}
		rec, ok := metaCache[streamID]
		if !ok {
			rec, _, err = idx.store.getStreamMetadata(streamID)
			if err != nil {
				return true
			}
			metaCache[streamID] = rec
		}
		if rec.Tombstoned {
			return false
		}
		return eventNumber >= rec.TruncateBefore
	}

	merged := mergePTables(tables, keep)
	oldGenerations := make([]int, len(tables))
	for i, t := range tables {
		oldGenerations[i] = t.generation
	}

	idx.mu.Lock()
	newGen := idx.nextGeneration
	idx.nextGeneration++
	idx.mu.Unlock()

	if err := idx.store.swapManifest(oldGenerations, newGen, merged); err != nil {
		idx.log.Error().Err(err).Msg("index: ptable merge failed")
		return
	}

	idx.mu.Lock()
	idx.tables = []*ptable{newPTable(newGen, merged)}
	idx.mu.Unlock()
}

// Checkpoint persists the log position up to which the index is known
// consistent, used on restart to resume a log-ahead-of-index repair
// scan from the right place instead of from the start of the log.
func (idx *Index) Checkpoint(pos types.LogPosition) error {
	return idx.store.putCheckpoint(pos.Commit)
}

// LastCheckpoint returns the most recently persisted checkpoint
// position, or -1 if none has ever been recorded.
func (idx *Index) LastCheckpoint() (int64, error) {
	return idx.store.getCheckpoint()
}

func (idx *Index) Close() error {
	return idx.store.close()
}

// StreamCount reports the number of distinct streams inserted into
// since Open, an approximation used for monitoring: streams known only
// from PTables written before a restart are not counted.
func (idx *Index) StreamCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.tails)
}
