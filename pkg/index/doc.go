/*
Package index implements the stream index: the structure mapping
(stream-id, event-number) to a LogPosition in the transaction log, and
each stream's current tail.

# Architecture

	┌─────────────────────────── STREAM INDEX ───────────────────────────┐
	│                                                                      │
	│  ┌────────────────────────────────────────────┐                    │
	│  │                Memtable                      │                    │
	│  │  - In-memory sorted map                      │                    │
	│  │  - Key: (stream-hash, event-number)          │                    │
	│  │  - Value: LogPosition                        │                    │
	│  │  - Also records stream names seen per hash   │                    │
	│  │    (not consulted by lookups)                │                    │
	│  └──────────────────┬───────────────────────────┘                   │
	│                     │ background merge when PTable count > threshold │
	│  ┌──────────────────▼───────────────────────────┐                   │
	│  │                PTables                        │                   │
	│  │  - Immutable sorted runs of 24-byte entries   │                   │
	│  │  - stream-hash(8) | event-number(8) | pos(8)  │                   │
	│  │  - Persisted in a bbolt bucket per generation │                   │
	│  └──────────────────┬───────────────────────────┘                   │
	│                     │                                                │
	│  ┌──────────────────▼───────────────────────────┐                   │
	│  │               Manifest                        │                   │
	│  │  - Lists active PTable generations            │                   │
	│  │  - Swapped atomically in one bbolt transaction │                  │
	│  │    after a merge produces new PTables          │                  │
	│  └────────────────────────────────────────────────┘                  │
	└──────────────────────────────────────────────────────────────────────┘

# Core Components

Memtable:
  - Holds the most recently inserted entries, sorted by (stream-hash, event-number)
  - Flushed into a new PTable generation once it crosses a size threshold

PTable:
  - Sorted, immutable run of index entries for a range of log positions
  - Looked up via binary search over its sorted entries (the midpoint
    table is built but not consulted)

Manifest:
  - The bbolt-backed source of truth for which PTable generations are live
  - A merge produces new PTables, then swaps the manifest in one transaction

# Transaction Model

Reads: bbolt read-only transactions (db.View), concurrent and snapshot-isolated.
Writes: memtable inserts are in-process and mutex-guarded; PTable/manifest
writes go through bbolt write transactions (db.Update), serialized by bbolt.

# Hash Collisions

stream-hash is a 64-bit FNV-1a hash of the stream name. Because collisions
are possible, Lookup verifies the candidate entry's actual stream name
by dereferencing the log record at its LogPosition before returning it
(when the index was opened with a Resolver); on mismatch the search
continues in the PTables, newest generation first. Tail and Range match
on the hash alone.

# Invariants

For every committed event in the log, exactly one index entry exists or
will exist after crash recovery. A PTable merge never produces an index
checkpoint ahead of the log it describes; log-ahead-of-index is repaired
on startup by re-scanning the log from the last index checkpoint forward.

# See Also

  - pkg/txlog for the log records PTable entries point at
  - pkg/coordinator, the index's only writer
  - pkg/reader, the index's primary reader
*/
package index
