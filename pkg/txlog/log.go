package txlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/rs/zerolog"
)

// WriteMode controls when Append's caller-visible acknowledgement is
// allowed to precede an fsync.
type WriteMode int

const (
	// WriteSynchronous flushes before every Append returns.
	WriteSynchronous WriteMode = iota
	// WriteBatched groups acknowledgements behind a single fsync.
	WriteBatched
)

// Config configures a Log's on-disk layout.
type Config struct {
	Dir          string
	MaxChunkSize uint64 // 0 means DefaultMaxChunkSize
	WriteMode    WriteMode
}

// Log is the chunked, append-only transaction log described by the
// chunked log component: a directory of chunk files, with exactly one
// writable active chunk at a time.
type Log struct {
	mu sync.Mutex

	dir          string
	maxChunkSize uint64
	writeMode    WriteMode
	log          zerolog.Logger

	chunks []*chunk // ordered by chunk number; chunks[len-1] is active
	nextPos int64   // next physical "commit" position to hand out

	// RecoveryEvents reports any torn-write truncations found while
	// opening the log, per the out-of-band recovery channel.
	RecoveryEvents chan RecoveryEvent
}

// RecoveryEvent is reported on Log.RecoveryEvents when Open truncates a
// torn write from an unclean shutdown.
type RecoveryEvent struct {
	ChunkNumber     uint32
	DiscardedLength uint64
}

const chunkFilePrefix = "chunk-"

func chunkFileName(number uint32, generation int) string {
	return fmt.Sprintf("%s%06d.%d", chunkFilePrefix, number, generation)
}

// Open opens (creating if necessary) the chunk directory at cfg.Dir,
// recovering the active chunk from any torn trailing write.
func Open(cfg Config, log zerolog.Logger) (*Log, error) {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("txlog: create log dir: %w", err)
	}

	l := &Log{
		dir:            cfg.Dir,
		maxChunkSize:   cfg.MaxChunkSize,
		writeMode:      cfg.WriteMode,
		log:            log,
		RecoveryEvents: make(chan RecoveryEvent, 8),
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("txlog: read log dir: %w", err)
	}

	type found struct {
		number     uint32
		generation int
		name       string
	}
	var names []found
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), chunkFilePrefix) {
			continue
		}
		rest := strings.TrimPrefix(e.Name(), chunkFilePrefix)
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 {
			continue
		}
		num, err1 := strconv.ParseUint(parts[0], 10, 32)
		gen, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		names = append(names, found{number: uint32(num), generation: gen, name: e.Name()})
	}
	sort.Slice(names, func(i, j int) bool { return names[i].number < names[j].number })

	var lastLogical int64
	for i, f := range names {
		c, report, err := openChunk(filepath.Join(cfg.Dir, f.name), cfg.MaxChunkSize)
		if err != nil {
			return nil, fmt.Errorf("txlog: open chunk %s: %w", f.name, err)
		}
		if report.Truncated {
			l.RecoveryEvents <- RecoveryEvent{ChunkNumber: f.number, DiscardedLength: report.DiscardedLength}
			l.log.Warn().Uint32("chunk", f.number).Uint64("discarded_bytes", report.DiscardedLength).
				Msg("txlog: truncated torn write on open")
		}
		l.chunks = append(l.chunks, c)
		lastLogical = c.header.LogicalEnd
		_ = i
	}

	if len(l.chunks) == 0 {
		c, err := createChunk(filepath.Join(cfg.Dir, chunkFileName(0, 0)), 0, 0, cfg.MaxChunkSize)
		if err != nil {
			return nil, err
		}
		l.chunks = append(l.chunks, c)
		lastLogical = 0
	}

	l.nextPos = lastLogical
	return l, nil
}

// Append writes payload as a single record to the active chunk,
// rolling to a new chunk first if there is not enough room, and
// returns the commit position the record was written at.
func (l *Log) Append(payload []byte) (types.LogPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.chunks[len(l.chunks)-1]
	needed := uint64(8 + len(payload))
	if active.spaceRemaining() < needed {
		if err := l.rollLocked(); err != nil {
			return types.LogPosition{}, err
		}
		active = l.chunks[len(l.chunks)-1]
	}

	pos := l.nextPos
	if _, err := active.appendRecord(payload); err != nil {
		return types.LogPosition{}, err
	}
	l.nextPos += int64(len(payload))

	if l.writeMode == WriteSynchronous {
		if err := active.flush(); err != nil {
			return types.LogPosition{}, err
		}
	}

	return types.LogPosition{Commit: pos, Prepare: pos}, nil
}

// rollLocked completes the current active chunk and starts a new one.
// Caller holds l.mu.
func (l *Log) rollLocked() error {
	active := l.chunks[len(l.chunks)-1]
	if err := active.completeChunk(); err != nil {
		return err
	}
	next := active.header.ChunkNumber + 1
	c, err := createChunk(filepath.Join(l.dir, chunkFileName(next, 0)), next, l.nextPos, l.maxChunkSize)
	if err != nil {
		return err
	}
	l.chunks = append(l.chunks, c)
	return nil
}

// CompleteActiveChunk forces completion of the current active chunk
// even if it is not yet full, and starts a new one.
func (l *Log) CompleteActiveChunk() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollLocked()
}

// Flush fsyncs the active chunk.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chunks[len(l.chunks)-1].flush()
}

// Read returns the raw record payload at the given log position. The
// Stream Index is what makes this fast in practice (§4.B); the log
// itself locates a record by scanning its owning chunk from the start,
// which is correct but not optimized for random access.
func (l *Log) Read(pos types.LogPosition) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.chunks {
		if pos.Commit < c.header.LogicalStart || pos.Commit >= c.header.LogicalEnd {
			continue
		}
		recs, err := scanChunk(c)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Position.Commit == pos.Commit {
				return r.Payload, nil
			}
		}
	}
	return nil, fmt.Errorf("txlog: no record at position %d", pos.Commit)
}

// Record pairs a decoded record payload with the position it was read
// from, as returned by ScanForward/ScanBackward.
type Record struct {
	Position types.LogPosition
	Payload  []byte
}

// ScanForward returns every record starting at or after from, in
// ascending position order.
func (l *Log) ScanForward(from types.LogPosition) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for _, c := range l.chunks {
		if c.header.LogicalEnd <= from.Commit {
			continue
		}
		recs, err := scanChunk(c)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Position.Commit >= from.Commit {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// ScanBackward returns every record at or before from, in descending
// position order.
func (l *Log) ScanBackward(from types.LogPosition) ([]Record, error) {
	fwd, err := l.ScanForward(types.LogPosition{})
	if err != nil {
		return nil, err
	}
	var out []Record
	for i := len(fwd) - 1; i >= 0; i-- {
		if fwd[i].Position.Commit <= from.Commit {
			out = append(out, fwd[i])
		}
	}
	return out, nil
}

// scanChunk decodes every well-formed record in c from its header
// forward, pairing each with its logical commit position.
func scanChunk(c *chunk) ([]Record, error) {
	var out []Record
	offset := uint64(headerSize)
	logical := c.header.LogicalStart
	for offset+8 <= c.writeOffset {
		lenBuf := make([]byte, 4)
		if _, err := c.file.ReadAt(lenBuf, int64(offset)); err != nil {
			return nil, fmt.Errorf("txlog: scan chunk %d: %w", c.header.ChunkNumber, err)
		}
		recLen := binary.LittleEndian.Uint32(lenBuf)
		payload := make([]byte, recLen)
		if _, err := c.file.ReadAt(payload, int64(offset+4)); err != nil {
			return nil, fmt.Errorf("txlog: scan chunk %d: %w", c.header.ChunkNumber, err)
		}
		out = append(out, Record{Position: types.LogPosition{Commit: logical, Prepare: logical}, Payload: payload})
		logical += int64(recLen)
		offset += uint64(recLen) + 8
	}
	return out, nil
}

// Close flushes and closes every chunk file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, c := range l.chunks {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stat reports per-chunk introspection used by metrics and the
// migrate tool.
func (l *Log) Stat() []types.ChunkInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.ChunkInfo, 0, len(l.chunks))
	for _, c := range l.chunks {
		out = append(out, types.ChunkInfo{
			Number:       c.header.ChunkNumber,
			MaxSize:      c.maxSize,
			LogicalStart: c.header.LogicalStart,
			LogicalEnd:   c.header.LogicalEnd,
			PhysicalSize: c.writeOffset,
			Complete:     c.complete,
			RecordCount:  c.recordCount,
		})
	}
	return out
}
