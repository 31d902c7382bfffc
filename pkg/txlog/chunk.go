package txlog

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

const (
	chunkMagic      uint32 = 0xE57DA7A1
	chunkVersion    uint8  = 1
	headerSize             = 128
	footerSize             = 128

	// DefaultMaxChunkSize is the default logical size at which an active
	// chunk is completed and a new one started.
	DefaultMaxChunkSize uint64 = 256 << 20
)

// chunkType distinguishes the single chunk-file kind this log writes
// today from room left for future types (e.g. scavenged/merged chunks).
type chunkType uint8

const (
	chunkTypeNormal chunkType = 0
)

var (
	errBadMagic  = errors.New("txlog: bad chunk magic")
	errTornWrite = errors.New("txlog: torn write detected")
)

// chunkHeader mirrors the 128-byte on-disk header described in the
// external interfaces: magic, version, chunk-type, chunk-number,
// logical start/end, physical size, with the remainder reserved.
type chunkHeader struct {
	Magic        uint32
	Version      uint8
	ChunkType    chunkType
	ChunkNumber  uint32
	LogicalStart int64
	LogicalEnd   int64
	PhysicalSize uint64
}

func (h chunkHeader) encode() [headerSize]byte {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = byte(h.ChunkType)
	// buf[6:8] reserved
	binary.LittleEndian.PutUint32(buf[8:12], h.ChunkNumber)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.LogicalStart))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.LogicalEnd))
	binary.LittleEndian.PutUint64(buf[28:36], h.PhysicalSize)
	return buf
}

func decodeChunkHeader(buf []byte) (chunkHeader, error) {
	if len(buf) < headerSize {
		return chunkHeader{}, fmt.Errorf("txlog: short chunk header (%d bytes)", len(buf))
	}
	h := chunkHeader{
		Magic:        binary.LittleEndian.Uint32(buf[0:4]),
		Version:      buf[4],
		ChunkType:    chunkType(buf[5]),
		ChunkNumber:  binary.LittleEndian.Uint32(buf[8:12]),
		LogicalStart: int64(binary.LittleEndian.Uint64(buf[12:20])),
		LogicalEnd:   int64(binary.LittleEndian.Uint64(buf[20:28])),
		PhysicalSize: binary.LittleEndian.Uint64(buf[28:36]),
	}
	if h.Magic != chunkMagic {
		return chunkHeader{}, errBadMagic
	}
	return h, nil
}

// chunkFooter mirrors the 128-byte on-disk footer, absent until the
// chunk is completed.
type chunkFooter struct {
	IsComplete  bool
	Hash        [32]byte
	RecordCount uint32
}

func (f chunkFooter) encode() [footerSize]byte {
	var buf [footerSize]byte
	if f.IsComplete {
		buf[0] = 1
	}
	copy(buf[1:33], f.Hash[:])
	binary.LittleEndian.PutUint32(buf[33:37], f.RecordCount)
	return buf
}

func decodeChunkFooter(buf []byte) (chunkFooter, error) {
	if len(buf) < footerSize {
		return chunkFooter{}, fmt.Errorf("txlog: short chunk footer (%d bytes)", len(buf))
	}
	var f chunkFooter
	f.IsComplete = buf[0] != 0
	copy(f.Hash[:], buf[1:33])
	f.RecordCount = binary.LittleEndian.Uint32(buf[33:37])
	return f, nil
}

// chunk is one physical segment of the log: a header, zero or more
// framed records, and (once complete) a footer. Only the active chunk
// is ever mutated; completed chunks are opened read-only.
type chunk struct {
	mu sync.RWMutex

	path     string
	file     *os.File
	header   chunkHeader
	complete bool
	maxSize  uint64

	writeOffset uint64 // physical offset of next write, past the header
	recordCount uint32
}

func createChunk(path string, number uint32, logicalStart int64, maxSize uint64) (*chunk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("txlog: create chunk: %w", err)
	}
	h := chunkHeader{
		Magic:        chunkMagic,
		Version:      chunkVersion,
		ChunkType:    chunkTypeNormal,
		ChunkNumber:  number,
		LogicalStart: logicalStart,
		LogicalEnd:   logicalStart,
	}
	enc := h.encode()
	if _, err := f.WriteAt(enc[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("txlog: write chunk header: %w", err)
	}
	return &chunk{
		path:        path,
		file:        f,
		header:      h,
		maxSize:     maxSize,
		writeOffset: headerSize,
	}, nil
}

// openChunk opens an existing chunk file, scanning its body to recover
// writeOffset/recordCount. A completed chunk whose footer hash does not
// match its body is an error wrapping errTornWrite. If the chunk has no
// valid footer, scanAndTruncate truncates the file at the first torn
// record it finds.
func openChunk(path string, maxSize uint64) (*chunk, recoveryReport, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, recoveryReport{}, fmt.Errorf("txlog: open chunk: %w", err)
	}
	hbuf := make([]byte, headerSize)
	if _, err := f.ReadAt(hbuf, 0); err != nil {
		f.Close()
		return nil, recoveryReport{}, fmt.Errorf("txlog: read chunk header: %w", err)
	}
	h, err := decodeChunkHeader(hbuf)
	if err != nil {
		f.Close()
		return nil, recoveryReport{}, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, recoveryReport{}, err
	}

	c := &chunk{path: path, file: f, header: h, maxSize: maxSize, writeOffset: headerSize}

	footerOffset := uint64(info.Size()) - footerSize
	if info.Size() >= headerSize+footerSize {
		fbuf := make([]byte, footerSize)
		if _, err := f.ReadAt(fbuf, int64(footerOffset)); err == nil {
			if footer, ferr := decodeChunkFooter(fbuf); ferr == nil && footer.IsComplete {
				body := make([]byte, footerOffset-headerSize)
				if _, err := f.ReadAt(body, headerSize); err != nil {
					f.Close()
					return nil, recoveryReport{}, fmt.Errorf("txlog: read chunk %d body for checksum: %w", h.ChunkNumber, err)
				}
				if sha256.Sum256(body) != footer.Hash {
					f.Close()
					return nil, recoveryReport{}, fmt.Errorf("txlog: chunk %d footer hash mismatch: %w", h.ChunkNumber, errTornWrite)
				}
				c.complete = true
				c.recordCount = footer.RecordCount
				c.writeOffset = footerOffset
				return c, recoveryReport{}, nil
			}
		}
	}

	// Not complete: scan forward from the header to find the true end of
	// well-formed records, truncating any torn trailing write.
	report, scanErr := c.scanAndTruncate(uint64(info.Size()))
	if scanErr != nil {
		f.Close()
		return nil, recoveryReport{}, scanErr
	}
	return c, report, nil
}

// recoveryReport describes a torn-write truncation found on open.
type recoveryReport struct {
	ChunkNumber     uint32
	Truncated       bool
	ValidUpTo       uint64
	DiscardedLength uint64
}

// scanAndTruncate walks records from the header forward, stopping at
// the first invalid length prefix or mismatched trailing length. It
// truncates the file to the last valid record boundary.
func (c *chunk) scanAndTruncate(physicalSize uint64) (recoveryReport, error) {
	offset := uint64(headerSize)
	var count uint32
	var logical int64
	for offset+8 <= physicalSize {
		lenBuf := make([]byte, 4)
		if _, err := c.file.ReadAt(lenBuf, int64(offset)); err != nil {
			break
		}
		recLen := binary.LittleEndian.Uint32(lenBuf)
		total := uint64(recLen) + 8
		if recLen == 0 || offset+total > physicalSize {
			break
		}
		trailer := make([]byte, 4)
		if _, err := c.file.ReadAt(trailer, int64(offset+total-4)); err != nil {
			break
		}
		if binary.LittleEndian.Uint32(trailer) != recLen {
			break
		}
		offset += total
		count++
		logical += int64(recLen)
	}

	report := recoveryReport{ChunkNumber: c.header.ChunkNumber, ValidUpTo: offset}
	if offset != physicalSize {
		report.Truncated = true
		report.DiscardedLength = physicalSize - offset
		if err := c.file.Truncate(int64(offset)); err != nil {
			return report, fmt.Errorf("txlog: truncate torn chunk: %w", err)
		}
	}
	c.writeOffset = offset
	c.recordCount = count
	c.header.LogicalEnd = c.header.LogicalStart + logical
	return report, nil
}

// appendRecord writes a framed record at the chunk's current write
// offset and returns the physical offset it was written at. Caller
// holds c.mu for writing.
func (c *chunk) appendRecord(payload []byte) (uint64, error) {
	if c.complete {
		return 0, errors.New("txlog: cannot append to a completed chunk")
	}
	frame := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:4+len(payload)], payload)
	binary.LittleEndian.PutUint32(frame[4+len(payload):], uint32(len(payload)))

	offset := c.writeOffset
	if _, err := c.file.WriteAt(frame, int64(offset)); err != nil {
		return 0, fmt.Errorf("txlog: append record: %w", err)
	}
	c.writeOffset += uint64(len(frame))
	c.recordCount++
	c.header.LogicalEnd += int64(len(payload))
	return offset, nil
}

// readRecord returns the payload of the record at the given physical
// offset.
func (c *chunk) readRecord(offset uint64) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := c.file.ReadAt(lenBuf, int64(offset)); err != nil {
		return nil, fmt.Errorf("txlog: read record length: %w", err)
	}
	recLen := binary.LittleEndian.Uint32(lenBuf)
	payload := make([]byte, recLen)
	if _, err := c.file.ReadAt(payload, int64(offset+4)); err != nil {
		return nil, fmt.Errorf("txlog: read record payload: %w", err)
	}
	return payload, nil
}

// spaceRemaining reports how many more bytes can be appended before the
// chunk's max size is reached.
func (c *chunk) spaceRemaining() uint64 {
	if c.writeOffset >= c.maxSize {
		return 0
	}
	return c.maxSize - c.writeOffset
}

// completeChunk writes the chunk's footer (record count and a SHA-256
// hash of the records between header and footer), rewrites the header
// with the final logical end and physical size, and marks it read-only.
func (c *chunk) completeChunk() error {
	if c.complete {
		return nil
	}
	body := make([]byte, c.writeOffset-headerSize)
	if _, err := c.file.ReadAt(body, headerSize); err != nil {
		return fmt.Errorf("txlog: read chunk body for hashing: %w", err)
	}
	footer := chunkFooter{
		IsComplete:  true,
		Hash:        sha256.Sum256(body),
		RecordCount: c.recordCount,
	}
	enc := footer.encode()
	if _, err := c.file.WriteAt(enc[:], int64(c.writeOffset)); err != nil {
		return fmt.Errorf("txlog: write chunk footer: %w", err)
	}
	c.header.PhysicalSize = c.writeOffset + footerSize
	hdr := c.header.encode()
	if _, err := c.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("txlog: rewrite chunk header: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("txlog: fsync completed chunk: %w", err)
	}
	c.complete = true
	return nil
}

func (c *chunk) flush() error {
	return c.file.Sync()
}

func (c *chunk) close() error {
	return c.file.Close()
}
