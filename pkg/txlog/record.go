package txlog

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
)

// RecordType discriminates the payload that follows the 1-byte tag at
// the start of every record.
type RecordType uint8

const (
	RecordPrepare RecordType = iota + 1
	RecordCommit
	RecordSystem
)

// PrepareFlags marks properties of a Prepare record.
type PrepareFlags uint16

const (
	FlagIsJSON PrepareFlags = 1 << iota
	FlagTransactionStart
	FlagTransactionEnd
)

// PrepareRecord is a single event as written to the log. The append
// path writes one PrepareRecord per event and no CommitRecord; the
// commit is implicit in the Prepare reaching the log.
type PrepareRecord struct {
	TransactionPosition int64
	TransactionOffset   int32
	StreamID            string
	EventNumber         types.EventNumber
	EventID             uuid.UUID
	Flags               PrepareFlags
	EventType           string
	CreatedAt           time.Time
	Data                []byte
	Metadata            []byte
}

// CommitRecord finalizes a transaction started by one or more Prepares.
type CommitRecord struct {
	TransactionPosition int64
	FirstEventNumber    types.EventNumber
	LogPosition         int64
}

// SystemRecordKind distinguishes the kinds of housekeeping records the
// log carries that are not stream events (e.g. epoch markers).
type SystemRecordKind uint8

const (
	SystemEpoch SystemRecordKind = iota + 1
)

// SystemRecord carries housekeeping data with no stream identity.
type SystemRecord struct {
	Kind SystemRecordKind
	Data []byte
}

// EncodePrepare encodes p as a framed Prepare record payload; Log.Append
// wraps the result in length-prefix framing.
func EncodePrepare(p PrepareRecord) []byte {
	return encodePrepare(p)
}

// DecodePrepare decodes a payload previously produced by EncodePrepare.
func DecodePrepare(payload []byte) (PrepareRecord, error) {
	return decodePrepare(payload)
}

// EncodeCommit encodes an implicit commit record payload.
func EncodeCommit(c CommitRecord) []byte {
	return encodeCommit(c)
}

// DecodeCommit decodes a payload previously produced by EncodeCommit.
func DecodeCommit(payload []byte) (CommitRecord, error) {
	return decodeCommit(payload)
}

func encodePrepare(p PrepareRecord) []byte {
	streamBytes := []byte(p.StreamID)
	typeBytes := []byte(p.EventType)
	size := 1 + 8 + 4 + 2 + len(streamBytes) + 2 + len(typeBytes) + 16 + 8 + 2 + 8 + 4 + len(p.Data) + 4 + len(p.Metadata)
	buf := make([]byte, size)
	off := 0
	buf[off] = byte(RecordPrepare)
	off++
	binary.LittleEndian.PutUint64(buf[off:], uint64(p.TransactionPosition))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(p.TransactionOffset))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(streamBytes)))
	off += 2
	copy(buf[off:], streamBytes)
	off += len(streamBytes)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(typeBytes)))
	off += 2
	copy(buf[off:], typeBytes)
	off += len(typeBytes)
	copy(buf[off:], p.EventID[:])
	off += 16
	binary.LittleEndian.PutUint64(buf[off:], uint64(p.EventNumber))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.Flags))
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], uint64(p.CreatedAt.UnixNano()))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.Data)))
	off += 4
	copy(buf[off:], p.Data)
	off += len(p.Data)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.Metadata)))
	off += 4
	copy(buf[off:], p.Metadata)
	return buf
}

func decodePrepare(buf []byte) (PrepareRecord, error) {
	if len(buf) < 1 || RecordType(buf[0]) != RecordPrepare {
		return PrepareRecord{}, fmt.Errorf("txlog: not a prepare record")
	}
	off := 1
	need := func(n int) error {
		if off+n > len(buf) {
			return fmt.Errorf("txlog: truncated prepare record")
		}
		return nil
	}
	if err := need(8); err != nil {
		return PrepareRecord{}, err
	}
	txPos := int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	if err := need(4); err != nil {
		return PrepareRecord{}, err
	}
	txOff := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if err := need(2); err != nil {
		return PrepareRecord{}, err
	}
	streamLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if err := need(streamLen); err != nil {
		return PrepareRecord{}, err
	}
	stream := string(buf[off : off+streamLen])
	off += streamLen
	if err := need(2); err != nil {
		return PrepareRecord{}, err
	}
	typeLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if err := need(typeLen); err != nil {
		return PrepareRecord{}, err
	}
	eventType := string(buf[off : off+typeLen])
	off += typeLen
	if err := need(16); err != nil {
		return PrepareRecord{}, err
	}
	var id uuid.UUID
	copy(id[:], buf[off:off+16])
	off += 16
	if err := need(8); err != nil {
		return PrepareRecord{}, err
	}
	eventNumber := types.EventNumber(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	if err := need(2); err != nil {
		return PrepareRecord{}, err
	}
	flags := PrepareFlags(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if err := need(8); err != nil {
		return PrepareRecord{}, err
	}
	createdAt := time.Unix(0, int64(binary.LittleEndian.Uint64(buf[off:])))
	off += 8
	if err := need(4); err != nil {
		return PrepareRecord{}, err
	}
	dataLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if err := need(dataLen); err != nil {
		return PrepareRecord{}, err
	}
	data := append([]byte(nil), buf[off:off+dataLen]...)
	off += dataLen
	if err := need(4); err != nil {
		return PrepareRecord{}, err
	}
	metaLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if err := need(metaLen); err != nil {
		return PrepareRecord{}, err
	}
	metadata := append([]byte(nil), buf[off:off+metaLen]...)

	return PrepareRecord{
		TransactionPosition: txPos,
		TransactionOffset:   txOff,
		StreamID:            stream,
		EventNumber:         eventNumber,
		EventID:             id,
		Flags:               flags,
		EventType:           eventType,
		CreatedAt:           createdAt,
		Data:                data,
		Metadata:            metadata,
	}, nil
}

func encodeCommit(c CommitRecord) []byte {
	buf := make([]byte, 1+8+8+8)
	buf[0] = byte(RecordCommit)
	binary.LittleEndian.PutUint64(buf[1:], uint64(c.TransactionPosition))
	binary.LittleEndian.PutUint64(buf[9:], uint64(c.FirstEventNumber))
	binary.LittleEndian.PutUint64(buf[17:], uint64(c.LogPosition))
	return buf
}

func decodeCommit(buf []byte) (CommitRecord, error) {
	if len(buf) < 25 || RecordType(buf[0]) != RecordCommit {
		return CommitRecord{}, fmt.Errorf("txlog: not a commit record")
	}
	return CommitRecord{
		TransactionPosition: int64(binary.LittleEndian.Uint64(buf[1:])),
		FirstEventNumber:    types.EventNumber(binary.LittleEndian.Uint64(buf[9:])),
		LogPosition:         int64(binary.LittleEndian.Uint64(buf[17:])),
	}, nil
}

func encodeSystem(s SystemRecord) []byte {
	buf := make([]byte, 1+1+len(s.Data))
	buf[0] = byte(RecordSystem)
	buf[1] = byte(s.Kind)
	copy(buf[2:], s.Data)
	return buf
}

func decodeSystem(buf []byte) (SystemRecord, error) {
	if len(buf) < 2 || RecordType(buf[0]) != RecordSystem {
		return SystemRecord{}, fmt.Errorf("txlog: not a system record")
	}
	return SystemRecord{Kind: SystemRecordKind(buf[1]), Data: append([]byte(nil), buf[2:]...)}, nil
}

// PeekType returns the RecordType of a raw record payload without
// fully decoding it.
func PeekType(payload []byte) (RecordType, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("txlog: empty record payload")
	}
	return RecordType(payload[0]), nil
}
