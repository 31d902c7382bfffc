package server

import (
	"fmt"

	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
)

// logResolver adapts *txlog.Log to index.Resolver: given a position, it
// decodes the record stored there and returns its stream id, letting the
// index disambiguate stream-hash collisions without keeping its own
// reverse index.
type logResolver struct {
	log *txlog.Log
}

func (r *logResolver) StreamIDAt(pos types.LogPosition) (string, error) {
	payload, err := r.log.Read(pos)
	if err != nil {
		return "", err
	}
	kind, err := txlog.PeekType(payload)
	if err != nil {
		return "", err
	}
	if kind != txlog.RecordPrepare {
		return "", fmt.Errorf("server: record at %+v is not a prepare record", pos)
	}
	prep, err := txlog.DecodePrepare(payload)
	if err != nil {
		return "", err
	}
	return prep.StreamID, nil
}
