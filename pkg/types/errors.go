package types

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the Append Coordinator, Reader, and
// subscription engines. Callers use errors.Is/errors.As rather than
// matching on message text.
var (
	ErrStreamDeleted    = errors.New("stream deleted")
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("bad request")
	ErrAccessDenied     = errors.New("access denied")
	ErrCommitTimeout    = errors.New("commit timed out")
	ErrNotReady         = errors.New("server not ready")
	ErrTooBusy          = errors.New("server too busy")
	ErrOperationTimeout = errors.New("operation timed out")
)

// WrongExpectedVersionError is returned when an append's expected
// version does not match the stream's current tail. CurrentVersion is
// NoStream if the stream does not exist.
type WrongExpectedVersionError struct {
	StreamID        string
	ExpectedVersion EventNumber
	CurrentVersion  EventNumber
}

func (e *WrongExpectedVersionError) Error() string {
	return fmt.Sprintf("wrong expected version for stream %q: expected %s, current %s",
		e.StreamID, e.ExpectedVersion, e.CurrentVersion)
}

// ErrWrongExpectedVersion is the sentinel errors.Is target for
// *WrongExpectedVersionError; every constructed error wraps it.
var ErrWrongExpectedVersion = errors.New("wrong expected version")

func (e *WrongExpectedVersionError) Unwrap() error {
	return ErrWrongExpectedVersion
}

// NewWrongExpectedVersion builds a WrongExpectedVersionError wrapping
// ErrWrongExpectedVersion so callers can match it with errors.Is.
func NewWrongExpectedVersion(streamID string, expected, current EventNumber) error {
	return &WrongExpectedVersionError{StreamID: streamID, ExpectedVersion: expected, CurrentVersion: current}
}
