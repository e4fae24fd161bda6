package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleResult marks a completed load superseded by a newer request.
	// It is expected during continuous pan/zoom and is never an error for the user.
	ErrStaleResult = errors.New("load result superseded by a newer request")
	// ErrInvalidExtent is returned for a viewport extent that is not finite or is empty.
	ErrInvalidExtent = errors.New("invalid viewport extent")
	// ErrStoreClosed is returned by a store used after Close.
	ErrStoreClosed = errors.New("resolution store is closed")
)

// MissingLevelError reports that the backing file of a level does not exist.
// It is recoverable: callers treat it as "no data at this level".
type MissingLevelError struct {
	Level Level
	Path  string
}

func (e *MissingLevelError) Error() string {
	return fmt.Sprintf("no data for level %d: %s does not exist", e.Level, e.Path)
}

// CorruptFileError reports a level file whose size is not a whole number of
// samples. It indicates a broken pyramid and must not be papered over.
type CorruptFileError struct {
	Level      Level
	Path       string
	Size       int64
	RecordSize int64
}

func (e *CorruptFileError) Error() string {
	return fmt.Sprintf("corrupt level %d file %s: size %d is not a multiple of sample record size %d (remainder %d)",
		e.Level, e.Path, e.Size, e.RecordSize, e.Size%e.RecordSize)
}

// InvalidRangeError is the panic value raised when a sample range with
// start >= end reaches the extractor.
type InvalidRangeError struct {
	Start int64
	End   int64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid sample range: start %d must be < end %d", e.Start, e.End)
}

type UnsupportedTypeError struct {
	Message string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported sample type: %q", e.Message)
}

// IsMissingLevel checks if an error (or any error in its chain) is a MissingLevelError.
func IsMissingLevel(err error) bool {
	var missing *MissingLevelError
	return errors.As(err, &missing)
}

// IsCorruptFile checks if an error (or any error in its chain) is a CorruptFileError.
func IsCorruptFile(err error) bool {
	var corrupt *CorruptFileError
	return errors.As(err, &corrupt)
}

func IsUnsupportedError(err error) bool {
	var unsupportedError *UnsupportedTypeError
	return errors.As(err, &unsupportedError)
}
