package volume

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key is absent from the volume index.
//
// This is an engine-layer sentinel; the haygo package may translate it into
// its public error contract.
var ErrNotFound = errors.New("needle not found")

// ErrAlreadyExists indicates a create target whose files are already present.
type ErrAlreadyExists struct {
	ID   uint32
	Path string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("volume %d already exists: %s", e.ID, e.Path)
}

// ErrOverflow indicates a write that does not fit the volume's remaining
// capacity, or a write against a read-only volume. Nothing was written.
type ErrOverflow struct {
	ID            uint32
	MaxLength     uint64
	CurrentLength uint64
	Needed        uint64
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("volume %d overflow: max %d, current %d, needed %d",
		e.ID, e.MaxLength, e.CurrentLength, e.Needed)
}

// ErrWriteLengthMismatch indicates a needle source that produced a different
// number of bytes than it declared. The volume's logical state is unchanged,
// but bytes already flushed for the attempt remain as unindexed garbage past
// the logical end of the data file.
type ErrWriteLengthMismatch struct {
	ID       uint32
	Key      string
	Declared uint64
	Received uint64
}

func (e *ErrWriteLengthMismatch) Error() string {
	return fmt.Sprintf("volume %d write %q: declared %d bytes, received %d",
		e.ID, e.Key, e.Declared, e.Received)
}

// ErrDataCorruption indicates an inconsistency between the index and the data
// file: a size mismatch detected on open, an index entry pointing past the
// logical end, or (under strict reads) a header that contradicts its index
// entry. Callers can use it to decide whether to quarantine a volume.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDataCorruption struct {
	ID     uint32
	Key    string
	Detail string
	cause  error
}

func (e *ErrDataCorruption) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("volume %d data corruption at %q: %s", e.ID, e.Key, e.Detail)
	}
	return fmt.Sprintf("volume %d data corruption: %s", e.ID, e.Detail)
}

func (e *ErrDataCorruption) Unwrap() error { return e.cause }

// ErrPathParse indicates a volume path that does not follow the
// <id>.index / <id>.data naming scheme.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrPathParse struct {
	Path   string
	Detail string
	cause  error
}

func (e *ErrPathParse) Error() string {
	return fmt.Sprintf("parse volume path %q: %s", e.Path, e.Detail)
}

func (e *ErrPathParse) Unwrap() error { return e.cause }
