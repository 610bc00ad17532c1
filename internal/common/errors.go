package common

import "errors"

var (
	// ErrOpenFailure is returned when the store cannot start: a segment file is
	// missing, unreadable or truncated.
	ErrOpenFailure = errors.New("open failure")

	// ErrCorruptSegment is returned when a decode would read past the end of a
	// mapped buffer or finds inconsistent length fields.
	ErrCorruptSegment = errors.New("corrupt segment")

	// ErrIO is returned when a write, rename or delete fails during flush or
	// compaction. Nothing partial is published.
	ErrIO = errors.New("io failure")

	// ErrFilesystemCorrupted is returned when cleanup finds a directory where a
	// segment file is expected.
	ErrFilesystemCorrupted = errors.New("file system corrupted")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)
