// Package wal records memtable writes so they survive a restart before the
// memtable is flushed.
//
// Each memtable has its own numbered log under <dir>/wal. Records use the
// segment entry encoding. A log is deleted once every entry in it has reached
// a published segment.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"lsmkv/internal/codec"
	"lsmkv/internal/common"
	"lsmkv/internal/fs"
)

// ErrTruncated is returned by Replay when the log ends in the middle of a
// record, as it does after a crash during an append.
var ErrTruncated = errors.New("wal: truncated record")

// Log appends entries to a single file on disk.
type Log struct {
	mu      sync.Mutex
	fsys    fs.FileSystem
	file    fs.File
	path    string
	number  uint64
	sync    bool
	entries int
	scratch []byte
}

// Create opens a new empty log with the given number. With syncWrites every
// append is fsynced before it returns.
func Create(fsys fs.FileSystem, dir string, number uint64, syncWrites bool) (*Log, error) {
	if err := fsys.MkdirAll(filepath.Join(dir, common.WALDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create wal dir: %w", common.ErrIO, err)
	}
	path := common.WALPath(dir, number)
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", common.ErrIO, path, err)
	}
	if err := fsys.SyncDir(filepath.Join(dir, common.WALDir)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: sync wal dir: %w", common.ErrIO, err)
	}
	return &Log{fsys: fsys, file: f, path: path, number: number, sync: syncWrites}, nil
}

func (l *Log) Number() uint64 { return l.number }
func (l *Log) Path() string   { return l.path }

// Len returns the number of entries appended through this handle.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

// Append persists the batch with a single write.
func (l *Log) Append(batch ...*common.Entry) error {
	if len(batch) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("wal: log is closed")
	}

	l.scratch = l.scratch[:0]
	for _, e := range batch {
		if err := codec.CheckEntry(e); err != nil {
			return err
		}
		l.scratch = codec.AppendEntry(l.scratch, e)
	}
	if _, err := l.file.Write(l.scratch); err != nil {
		return fmt.Errorf("%w: append %s: %w", common.ErrIO, l.path, err)
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync %s: %w", common.ErrIO, l.path, err)
		}
	}
	l.entries += len(batch)
	return nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// List returns the numbers of the logs in dir, oldest first.
func List(fsys fs.FileSystem, dir string) ([]uint64, error) {
	entries, err := fsys.ReadDir(filepath.Join(dir, common.WALDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read wal dir: %w", common.ErrOpenFailure, err)
	}

	var out []uint64
	for _, e := range entries {
		n, ok := common.ParseWALFile(e.Name())
		if !ok {
			continue
		}
		if e.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", common.ErrFilesystemCorrupted, e.Name())
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return out, nil
}

// Replay calls fn for every entry of log number n in append order. A record
// cut short by a crash ends the replay with ErrTruncated; the entries before
// it have been delivered.
func Replay(fsys fs.FileSystem, dir string, n uint64, fn func(*common.Entry) error) (int, error) {
	it, err := NewIterator(fsys, common.WALPath(dir, n))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	count := 0
	for {
		e, err := it.Next()
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return count, fmt.Errorf("%w: %s after %d entries", ErrTruncated, it.path, count)
		}
		if err != nil {
			return count, err
		}
		if e == nil {
			return count, nil
		}
		if err := fn(e); err != nil {
			return count, err
		}
		count++
	}
}

// Remove deletes log number n. A missing log is not an error.
func Remove(fsys fs.FileSystem, dir string, n uint64) error {
	if err := fs.RemoveIfExists(fsys, common.WALPath(dir, n)); err != nil {
		return fmt.Errorf("%w: remove wal %d: %w", common.ErrIO, n, err)
	}
	return nil
}

// Iterator streams the entries of a log file.
type Iterator struct {
	path   string
	file   fs.File
	reader *bufio.Reader
}

var _ common.EntryIteratorCloser = (*Iterator)(nil)

// NewIterator opens the log at path for reading.
func NewIterator(fsys fs.FileSystem, path string) (*Iterator, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", common.ErrOpenFailure, path, err)
	}
	return &Iterator{path: path, file: f, reader: bufio.NewReader(f)}, nil
}

// Next returns the next entry, nil at a clean end of the log, or
// io.ErrUnexpectedEOF when the last record is incomplete.
func (it *Iterator) Next() (*common.Entry, error) {
	if it.file == nil {
		return nil, nil
	}

	entry, err := codec.ReadEntry(it.reader)
	if errors.Is(err, io.EOF) {
		it.Close()
		return nil, nil
	}
	if err != nil {
		it.Close()
		return nil, err
	}
	return entry, nil
}

// Close releases the underlying file handle. Safe to call multiple times.
func (it *Iterator) Close() error {
	if it.file == nil {
		return nil
	}
	err := it.file.Close()
	it.file = nil
	it.reader = nil
	return err
}
