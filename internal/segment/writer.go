package segment

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lsmkv/internal/codec"
	"lsmkv/internal/common"
	"lsmkv/internal/filter"
	"lsmkv/internal/fs"
)

// ErrOutOfOrder is returned when a writer receives keys that are not strictly
// ascending.
var ErrOutOfOrder = errors.New("segment: keys out of order")

const writeBufferSize = 64 * 1024

// WriteOptions tunes a segment write.
type WriteOptions struct {
	// BloomFPRate is the target false positive rate of the filter built while
	// writing. Zero disables the filter.
	BloomFPRate float64

	// ExpectedKeys sizes the filter. Zero means unknown.
	ExpectedKeys uint64

	// Wrap, when set, wraps both file writers (used to throttle compaction IO).
	Wrap func(io.Writer) io.Writer
}

// WriteResult contains metadata from writing a segment.
type WriteResult struct {
	Generation   common.Generation
	Compacted    bool
	EntryCount   uint64
	Tombstones   uint64
	BytesWritten uint64
	SmallestKey  []byte
	LargestKey   []byte
	Filter       filter.Filter
}

// Write streams entries into the data and index files of generation gen and
// fsyncs both. Keys must be strictly ascending. The files are written under
// temporary names and renamed into place, index first, only once both are
// synced, so a data file under its final name is always complete. The bloom
// filter is persisted next to the index before the renames; any older filter
// of gen is replaced or removed. On failure nothing is left behind.
func Write(fsys fs.FileSystem, dir string, gen common.Generation, compacted bool, entries common.EntryIterator, opts WriteOptions) (res *WriteResult, err error) {
	if err := fsys.MkdirAll(filepath.Join(dir, common.IndexDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create index dir: %w", common.ErrIO, err)
	}

	dataPath := common.SegmentDataPath(dir, gen, compacted)
	indexPath := common.IndexPath(dir, gen)
	filterPath := common.FilterPath(dir, gen)
	dataTmp, indexTmp := common.TempPath(dataPath), common.TempPath(indexPath)
	filterTmp := common.TempPath(filterPath)

	dataFile, err := fsys.OpenFile(dataTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", common.ErrIO, dataTmp, err)
	}
	indexFile, err := fsys.OpenFile(indexTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		dataFile.Close()
		_ = fs.RemoveIfExists(fsys, dataTmp)
		return nil, fmt.Errorf("%w: create %s: %w", common.ErrIO, indexTmp, err)
	}

	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			dataFile.Close()
			indexFile.Close()
		}
		for _, p := range []string{dataTmp, indexTmp, filterTmp, dataPath, indexPath, filterPath} {
			_ = fs.RemoveIfExists(fsys, p)
		}
	}()

	var dataW, indexW io.Writer = dataFile, indexFile
	if opts.Wrap != nil {
		dataW, indexW = opts.Wrap(dataW), opts.Wrap(indexW)
	}
	dataBuf := bufio.NewWriterSize(dataW, writeBufferSize)
	indexBuf := bufio.NewWriterSize(indexW, writeBufferSize)

	bloom := filter.New(opts.ExpectedKeys, opts.BloomFPRate)
	res = &WriteResult{Generation: gen, Compacted: compacted}

	var offset int64
	var scratch []byte
	for {
		entry, err := entries.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}

		if res.EntryCount > 0 && bytes.Compare(res.LargestKey, entry.Key) >= 0 {
			return nil, fmt.Errorf("%w: %q after %q", ErrOutOfOrder, entry.Key, res.LargestKey)
		}
		if err := codec.CheckEntry(entry); err != nil {
			return nil, err
		}
		if res.EntryCount == 0 {
			res.SmallestKey = bytes.Clone(entry.Key)
		}
		res.LargestKey = append(res.LargestKey[:0], entry.Key...)

		scratch = codec.AppendEntry(scratch[:0], entry)
		if _, err := dataBuf.Write(scratch); err != nil {
			return nil, fmt.Errorf("%w: write %s: %w", common.ErrIO, dataTmp, err)
		}
		if _, err := codec.WriteOffset(indexBuf, offset); err != nil {
			return nil, fmt.Errorf("%w: write %s: %w", common.ErrIO, indexTmp, err)
		}
		offset += int64(len(scratch))

		bloom.Add(entry.Key)
		res.EntryCount++
		if entry.IsTombstone() {
			res.Tombstones++
		}
	}

	for _, f := range []struct {
		buf  *bufio.Writer
		file fs.File
	}{{dataBuf, dataFile}, {indexBuf, indexFile}} {
		if err := f.buf.Flush(); err != nil {
			return nil, fmt.Errorf("%w: flush %s: %w", common.ErrIO, f.file.Name(), err)
		}
		if err := f.file.Sync(); err != nil {
			return nil, fmt.Errorf("%w: sync %s: %w", common.ErrIO, f.file.Name(), err)
		}
	}
	closed = true
	if err := errors.Join(dataFile.Close(), indexFile.Close()); err != nil {
		return nil, fmt.Errorf("%w: close generation %d: %w", common.ErrIO, gen, err)
	}

	// An undersized filter is dropped; Open rebuilds one from the keys.
	if res.EntryCount <= opts.ExpectedKeys || opts.BloomFPRate <= 0 {
		res.Filter = bloom
	}
	if filter.Serializable(res.Filter) {
		if err := writeFilterFile(fsys, filterTmp, res.Filter, uint64(offset), res.EntryCount, opts.Wrap); err != nil {
			return nil, err
		}
		if err := fsys.Rename(filterTmp, filterPath); err != nil {
			return nil, fmt.Errorf("%w: rename %s: %w", common.ErrIO, filterTmp, err)
		}
	} else if err := fs.RemoveIfExists(fsys, filterPath); err != nil {
		return nil, fmt.Errorf("%w: remove %s: %w", common.ErrIO, filterPath, err)
	}

	if err := fsys.Rename(indexTmp, indexPath); err != nil {
		return nil, fmt.Errorf("%w: rename %s: %w", common.ErrIO, indexTmp, err)
	}
	if err := fsys.Rename(dataTmp, dataPath); err != nil {
		return nil, fmt.Errorf("%w: rename %s: %w", common.ErrIO, dataTmp, err)
	}
	if err := syncDirs(fsys, dir); err != nil {
		return nil, err
	}

	res.BytesWritten = uint64(offset) + res.EntryCount*codec.OffsetSize
	return res, nil
}

func syncDirs(fsys fs.FileSystem, dir string) error {
	for _, d := range []string{dir, filepath.Join(dir, common.IndexDir)} {
		if err := fsys.SyncDir(d); err != nil {
			return fmt.Errorf("%w: sync dir %s: %w", common.ErrIO, d, err)
		}
	}
	return nil
}
