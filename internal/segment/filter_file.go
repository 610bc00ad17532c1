package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"lsmkv/internal/common"
	"lsmkv/internal/filter"
	"lsmkv/internal/fs"
)

const filterFileVersion = 1

// errStaleFilter marks a filter file written for different segment contents.
var errStaleFilter = errors.New("segment: stale filter file")

// writeFilterFile writes f to path. The header ties the filter to the data
// file size and entry count it was built for.
// Format: [version: uint8][data size: uint64][entries: uint64][bloom filter]
func writeFilterFile(fsys fs.FileSystem, path string, f filter.Filter, dataSize, count uint64, wrap func(io.Writer) io.Writer) (err error) {
	file, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", common.ErrIO, path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("%w: close %s: %w", common.ErrIO, path, cerr)
		}
	}()

	var w io.Writer = file
	if wrap != nil {
		w = wrap(w)
	}
	bw := bufio.NewWriter(w)
	if _, err := common.WriteUint8(bw, filterFileVersion); err != nil {
		return fmt.Errorf("%w: write %s: %w", common.ErrIO, path, err)
	}
	for _, v := range []uint64{dataSize, count} {
		if _, err := common.WriteUint64(bw, v); err != nil {
			return fmt.Errorf("%w: write %s: %w", common.ErrIO, path, err)
		}
	}
	if _, err := filter.WriteBloomFilter(bw, f); err != nil {
		return fmt.Errorf("%w: write %s: %w", common.ErrIO, path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: write %s: %w", common.ErrIO, path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", common.ErrIO, path, err)
	}
	return nil
}

// readFilterFile loads the filter at path and checks that it was built for a
// data file of dataSize bytes holding count entries.
func readFilterFile(fsys fs.FileSystem, path string, dataSize, count uint64) (filter.Filter, error) {
	file, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	br := bufio.NewReader(file)
	version, err := common.ReadUint8(br)
	if err != nil {
		return nil, err
	}
	if version != filterFileVersion {
		return nil, fmt.Errorf("%w: version %d", errStaleFilter, version)
	}
	size, err := common.ReadUint64(br)
	if err != nil {
		return nil, err
	}
	entries, err := common.ReadUint64(br)
	if err != nil {
		return nil, err
	}
	if size != dataSize || entries != count {
		return nil, fmt.Errorf("%w: built for %d entries in %d bytes", errStaleFilter, entries, size)
	}
	return filter.ReadBloomFilter(br)
}

// MoveFilter renames the persisted filter of generation from to generation
// to. A missing filter is not an error. When the rename fails both names are
// removed; Open rebuilds a missing filter from the keys.
func MoveFilter(fsys fs.FileSystem, dir string, from, to common.Generation) error {
	src, dst := common.FilterPath(dir, from), common.FilterPath(dir, to)
	err := fsys.Rename(src, dst)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	err = fmt.Errorf("%w: rename %s: %w", common.ErrIO, src, err)
	return errors.Join(err, fs.RemoveIfExists(fsys, src), fs.RemoveIfExists(fsys, dst))
}
