package segment

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"

	"lsmkv/internal/codec"
	"lsmkv/internal/common"
	"lsmkv/internal/filter"
	"lsmkv/internal/fs"
	"lsmkv/internal/mmap"
)

// OpenOptions tunes how a segment is opened.
type OpenOptions struct {
	FS     fs.FileSystem
	Logger *common.Logger

	// Filter is reused when the segment was just written. Otherwise the
	// persisted filter is loaded, or one is built from the keys at
	// BloomFPRate when it is missing or does not match the segment.
	Filter      filter.Filter
	BloomFPRate float64
}

func (o *OpenOptions) defaults() {
	if o.FS == nil {
		o.FS = fs.Default
	}
	if o.Logger == nil {
		o.Logger = common.NoopLogger()
	}
}

// Segment is a handle to one immutable data/index file pair.
type Segment struct {
	dir       string
	gen       common.Generation
	compacted bool

	fsys   fs.FileSystem
	logger *common.Logger

	data  *mmap.Mapping
	index *mmap.Mapping
	count int

	filter filter.Filter

	refs     atomic.Int64
	obsolete atomic.Bool
}

// Open maps the files of generation gen. The returned segment holds one
// reference owned by the caller.
func Open(dir string, gen common.Generation, compacted bool, opts OpenOptions) (*Segment, error) {
	opts.defaults()
	dataPath := common.SegmentDataPath(dir, gen, compacted)
	indexPath := common.IndexPath(dir, gen)

	for _, p := range []string{dataPath, indexPath} {
		if _, err := opts.FS.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrOpenFailure, err)
		}
	}

	data, err := mmap.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: map %s: %w", common.ErrOpenFailure, dataPath, err)
	}
	index, err := mmap.Open(indexPath)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("%w: map %s: %w", common.ErrOpenFailure, indexPath, err)
	}
	_ = index.Advise(mmap.AccessRandom)

	s := &Segment{
		dir:       dir,
		gen:       gen,
		compacted: compacted,
		fsys:      opts.FS,
		logger:    opts.Logger.WithGeneration(gen),
		data:      data,
		index:     index,
	}
	s.refs.Store(1)

	if err := s.validate(); err != nil {
		s.unmap()
		return nil, fmt.Errorf("%w: generation %d: %w", common.ErrOpenFailure, gen, err)
	}

	s.filter = opts.Filter
	if s.filter == nil && opts.BloomFPRate > 0 {
		s.filter = s.loadFilter()
	}
	if s.filter == nil {
		if s.filter, err = s.buildFilter(opts.BloomFPRate); err != nil {
			s.unmap()
			return nil, fmt.Errorf("%w: generation %d: %w", common.ErrOpenFailure, gen, err)
		}
	}
	return s, nil
}

// validate checks that the index matches the data file: offsets start at
// zero and the last entry ends exactly at the end of the data.
func (s *Segment) validate() error {
	count, err := codec.OffsetCount(s.index.Bytes())
	if err != nil {
		return err
	}
	s.count = count

	if count == 0 {
		if s.data.Size() != 0 {
			return fmt.Errorf("%w: empty index for %d data bytes", common.ErrCorruptSegment, s.data.Size())
		}
		return nil
	}
	first, err := codec.OffsetAt(s.index.Bytes(), 0)
	if err != nil {
		return err
	}
	if first != 0 {
		return fmt.Errorf("%w: first offset is %d", common.ErrCorruptSegment, first)
	}
	last, err := codec.OffsetAt(s.index.Bytes(), count-1)
	if err != nil {
		return err
	}
	_, end, err := codec.DecodeEntry(s.data.Bytes(), last)
	if err != nil {
		return err
	}
	if end != int64(s.data.Size()) {
		return fmt.Errorf("%w: last entry ends at %d, data is %d bytes", common.ErrCorruptSegment, end, s.data.Size())
	}
	return nil
}

func (s *Segment) loadFilter() filter.Filter {
	path := common.FilterPath(s.dir, s.gen)
	f, err := readFilterFile(s.fsys, path, uint64(s.data.Size()), uint64(s.count))
	switch {
	case err == nil:
		return f
	case os.IsNotExist(err):
		s.logger.Debug("no persisted filter, rebuilding")
	default:
		s.logger.Warn("ignoring persisted filter", "path", path, "error", err)
	}
	return nil
}

func (s *Segment) buildFilter(fpRate float64) (filter.Filter, error) {
	if fpRate <= 0 {
		return filter.NewNoOpFilter(), nil
	}
	bloom := filter.New(uint64(s.count), fpRate)
	for i := 0; i < s.count; i++ {
		key, err := s.KeyAt(i)
		if err != nil {
			return nil, err
		}
		bloom.Add(key)
	}
	return bloom, nil
}

func (s *Segment) Generation() common.Generation { return s.gen }
func (s *Segment) Compacted() bool               { return s.compacted }

// Count returns the number of entries.
func (s *Segment) Count() int { return s.count }

// Size returns the combined size of the data and index files.
func (s *Segment) Size() int64 {
	return int64(s.data.Size()) + int64(s.index.Size())
}

// Filter returns the segment's key filter.
func (s *Segment) Filter() filter.Filter { return s.filter }

// DataPath returns the path of the data file.
func (s *Segment) DataPath() string {
	return common.SegmentDataPath(s.dir, s.gen, s.compacted)
}

// IndexPath returns the path of the index file.
func (s *Segment) IndexPath() string {
	return common.IndexPath(s.dir, s.gen)
}

// OffsetAt returns the data offset of entry i.
func (s *Segment) OffsetAt(i int) (int64, error) {
	return codec.OffsetAt(s.index.Bytes(), i)
}

// KeyAt returns the key of entry i. The slice aliases the mapping.
func (s *Segment) KeyAt(i int) ([]byte, error) {
	off, err := s.OffsetAt(i)
	if err != nil {
		return nil, err
	}
	return codec.DecodeKey(s.data.Bytes(), off)
}

// EntryAt returns entry i. Key and value alias the mapping.
func (s *Segment) EntryAt(i int) (*common.Entry, error) {
	off, err := s.OffsetAt(i)
	if err != nil {
		return nil, err
	}
	e, _, err := codec.DecodeEntry(s.data.Bytes(), off)
	return e, err
}

// Search binary searches for key. It returns the position of key if found,
// otherwise the position of the first key greater than key (count when key is
// above the last key).
func (s *Segment) Search(key []byte) (int, bool, error) {
	lo, hi := 0, s.count
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		midKey, err := s.KeyAt(mid)
		if err != nil {
			return 0, false, err
		}
		switch c := bytes.Compare(midKey, key); {
		case c == 0:
			return mid, true, nil
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}

// Get returns the entry for key, tombstones included. The entry aliases the
// mapping.
func (s *Segment) Get(key []byte) (*common.Entry, bool, error) {
	if !s.filter.MayContain(key) {
		return nil, false, nil
	}
	pos, found, err := s.Search(key)
	if err != nil || !found {
		return nil, false, err
	}
	e, err := s.EntryAt(pos)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// LowerBound returns the first position included by a range starting at
// from. A nil from starts at 0.
func (s *Segment) LowerBound(from []byte) (int, error) {
	if from == nil {
		return 0, nil
	}
	pos, _, err := s.Search(from)
	return pos, err
}

// UpperBound returns the exclusive end position of a range ending at to. A
// nil to ends at Count.
func (s *Segment) UpperBound(to []byte) (int, error) {
	if to == nil {
		return s.count, nil
	}
	pos, _, err := s.Search(to)
	return pos, err
}

// Range returns an iterator over keys in [from, to).
func (s *Segment) Range(from, to []byte) (*RangeIterator, error) {
	lo, err := s.LowerBound(from)
	if err != nil {
		return nil, err
	}
	hi, err := s.UpperBound(to)
	if err != nil {
		return nil, err
	}
	if hi < lo {
		hi = lo
	}
	return &RangeIterator{seg: s, pos: lo, end: hi}, nil
}

// Iterator returns an iterator over every entry.
func (s *Segment) Iterator() *RangeIterator {
	return &RangeIterator{seg: s, end: s.count}
}

// IncRef adds a reference.
func (s *Segment) IncRef() {
	s.refs.Add(1)
}

// TryIncRef adds a reference unless the segment was already released.
func (s *Segment) TryIncRef() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// DecRef drops a reference. The last release unmaps the files and, for an
// obsolete segment, deletes them.
func (s *Segment) DecRef() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.unmap()
	if !s.obsolete.Load() {
		return
	}
	if err := RemoveFiles(s.fsys, s.dir, s.gen, s.compacted); err != nil {
		s.logger.Error("failed to delete retired segment", "error", err)
		return
	}
	s.logger.Debug("deleted retired segment")
}

// MarkObsolete schedules the files for deletion once every reference is gone.
func (s *Segment) MarkObsolete() {
	s.obsolete.Store(true)
}

// Restore cancels MarkObsolete. It has no effect once the files are gone.
func (s *Segment) Restore() {
	s.obsolete.Store(false)
}

// Obsolete reports whether the segment is scheduled for deletion.
func (s *Segment) Obsolete() bool {
	return s.obsolete.Load()
}

func (s *Segment) unmap() {
	if err := s.index.Close(); err != nil {
		s.logger.Warn("failed to unmap index", "error", err)
	}
	if err := s.data.Close(); err != nil {
		s.logger.Warn("failed to unmap data", "error", err)
	}
}

// RemoveFiles deletes the data, index and filter files of a segment. Missing
// files are ignored. A directory in place of a file is reported as
// common.ErrFilesystemCorrupted.
func RemoveFiles(fsys fs.FileSystem, dir string, gen common.Generation, compacted bool) error {
	for _, p := range []string{
		common.SegmentDataPath(dir, gen, compacted),
		common.IndexPath(dir, gen),
		common.FilterPath(dir, gen),
	} {
		if err := RemoveFile(fsys, p); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile deletes one segment file. A missing file is not an error; a
// directory in its place is common.ErrFilesystemCorrupted.
func RemoveFile(fsys fs.FileSystem, path string) error {
	if fi, err := fsys.Stat(path); err == nil && fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", common.ErrFilesystemCorrupted, path)
	}
	err := fsys.Remove(path)
	switch {
	case err == nil || os.IsNotExist(err):
		return nil
	case errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST):
		return fmt.Errorf("%w: remove %s: %w", common.ErrFilesystemCorrupted, path, err)
	default:
		return fmt.Errorf("%w: remove %s: %w", common.ErrIO, path, err)
	}
}

// RangeIterator walks entries [pos, end) of one segment. Returned entries
// alias the mapping and stay valid while the segment is referenced.
type RangeIterator struct {
	seg *Segment
	pos int
	end int
}

var _ common.EntryIteratorCloser = (*RangeIterator)(nil)

func (it *RangeIterator) Next() (*common.Entry, error) {
	if it.pos >= it.end {
		return nil, nil
	}
	e, err := it.seg.EntryAt(it.pos)
	if err != nil {
		return nil, err
	}
	it.pos++
	return e, nil
}

// Segment returns the segment being iterated.
func (it *RangeIterator) Segment() *Segment { return it.seg }

// Close is a no-op; the owning version pins the segment.
func (it *RangeIterator) Close() error {
	return nil
}
