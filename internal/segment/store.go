package segment

import (
	"cmp"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"lsmkv/internal/common"
	"lsmkv/internal/fs"
)

// Options configures a Store.
type Options struct {
	FS          fs.FileSystem
	Logger      *common.Logger
	BloomFPRate float64

	// Parallelism bounds how many segments are opened at once. Zero means
	// GOMAXPROCS.
	Parallelism int
}

// Version is an immutable, reference-counted snapshot of the segment list,
// newest generation first.
type Version struct {
	refs     atomic.Int64
	segments []*Segment
}

func newVersion(segments []*Segment) *Version {
	v := &Version{segments: segments}
	v.refs.Store(1)
	for _, s := range segments {
		s.IncRef()
	}
	return v
}

// Segments returns the segments newest first. The slice must not be modified.
func (v *Version) Segments() []*Segment {
	return v.segments
}

func (v *Version) tryIncRef() bool {
	for {
		refs := v.refs.Load()
		if refs <= 0 {
			return false
		}
		if v.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release drops the reference taken by Acquire.
func (v *Version) Release() {
	if v.refs.Add(-1) != 0 {
		return
	}
	for _, s := range v.segments {
		s.DecRef()
	}
}

// Store is the ordered set of live segments of one directory.
type Store struct {
	dir  string
	opts Options

	mu      sync.Mutex // serializes publishers
	current atomic.Pointer[Version]
	lastGen atomic.Uint64
	closed  bool
}

// OpenStore discovers and maps every segment in dir. Segments superseded by a
// compacted segment are deleted. A pending compaction (generation 0) must
// have been recovered beforehand.
func OpenStore(dir string, opts Options) (*Store, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = common.NoopLogger()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}

	if err := opts.FS.MkdirAll(filepath.Join(dir, common.IndexDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrOpenFailure, err)
	}

	found, err := Discover(opts.FS, dir)
	if err != nil {
		return nil, err
	}

	live, err := removeSuperseded(opts, dir, found)
	if err != nil {
		return nil, err
	}

	segments := make([]*Segment, len(live))
	g := new(errgroup.Group)
	g.SetLimit(opts.Parallelism)
	for i, d := range live {
		g.Go(func() error {
			seg, err := Open(dir, d.Generation, d.Compacted, OpenOptions{
				FS:          opts.FS,
				Logger:      opts.Logger,
				BloomFPRate: opts.BloomFPRate,
			})
			if err != nil {
				return err
			}
			segments[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, seg := range segments {
			if seg != nil {
				seg.DecRef()
			}
		}
		return nil, err
	}

	s := &Store{dir: dir, opts: opts}
	s.current.Store(newVersion(segments))
	for _, seg := range segments {
		seg.DecRef() // the version holds them now
	}
	if len(segments) > 0 {
		s.lastGen.Store(uint64(segments[0].Generation()))
	}

	opts.Logger.Info("opened segment store", "dir", dir, "segments", len(segments), "last_generation", s.lastGen.Load())
	return s, nil
}

// Descriptor names one segment found on disk.
type Descriptor struct {
	Generation common.Generation
	Compacted  bool
}

// Discover lists the segments in dir newest first, without opening them.
// The pending compaction slot is skipped. Two data files with the same
// generation, or an index without its data file, fail with
// common.ErrOpenFailure.
func Discover(fsys fs.FileSystem, dir string) ([]Descriptor, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrOpenFailure, dir, err)
	}

	seen := make(map[common.Generation]bool)
	var out []Descriptor
	for _, e := range entries {
		gen, compacted, ok := common.ParseDataFile(e.Name())
		if !ok || gen == common.PendingGeneration {
			continue
		}
		if e.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", common.ErrFilesystemCorrupted, e.Name())
		}
		if seen[gen] {
			return nil, fmt.Errorf("%w: duplicate data files for generation %d", common.ErrOpenFailure, gen)
		}
		seen[gen] = true
		out = append(out, Descriptor{Generation: gen, Compacted: compacted})
	}

	indexes, err := fsys.ReadDir(filepath.Join(dir, common.IndexDir))
	if err != nil {
		return nil, fmt.Errorf("%w: read index dir: %w", common.ErrOpenFailure, err)
	}
	for _, e := range indexes {
		gen, ok := common.ParseIndexFile(e.Name())
		if !ok || gen == common.PendingGeneration {
			continue
		}
		if !seen[gen] {
			return nil, fmt.Errorf("%w: index %s has no data file", common.ErrOpenFailure, e.Name())
		}
	}

	slices.SortFunc(out, func(a, b Descriptor) int {
		return cmp.Compare(b.Generation, a.Generation)
	})
	return out, nil
}

// removeSuperseded deletes every segment older than the newest compacted
// one and returns the survivors, newest first.
func removeSuperseded(opts Options, dir string, found []Descriptor) ([]Descriptor, error) {
	cut := -1
	for i, d := range found {
		if d.Compacted {
			cut = i
			break
		}
	}
	if cut < 0 || cut == len(found)-1 {
		return found, nil
	}

	for _, d := range found[cut+1:] {
		if err := RemoveFiles(opts.FS, dir, d.Generation, d.Compacted); err != nil {
			return nil, err
		}
		opts.Logger.Info("deleted superseded segment", "generation", uint64(d.Generation), "compacted_by", uint64(found[cut].Generation))
	}
	return found[:cut+1], nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Acquire returns the current version with a reference the caller must
// release.
func (s *Store) Acquire() *Version {
	for {
		v := s.current.Load()
		if v.tryIncRef() {
			return v
		}
	}
}

// PointLookup searches segments newest to oldest and returns the first entry
// for key, tombstones included, or nil. The entry is a copy.
func (s *Store) PointLookup(key []byte) (*common.Entry, error) {
	v := s.Acquire()
	defer v.Release()

	for _, seg := range v.segments {
		e, ok, err := seg.Get(key)
		if err != nil {
			return nil, fmt.Errorf("generation %d: %w", seg.Generation(), err)
		}
		if ok {
			return e.Clone(), nil
		}
	}
	return nil, nil
}

// RangeLookup returns one iterator per segment, newest first, over [from,
// to). The entries alias the mappings: the caller must release the version
// after it is done with them.
func (s *Store) RangeLookup(from, to []byte) (*Version, []*RangeIterator, error) {
	v := s.Acquire()
	iters := make([]*RangeIterator, 0, len(v.segments))
	for _, seg := range v.segments {
		it, err := seg.Range(from, to)
		if err != nil {
			v.Release()
			return nil, nil, fmt.Errorf("generation %d: %w", seg.Generation(), err)
		}
		iters = append(iters, it)
	}
	return v, iters, nil
}

// NextGeneration reserves and returns the next unused generation.
func (s *Store) NextGeneration() common.Generation {
	return common.Generation(s.lastGen.Add(1))
}

// ReserveGeneration makes sure later NextGeneration calls return values above
// gen.
func (s *Store) ReserveGeneration(gen common.Generation) {
	for {
		last := s.lastGen.Load()
		if last >= uint64(gen) || s.lastGen.CompareAndSwap(last, uint64(gen)) {
			return
		}
	}
}

// LastGeneration returns the highest generation handed out so far.
func (s *Store) LastGeneration() common.Generation {
	return common.Generation(s.lastGen.Load())
}

// Add publishes a freshly written segment. The store takes over the caller's
// reference.
func (s *Store) Add(seg *Segment) error {
	return s.publish(nil, seg)
}

// Replace publishes seg in place of victims and retires them: their files are
// deleted once the last reader releases them.
func (s *Store) Replace(victims []*Segment, seg *Segment) error {
	return s.publish(victims, seg)
}

func (s *Store) publish(victims []*Segment, seg *Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return common.ErrClosed
	}

	old := s.current.Load()
	segments := make([]*Segment, 0, len(old.segments)+1)
	segments = append(segments, seg)
	for _, cur := range old.segments {
		if !slices.Contains(victims, cur) {
			segments = append(segments, cur)
		}
	}
	slices.SortFunc(segments, func(a, b *Segment) int {
		return cmp.Compare(b.Generation(), a.Generation())
	})

	// Victims are deleted newest to oldest as readers let go.
	for _, v := range victims {
		v.MarkObsolete()
	}

	s.current.Store(newVersion(segments))
	seg.DecRef()
	s.ReserveGeneration(seg.Generation())
	old.Release()
	return nil
}

// Close releases the store's version. Segments still pinned by readers stay
// mapped until those readers release them.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	old := s.current.Swap(newVersion(nil))
	old.Release()
	return nil
}
