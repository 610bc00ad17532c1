package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"lsmkv/internal/archive"
	"lsmkv/internal/common"
	"lsmkv/internal/compaction"
	"lsmkv/internal/fs"
	"lsmkv/internal/memtable"
	"lsmkv/internal/metrics"
	"lsmkv/internal/resource"
	"lsmkv/internal/segment"
	"lsmkv/internal/wal"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrEmptyKey = errors.New("key must not be empty")
)

type DB struct {
	dir  string
	Opts Options

	logger  *common.Logger
	metrics metrics.Collector

	// writeMu keeps the log and the memtable in the same order and is held
	// while a flush swaps both.
	writeMu sync.Mutex
	wal     *wal.Log

	// Logs whose entries are all in the memtable or in segments. They are
	// removed after the next successful flush. Guarded by the background slot.
	retiredWALs []uint64

	// mu orders memtable drains against readers: a reader holding it sees a
	// drained entry either in memtable or in flushing.
	mu       sync.RWMutex
	memtable *memtable.Memtable
	flushing *memtable.Memtable

	store      *segment.Store
	compactor  *compaction.Compactor
	controller *resource.Controller

	closed atomic.Bool
}

func Open(dir string, optFns ...Option) (*DB, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = common.NewLogger(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	logger := opts.Logger.With("dir", dir)

	if err := opts.FS.MkdirAll(filepath.Join(dir, common.IndexDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", common.ErrOpenFailure, dir, err)
	}

	start := time.Now()
	if err := compaction.Recover(opts.FS, dir, logger); err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}

	store, err := segment.OpenStore(dir, segment.Options{
		FS:          opts.FS,
		Logger:      logger,
		BloomFPRate: opts.BloomFalsePositiveRate,
		Parallelism: opts.OpenParallelism,
	})
	if err != nil {
		return nil, err
	}

	mt, walNumbers, err := replayWALs(opts.FS, dir, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	next := uint64(1)
	if len(walNumbers) > 0 {
		next = walNumbers[len(walNumbers)-1] + 1
	}
	log, err := wal.Create(opts.FS, dir, next, opts.SyncWrites)
	if err != nil {
		store.Close()
		return nil, err
	}

	controller := resource.NewController(resource.Config{
		MaxBackgroundWorkers: 1,
		IOLimitBytesPerSec:   opts.CompactionIOLimit,
	})

	db := &DB{
		dir:         dir,
		Opts:        opts,
		logger:      logger,
		metrics:     opts.Metrics,
		wal:         log,
		retiredWALs: walNumbers,
		memtable:    mt,
		store:       store,
		controller:  controller,
	}
	db.compactor = compaction.New(store, compaction.Options{
		FS:          opts.FS,
		Logger:      logger,
		Metrics:     opts.Metrics,
		Controller:  controller,
		BloomFPRate: opts.BloomFalsePositiveRate,
	})
	db.reportSegments()
	db.metrics.SetMemtableSize(mt.ApproximateSize())

	logger.LogDuration(start, "database ready",
		"segments", len(db.Stats().Segments), "recovered_entries", mt.Len())
	return db, nil
}

// replayWALs rebuilds the memtable from the logs left by an earlier run.
func replayWALs(fsys fs.FileSystem, dir string, logger *common.Logger) (*memtable.Memtable, []uint64, error) {
	mt := memtable.New()
	numbers, err := wal.List(fsys, dir)
	if err != nil {
		return nil, nil, err
	}
	for _, n := range numbers {
		count, err := wal.Replay(fsys, dir, n, mt.Upsert)
		if errors.Is(err, wal.ErrTruncated) {
			logger.Warn("ignoring truncated wal tail", "wal", n, "entries", count, "error", err)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("replay wal %d: %w", n, err)
		}
		logger.Debug("replayed wal", "wal", n, "entries", count)
	}
	return mt, numbers, nil
}

func (db *DB) Dir() string { return db.dir }

// Get returns the newest entry for key. Deleted and unknown keys both yield
// ErrNotFound.
func (db *DB) Get(key []byte) (*common.Entry, error) {
	start := time.Now()
	e, err := db.get(key)
	db.metrics.RecordGet(time.Since(start), err == nil, ignoreNotFound(err))
	return e, err
}

func (db *DB) get(key []byte) (*common.Entry, error) {
	if db.closed.Load() {
		return nil, common.ErrClosed
	}

	db.mu.RLock()
	e, ok := db.memtable.Get(key)
	if !ok && db.flushing != nil {
		e, ok = db.flushing.Get(key)
	}
	db.mu.RUnlock()

	if ok {
		if e.IsTombstone() {
			return nil, ErrNotFound
		}
		return e.Clone(), nil
	}

	e, err := db.store.PointLookup(key)
	if err != nil {
		return nil, err
	}
	if e == nil || e.IsTombstone() {
		return nil, ErrNotFound
	}
	return e, nil
}

// Range returns the live entries with keys in [from, to) in ascending order.
// A nil bound is open. The iterator pins the segments it reads from until it
// is closed.
func (db *DB) Range(from, to []byte) (*Iterator, error) {
	start := time.Now()
	it, err := db.newIterator(from, to, false)
	db.metrics.RecordRange(time.Since(start), err)
	return it, err
}

func (db *DB) Upsert(entry *common.Entry) error {
	if len(entry.Key) == 0 {
		return ErrEmptyKey
	}
	if db.closed.Load() {
		return common.ErrClosed
	}

	start := time.Now()
	db.writeMu.Lock()
	err := db.wal.Append(entry)
	if err == nil {
		err = db.memtable.Upsert(entry)
	}
	db.writeMu.Unlock()
	db.metrics.RecordWrite(time.Since(start), entry.IsTombstone(), err)
	if err != nil {
		return err
	}

	size := db.memtable.ApproximateSize()
	db.metrics.SetMemtableSize(size)
	if db.Opts.MemtableFlushThreshold > 0 && size >= db.Opts.MemtableFlushThreshold {
		db.maybeFlush()
	}
	return nil
}

func (db *DB) Put(key, value []byte) error {
	return db.Upsert(common.NewPut(key, value))
}

func (db *DB) Delete(key []byte) error {
	return db.Upsert(common.NewTombstone(key))
}

// maybeFlush flushes unless a flush or compaction is already running. The
// write that crossed the threshold has already succeeded, so a failure here
// is only logged; the entries stay in the memtable.
func (db *DB) maybeFlush() {
	if !db.controller.TryAcquireBackground() {
		return
	}
	defer db.controller.ReleaseBackground()

	if err := db.flush(); err != nil {
		db.logger.Warn("automatic flush failed", "error", err)
	}
}

// Flush writes the memtable to a new segment. It waits for a running
// compaction to finish.
func (db *DB) Flush() error {
	if db.closed.Load() {
		return common.ErrClosed
	}
	if err := db.controller.AcquireBackground(context.Background()); err != nil {
		return err
	}
	defer db.controller.ReleaseBackground()
	return db.flush()
}

// flush runs with the background slot held. A halted compactor may have
// left a pending slot that Recover resolves against the segments on disk, so
// no segment is added until the store is reopened; writes stay in the WAL.
func (db *DB) flush() error {
	db.writeMu.Lock()
	if db.memtable.IsEmpty() {
		db.writeMu.Unlock()
		return nil
	}
	if err := db.compactor.Err(); err != nil {
		db.writeMu.Unlock()
		return err
	}
	nextLog, err := wal.Create(db.Opts.FS, db.dir, db.wal.Number()+1, db.Opts.SyncWrites)
	if err != nil {
		db.writeMu.Unlock()
		return err
	}
	db.mu.Lock()
	drained := db.memtable.Drain()
	db.flushing = drained
	db.mu.Unlock()
	prevLog := db.wal
	db.wal = nextLog
	db.writeMu.Unlock()

	if err := prevLog.Close(); err != nil {
		db.logger.Warn("closing wal", "wal", prevLog.Number(), "error", err)
	}
	db.retiredWALs = append(db.retiredWALs, prevLog.Number())

	start := time.Now()
	gen := db.store.NextGeneration()
	logger := db.logger.WithGeneration(gen)

	seg, res, err := db.writeSegment(gen, drained)
	if err == nil {
		err = db.store.Add(seg)
		if err != nil {
			seg.DecRef()
			_ = segment.RemoveFiles(db.Opts.FS, db.dir, gen, false)
		}
	}
	if err != nil {
		// Put the entries back so nothing acknowledged is lost.
		db.mu.Lock()
		db.memtable.Absorb(drained)
		db.flushing = nil
		db.mu.Unlock()

		db.metrics.RecordFlush(0, 0, time.Since(start), err)
		logger.Error("flush failed", "entries", drained.Len(), "error", err)
		return err
	}

	db.mu.Lock()
	db.flushing = nil
	db.mu.Unlock()
	db.removeRetiredWALs()

	db.metrics.RecordFlush(res.EntryCount, res.BytesWritten, time.Since(start), nil)
	db.metrics.SetMemtableSize(db.memtable.ApproximateSize())
	db.reportSegments()
	logger.LogDuration(start, "flushed memtable",
		"entries", res.EntryCount, "tombstones", res.Tombstones, "bytes", res.BytesWritten)
	return nil
}

func (db *DB) writeSegment(gen common.Generation, mt *memtable.Memtable) (*segment.Segment, *segment.WriteResult, error) {
	it := mt.Iterator()
	defer it.Close()

	res, err := segment.Write(db.Opts.FS, db.dir, gen, false, it, segment.WriteOptions{
		BloomFPRate:  db.Opts.BloomFalsePositiveRate,
		ExpectedKeys: uint64(mt.Len()),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("write generation %d: %w", gen, err)
	}

	seg, err := segment.Open(db.dir, gen, false, segment.OpenOptions{
		FS:          db.Opts.FS,
		Logger:      db.logger,
		Filter:      res.Filter,
		BloomFPRate: db.Opts.BloomFalsePositiveRate,
	})
	if err != nil {
		_ = segment.RemoveFiles(db.Opts.FS, db.dir, gen, false)
		return nil, nil, fmt.Errorf("%w: open generation %d: %v", common.ErrIO, gen, err)
	}
	return seg, res, nil
}

// Compact merges every segment into one. The memtable is left alone.
func (db *DB) Compact() error {
	if db.closed.Load() {
		return common.ErrClosed
	}
	if _, err := db.compactor.Compact(); err != nil {
		return err
	}
	db.reportSegments()
	return nil
}

// Export streams every live entry to w. It returns the number of entries
// written.
func (db *DB) Export(w io.Writer, c archive.Compression) (uint64, error) {
	it, err := db.Range(nil, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	return archive.Export(w, it, c)
}

// Import upserts every entry of an archive written by Export.
func (db *DB) Import(r io.Reader) (uint64, error) {
	return archive.Import(r, db.Upsert)
}

// Close flushes the memtable and releases the segments. Iterators still open
// keep their segments mapped until they are closed.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}

	var flushErr error
	if err := db.controller.AcquireBackground(context.Background()); err != nil {
		flushErr = err
	} else {
		flushErr = db.flush()
		db.controller.ReleaseBackground()
	}
	if flushErr != nil {
		flushErr = fmt.Errorf("final flush: %w", flushErr)
	}

	db.writeMu.Lock()
	walErr := db.wal.Close()
	if flushErr == nil && db.memtable.IsEmpty() {
		db.retiredWALs = append(db.retiredWALs, db.wal.Number())
		db.removeRetiredWALs()
	}
	db.writeMu.Unlock()

	return errors.Join(flushErr, walErr, db.store.Close())
}

func (db *DB) removeRetiredWALs() {
	kept := db.retiredWALs[:0]
	for _, n := range db.retiredWALs {
		if err := wal.Remove(db.Opts.FS, db.dir, n); err != nil {
			db.logger.Warn("removing wal", "wal", n, "error", err)
			kept = append(kept, n)
		}
	}
	db.retiredWALs = kept
}

func (db *DB) reportSegments() {
	v := db.store.Acquire()
	defer v.Release()

	var size int64
	for _, seg := range v.Segments() {
		size += seg.Size()
	}
	db.metrics.SetSegments(len(v.Segments()), size)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
