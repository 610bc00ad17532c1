// Package compaction merges every segment of a store into one.
//
// A compaction runs in five steps:
//
//  1. merge all segments, newest version of each key, tombstones dropped,
//     into the pending slot comp_data0.log / indexes/index0.log and fsync
//  2. record the swap intent (target generation and victims)
//  3. retire the victims, newest first; their files are unlinked once the
//     last reader lets go of them
//  4. rename the pending slot to comp_data<target>.log /
//     indexes/index<target>.log, target being the highest victim + 1
//  5. publish the new segment and drop the intent
//
// A compacted segment supersedes every lower generation, so a crash after
// step 4 is repaired by the store at open. Recover handles a crash between
// steps 1 and 4: the pending slot only appears once it is complete.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lsmkv/internal/common"
	"lsmkv/internal/fs"
	"lsmkv/internal/manifest"
	"lsmkv/internal/merge"
	"lsmkv/internal/metrics"
	"lsmkv/internal/resource"
	"lsmkv/internal/segment"
)

// ErrHalted is returned by every compaction after one failed without being
// able to restore the directory. Recover repairs it at the next open.
var ErrHalted = errors.New("compaction halted until the store is reopened")

// Options configures a Compactor.
type Options struct {
	FS          fs.FileSystem
	Logger      *common.Logger
	Metrics     metrics.Collector
	Controller  *resource.Controller
	BloomFPRate float64
}

// Result describes a finished compaction.
type Result struct {
	// Skipped is true when there was nothing to compact.
	Skipped bool

	Target  common.Generation
	Victims []common.Generation // newest first
	Entries uint64
	Bytes   uint64
}

// Compactor merges the segments of one store.
type Compactor struct {
	dir   string
	store *segment.Store
	opts  Options

	mu     sync.Mutex
	halted error
}

// New creates a compactor for store.
func New(store *segment.Store, opts Options) *Compactor {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = common.NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Compactor{dir: store.Dir(), store: store, opts: opts}
}

// Compact merges every live segment into a single compacted segment. The
// memtable is not part of it. It holds the background slot for its whole
// duration, so it never overlaps a flush.
func (c *Compactor) Compact() (*Result, error) {
	if err := c.opts.Controller.AcquireBackground(context.Background()); err != nil {
		return nil, err
	}
	defer c.opts.Controller.ReleaseBackground()

	if err := c.Err(); err != nil {
		return nil, err
	}

	v := c.store.Acquire()
	defer v.Release()

	victims := v.Segments()
	if len(victims) == 0 || (len(victims) == 1 && victims[0].Compacted()) {
		c.opts.Logger.Debug("nothing to compact", "segments", len(victims))
		return &Result{Skipped: true}, nil
	}

	start := time.Now()
	res, err := c.compact(victims)
	if err != nil {
		c.opts.Metrics.RecordCompaction(len(victims), 0, 0, time.Since(start), err)
		c.opts.Logger.Error("compaction failed", "victims", len(victims), "error", err)
		return nil, err
	}
	c.opts.Metrics.RecordCompaction(len(victims), res.Entries, res.Bytes, time.Since(start), nil)
	c.opts.Logger.WithGeneration(res.Target).LogDuration(start, "compaction finished",
		"victims", len(res.Victims), "entries", res.Entries, "bytes", res.Bytes)
	return res, nil
}

// Err returns the error that halted the compactor, or nil. While it is set
// the directory may hold a pending slot that only Recover can resolve, so no
// new segment may be written next to it.
func (c *Compactor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

func (c *Compactor) halt(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted == nil {
		c.halted = fmt.Errorf("%w: %w", ErrHalted, err)
		c.opts.Logger.Error("compaction halted", "error", err)
	}
	return c.halted
}

func (c *Compactor) compact(victims []*segment.Segment) (*Result, error) {
	fsys := c.opts.FS

	// Leftovers of an earlier failed attempt.
	if err := segment.RemoveFiles(fsys, c.dir, common.PendingGeneration, true); err != nil {
		return nil, err
	}

	sources := make([]merge.Source, 0, len(victims))
	var expected uint64
	for _, seg := range victims {
		sources = append(sources, merge.Source{Iter: seg.Iterator(), Rank: uint64(seg.Generation())})
		expected += uint64(seg.Count())
	}
	it := merge.New(sources)
	written, err := segment.Write(fsys, c.dir, common.PendingGeneration, true, it, segment.WriteOptions{
		BloomFPRate:  c.opts.BloomFPRate,
		ExpectedKeys: expected,
		Wrap:         c.opts.Controller.LimitWriter,
	})
	it.Close()
	if err != nil {
		return nil, err
	}

	target := victims[0].Generation() + 1
	// Flushes must not reuse target even if the swap fails halfway.
	c.store.ReserveGeneration(target)
	res := &Result{Target: target, Entries: written.EntryCount, Bytes: written.BytesWritten}
	journal := make([]manifest.Victim, 0, len(victims))
	for _, seg := range victims {
		res.Victims = append(res.Victims, seg.Generation())
		journal = append(journal, manifest.Victim{Generation: seg.Generation(), Compacted: seg.Compacted()})
	}

	intent := manifest.NewIntent(target, journal)
	if err := manifest.Write(fsys, c.dir, intent); err != nil {
		err = fmt.Errorf("%w: write intent: %w", common.ErrIO, err)
		if derr := c.discardPending(); derr != nil {
			return nil, c.halt(errors.Join(err, derr))
		}
		return nil, err
	}
	c.opts.Logger.Debug("recorded compaction intent", "id", intent.ID, "target", uint64(target))

	for _, seg := range victims {
		seg.MarkObsolete()
	}

	if err := c.swap(target); err != nil {
		for _, seg := range victims {
			seg.Restore()
		}
		return nil, err
	}

	seg, err := segment.Open(c.dir, target, true, segment.OpenOptions{
		FS:          fsys,
		Logger:      c.opts.Logger,
		Filter:      written.Filter,
		BloomFPRate: c.opts.BloomFPRate,
	})
	if err != nil {
		// The swap is durable; the next open picks the segment up.
		for _, v := range victims {
			v.Restore()
		}
		return nil, c.halt(err)
	}
	if err := c.store.Replace(victims, seg); err != nil {
		seg.DecRef()
		return nil, err
	}

	if err := manifest.Remove(fsys, c.dir); err != nil {
		c.opts.Logger.Warn("failed to remove compaction intent", "id", intent.ID, "error", err)
	}
	return res, nil
}

// swap renames the pending slot to target. On failure it tries to leave the
// directory as it was before the compaction; when that fails too the
// compactor halts.
func (c *Compactor) swap(target common.Generation) error {
	fsys := c.opts.FS
	pendingData := common.CompactedDataPath(c.dir, common.PendingGeneration)
	pendingIndex := common.IndexPath(c.dir, common.PendingGeneration)
	targetData := common.CompactedDataPath(c.dir, target)
	targetIndex := common.IndexPath(c.dir, target)

	if err := segment.MoveFilter(fsys, c.dir, common.PendingGeneration, target); err != nil {
		c.opts.Logger.Warn("dropped persisted filter", "generation", uint64(target), "error", err)
	}
	if err := fsys.Rename(pendingIndex, targetIndex); err != nil {
		err = fmt.Errorf("%w: rename %s: %w", common.ErrIO, pendingIndex, err)
		if derr := c.discardPending(); derr != nil {
			return c.halt(errors.Join(err, derr))
		}
		return err
	}
	if err := fsys.Rename(pendingData, targetData); err != nil {
		err = fmt.Errorf("%w: rename %s: %w", common.ErrIO, pendingData, err)
		if rerr := fsys.Rename(targetIndex, pendingIndex); rerr != nil {
			// Recovery completes the swap from the intent at next open.
			return c.halt(errors.Join(err, rerr))
		}
		if derr := c.discardPending(); derr != nil {
			return c.halt(errors.Join(err, derr))
		}
		return err
	}

	if err := syncDirs(fsys, c.dir); err != nil {
		return c.halt(err)
	}
	return nil
}

// discardPending removes the intent and the pending slot after a failed
// attempt.
func (c *Compactor) discardPending() error {
	if err := manifest.Remove(c.opts.FS, c.dir); err != nil {
		return fmt.Errorf("remove compaction intent: %w", err)
	}
	if err := segment.RemoveFiles(c.opts.FS, c.dir, common.PendingGeneration, true); err != nil {
		return fmt.Errorf("remove pending compaction: %w", err)
	}
	return nil
}
