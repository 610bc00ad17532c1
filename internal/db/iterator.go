package db

import (
	"lsmkv/internal/common"
	"lsmkv/internal/merge"
	"lsmkv/internal/segment"
)

// Iterator walks a merged view of the memtable and a pinned set of segments.
// Returned entries are copies and stay valid after Close.
type Iterator struct {
	merged  *merge.Iterator
	version *segment.Version
	closed  bool
}

var _ common.EntryIteratorCloser = (*Iterator)(nil)

func (db *DB) newIterator(from, to []byte, keepTombstones bool) (*Iterator, error) {
	if db.closed.Load() {
		return nil, common.ErrClosed
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	version, segIters, err := db.store.RangeLookup(from, to)
	if err != nil {
		return nil, err
	}

	sources := make([]merge.Source, 0, len(segIters)+2)
	sources = append(sources, merge.Source{Iter: db.memtable.Range(from, to), Rank: merge.RankMemtable})
	if db.flushing != nil {
		sources = append(sources, merge.Source{Iter: db.flushing.Range(from, to), Rank: merge.RankFlushing})
	}
	for _, it := range segIters {
		sources = append(sources, merge.Source{Iter: it, Rank: uint64(it.Segment().Generation())})
	}

	var opts []merge.Option
	if keepTombstones {
		opts = append(opts, merge.KeepTombstones())
	}
	return &Iterator{merged: merge.New(sources, opts...), version: version}, nil
}

// RangeWithTombstones is Range but also yields the newest tombstone of every
// deleted key in [from, to).
func (db *DB) RangeWithTombstones(from, to []byte) (*Iterator, error) {
	return db.newIterator(from, to, true)
}

// Next returns the next entry, or nil when the range is exhausted.
func (it *Iterator) Next() (*common.Entry, error) {
	if it.closed {
		return nil, nil
	}
	e, err := it.merged.Next()
	if err != nil || e == nil {
		return nil, err
	}
	return e.Clone(), nil
}

func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	err := it.merged.Close()
	it.version.Release()
	return err
}
