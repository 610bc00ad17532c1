// Package merge combines several sorted entry streams into one.
//
// Each source carries a rank. When several sources hold the same key, the
// entry from the highest-ranked source wins and the others are discarded.
// Segments rank by generation, the memtable above every segment.
package merge

import (
	"bytes"
	"container/heap"
	"errors"
	"math"

	"lsmkv/internal/common"
)

const (
	// RankMemtable is the rank of the active memtable.
	RankMemtable uint64 = math.MaxUint64

	// RankFlushing is the rank of a memtable that is being written to disk.
	RankFlushing uint64 = RankMemtable - 1
)

// Source is one sorted stream taking part in a merge.
type Source struct {
	Iter common.EntryIterator
	Rank uint64
}

// Option configures an Iterator.
type Option func(*Iterator)

// KeepTombstones makes the iterator return winning tombstones instead of
// skipping them.
func KeepTombstones() Option {
	return func(it *Iterator) {
		it.keepTombstones = true
	}
}

type cursor struct {
	iter common.EntryIterator
	rank uint64
	head *common.Entry
}

// cursorHeap is a min-heap ordered by head key only. Next settles equal keys
// by rank.
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	return bytes.Compare(h[i].head.Key, h[j].head.Key) < 0
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Iterator yields the newest version of every key across its sources in
// ascending key order.
type Iterator struct {
	sources        []Source
	heap           cursorHeap
	keepTombstones bool
	err            error
	closed         bool
}

var _ common.EntryIteratorCloser = (*Iterator)(nil)

// New creates an iterator over sources. Each source is read lazily; the
// first entry of every source is pulled here.
func New(sources []Source, opts ...Option) *Iterator {
	it := &Iterator{sources: sources}
	for _, opt := range opts {
		opt(it)
	}

	it.heap = make(cursorHeap, 0, len(sources))
	for _, src := range sources {
		c := &cursor{iter: src.Iter, rank: src.Rank}
		head, err := c.iter.Next()
		if err != nil {
			it.err = err
			return it
		}
		if head == nil {
			continue
		}
		c.head = head
		it.heap = append(it.heap, c)
	}
	heap.Init(&it.heap)
	return it
}

// advance moves the top cursor forward and restores the heap.
func (it *Iterator) advance() error {
	c := it.heap[0]
	next, err := c.iter.Next()
	if err != nil {
		return err
	}
	if next == nil {
		heap.Pop(&it.heap)
		return nil
	}
	c.head = next
	heap.Fix(&it.heap, 0)
	return nil
}

// Next returns the next winning entry, or nil when every source is drained.
func (it *Iterator) Next() (*common.Entry, error) {
	if it.err != nil {
		return nil, it.err
	}

	for it.heap.Len() > 0 {
		top := it.heap[0]
		winner, winnerRank := top.head, top.rank
		if err := it.advance(); err != nil {
			it.err = err
			return nil, err
		}

		for it.heap.Len() > 0 && bytes.Equal(it.heap[0].head.Key, winner.Key) {
			if it.heap[0].rank > winnerRank {
				winner, winnerRank = it.heap[0].head, it.heap[0].rank
			}
			if err := it.advance(); err != nil {
				it.err = err
				return nil, err
			}
		}

		if winner.IsTombstone() && !it.keepTombstones {
			continue
		}
		return winner, nil
	}
	return nil, nil
}

// Close closes every source that implements Close.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.heap = nil

	var errs []error
	for _, src := range it.sources {
		if c, ok := src.Iter.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
