package memtable

import (
	"bytes"
	"sync/atomic"

	"lsmkv/internal/common"
)

const (
	maxHeight = 16 // Maximum height of skip list

	// entryOverhead approximates the per-node bookkeeping cost.
	entryOverhead = 48
)

// node is a skip list element. Nodes are fully initialised before being
// linked in, and all links are atomic, so readers can walk the list while a
// writer is inserting.
type node struct {
	key   []byte
	entry atomic.Pointer[common.Entry]
	next  []atomic.Pointer[node]
}

func newNode(entry *common.Entry, height int) *node {
	n := &node{
		key:  entry.Key,
		next: make([]atomic.Pointer[node], height),
	}
	n.entry.Store(entry)
	return n
}

// skiplist is the ordered structure behind a Memtable. Mutations must be
// serialized by the caller; reads are lock-free.
type skiplist struct {
	head   *node
	height atomic.Int32
	count  atomic.Int64
	size   atomic.Int64
	rng    uint64 // XorShift64 state, guarded by the writer lock
}

func newSkiplist() *skiplist {
	s := &skiplist{
		head: &node{next: make([]atomic.Pointer[node], maxHeight)},
		rng:  0x9E3779B97F4A7C15,
	}
	s.height.Store(1)
	return s
}

// randomHeight picks a node height with P(level+1) = 1/4.
func (s *skiplist) randomHeight() int {
	height := 1
	for height < maxHeight {
		s.rng ^= s.rng << 13
		s.rng ^= s.rng >> 7
		s.rng ^= s.rng << 17
		if s.rng&3 != 0 {
			break
		}
		height++
	}
	return height
}

// seek returns the first node whose key is >= key, filling preds with the
// rightmost node before it on every level when preds is non-nil.
func (s *skiplist) seek(key []byte, preds *[maxHeight]*node) *node {
	x := s.head
	for level := int(s.height.Load()) - 1; level >= 0; level-- {
		next := x.next[level].Load()
		for next != nil && bytes.Compare(next.key, key) < 0 {
			x = next
			next = x.next[level].Load()
		}
		if preds != nil {
			preds[level] = x
		}
	}
	return x.next[0].Load()
}

// upsert inserts entry or replaces the entry stored under the same key.
func (s *skiplist) upsert(entry *common.Entry) {
	var preds [maxHeight]*node
	for i := range preds {
		preds[i] = s.head
	}

	found := s.seek(entry.Key, &preds)
	if found != nil && bytes.Equal(found.key, entry.Key) {
		old := found.entry.Swap(entry)
		s.size.Add(int64(len(entry.Value) - len(old.Value)))
		return
	}

	height := s.randomHeight()
	n := newNode(entry, height)
	for level := 0; level < height; level++ {
		n.next[level].Store(preds[level].next[level].Load())
	}
	// Publish bottom-up so a reader that sees the node on a high level can
	// always continue on the lower ones.
	for level := 0; level < height; level++ {
		preds[level].next[level].Store(n)
	}
	if int32(height) > s.height.Load() {
		s.height.Store(int32(height))
	}

	s.count.Add(1)
	s.size.Add(int64(len(entry.Key) + len(entry.Value) + entryOverhead))
}

// get returns the entry stored under key.
func (s *skiplist) get(key []byte) (*common.Entry, bool) {
	n := s.seek(key, nil)
	if n == nil || !bytes.Equal(n.key, key) {
		return nil, false
	}
	return n.entry.Load(), true
}
