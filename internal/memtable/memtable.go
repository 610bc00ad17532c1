// Package memtable holds the most recent writes in a concurrent sorted map.
package memtable

import (
	"bytes"
	"sync"
	"sync/atomic"

	"lsmkv/internal/common"
)

// Memtable is an ordered key -> entry map safe for concurrent use. Writers
// are serialized among themselves but never block readers.
type Memtable struct {
	mu   sync.Mutex // serializes writers and Drain
	list atomic.Pointer[skiplist]
}

// New returns an empty memtable.
func New() *Memtable {
	m := &Memtable{}
	m.list.Store(newSkiplist())
	return m
}

// Upsert records entry, replacing any entry for the same key. The key and
// value are copied.
func (m *Memtable) Upsert(entry *common.Entry) error {
	stored := &common.Entry{Type: entry.Type, Key: bytes.Clone(entry.Key)}
	if stored.Key == nil {
		stored.Key = []byte{}
	}
	if entry.Type == common.EntryTypePut {
		stored.Value = bytes.Clone(entry.Value)
		if stored.Value == nil {
			stored.Value = []byte{}
		}
	}

	m.mu.Lock()
	m.list.Load().upsert(stored)
	m.mu.Unlock()
	return nil
}

// Put records or overwrites a key/value pair.
func (m *Memtable) Put(key, value []byte) error {
	return m.Upsert(common.NewPut(key, value))
}

// Delete installs a tombstone for the given key.
func (m *Memtable) Delete(key []byte) error {
	return m.Upsert(common.NewTombstone(key))
}

// Get returns the current entry for key, which may be a tombstone. The
// returned entry must not be modified.
func (m *Memtable) Get(key []byte) (*common.Entry, bool) {
	return m.list.Load().get(key)
}

// Len returns the number of distinct keys.
func (m *Memtable) Len() int {
	return int(m.list.Load().count.Load())
}

// IsEmpty reports whether the memtable holds no entries.
func (m *Memtable) IsEmpty() bool {
	return m.Len() == 0
}

// ApproximateSize estimates the memory held by the entries in bytes.
func (m *Memtable) ApproximateSize() int64 {
	return m.list.Load().size.Load()
}

// Drain atomically detaches every entry into a new read-only Memtable and
// leaves m empty. Writes that completed before Drain are in the result;
// writes that start afterwards go to the fresh table.
func (m *Memtable) Drain() *Memtable {
	m.mu.Lock()
	old := m.list.Swap(newSkiplist())
	m.mu.Unlock()

	drained := &Memtable{}
	drained.list.Store(old)
	return drained
}

// Absorb merges the entries of older back into m, keeping whatever m already
// holds for a key. It undoes a Drain whose flush failed.
func (m *Memtable) Absorb(older *Memtable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.list.Load()
	for n := older.list.Load().head.next[0].Load(); n != nil; n = n.next[0].Load() {
		if _, ok := list.get(n.key); ok {
			continue
		}
		list.upsert(n.entry.Load())
	}
}

// Iterator returns an ascending iterator over all entries, tombstones included.
func (m *Memtable) Iterator() *Iterator {
	return m.Range(nil, nil)
}

// Range returns a lazy ascending iterator over the entries whose keys lie in
// [from, to). A nil bound is open. Each call starts a fresh iteration.
func (m *Memtable) Range(from, to []byte) *Iterator {
	return &Iterator{
		list: m.list.Load(),
		from: bytes.Clone(from),
		to:   bytes.Clone(to),
	}
}

// Iterator walks a memtable in key order. It observes entries inserted
// concurrently ahead of its position.
type Iterator struct {
	list    *skiplist
	from    []byte
	to      []byte
	cur     *node
	started bool
	done    bool
}

var _ common.EntryIteratorCloser = (*Iterator)(nil)

func (it *Iterator) Next() (*common.Entry, error) {
	if it.done {
		return nil, nil
	}

	var n *node
	if !it.started {
		it.started = true
		if it.from == nil {
			n = it.list.head.next[0].Load()
		} else {
			n = it.list.seek(it.from, nil)
		}
	} else {
		n = it.cur.next[0].Load()
	}

	if n == nil || (it.to != nil && bytes.Compare(n.key, it.to) >= 0) {
		it.done = true
		it.cur = nil
		return nil, nil
	}

	it.cur = n
	return n.entry.Load(), nil
}

func (it *Iterator) Close() error {
	it.done = true
	it.cur = nil
	return nil
}
