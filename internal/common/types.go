package common

// Generation identifies a segment. Generations are assigned in strictly
// increasing order, so a higher generation holds fresher data.
type Generation uint64

// PendingGeneration is the reserved slot a compaction writes into before the
// result is swapped in.
const PendingGeneration Generation = 0

// EntryIterator produces a stream of entries. Next returns nil when the stream
// is exhausted. Implementations should close underlying resources separately.
type EntryIterator interface {
	Next() (*Entry, error)
}

// EntryIteratorCloser is an iterator that pins resources (segment mappings,
// store versions) until Close is called.
type EntryIteratorCloser interface {
	EntryIterator
	Close() error
}

// SliceIterator iterates over a fixed, already sorted slice of entries.
type SliceIterator struct {
	entries []*Entry
	index   int
}

var _ EntryIteratorCloser = (*SliceIterator)(nil)

// NewSliceIterator returns an iterator over entries.
func NewSliceIterator(entries []*Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (it *SliceIterator) Next() (*Entry, error) {
	if it.index >= len(it.entries) {
		return nil, nil
	}
	entry := it.entries[it.index]
	it.index++
	return entry, nil
}

func (it *SliceIterator) Close() error {
	return nil
}

// Collect drains it into a slice of cloned entries.
func Collect(it EntryIterator) ([]*Entry, error) {
	var out []*Entry
	for {
		entry, err := it.Next()
		if err != nil {
			return out, err
		}
		if entry == nil {
			return out, nil
		}
		out = append(out, entry.Clone())
	}
}
