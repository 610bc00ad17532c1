package filter

// noOpFilter is a filter that always returns true (no filtering).
// Segments use it when bloom filters are disabled.
type noOpFilter struct{}

var _ Builder = (*noOpFilter)(nil)

// MayContain always returns true, meaning no filtering is performed.
func (f *noOpFilter) MayContain(key []byte) bool {
	return true
}

func (f *noOpFilter) Add(key []byte) {}

// NewNoOpFilter creates a new no-op filter.
func NewNoOpFilter() Builder {
	return &noOpFilter{}
}

// New returns a bloom filter sized for n keys at false positive rate p, or a
// no-op filter when p is outside (0, 1).
func New(n uint64, p float64) Builder {
	if p <= 0 || p >= 1 {
		return NewNoOpFilter()
	}
	return NewBloomFilter(OptimalBloomFilterParams(n, p))
}
