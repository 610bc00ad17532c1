package filter

// Filter provides fast negative lookups for keys in a segment.
// A bloom filter can definitively say a key is NOT present, but can only
// say a key MIGHT be present (false positives possible, false negatives not).
type Filter interface {
	// MayContain returns true if the key might be in the segment.
	// Returns false if the key is definitely NOT in the segment.
	MayContain(key []byte) bool
}

// Builder is a Filter that keys can be added to.
type Builder interface {
	Filter
	Add(key []byte)
}
