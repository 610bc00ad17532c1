package filter

import (
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"lsmkv/internal/bitmap"
	"lsmkv/internal/common"
)

// minBits keeps the filter addressable when a segment is empty.
const minBits = 64

// bloomFilter implements a space-efficient probabilistic data structure
// for set membership testing with no false negatives.
type bloomFilter struct {
	bitmap bitmap.Bitmap
	k      uint32 // number of hash functions
	m      uint64 // number of bits in bitmap
}

var _ Builder = (*bloomFilter)(nil)

// OptimalBloomFilterParams computes optimal bloom filter parameters.
// n: expected number of elements to insert
// p: desired false positive rate (e.g., 0.01 for 1%)
// Returns: k (number of hash functions), m (number of bits)
func OptimalBloomFilterParams(n uint64, p float64) (k uint32, m uint64) {
	if n == 0 {
		return 1, minBits
	}

	// m = -n * ln(p) / (ln(2)^2)
	m = uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < minBits {
		m = minBits
	}

	// k = (m/n) * ln(2)
	k = uint32(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}

	return k, m
}

// NewBloomFilter creates a new bloom filter.
// k: number of hash functions
// m: number of bits in the bitmap
func NewBloomFilter(k uint32, m uint64) Builder {
	return &bloomFilter{
		bitmap: bitmap.NewBitmap(m),
		k:      k,
		m:      m,
	}
}

// Add inserts a key into the bloom filter.
func (bf *bloomFilter) Add(key []byte) {
	h1, h2 := bf.hash(key)
	for i := uint32(0); i < bf.k; i++ {
		bf.bitmap.Add((h1 + uint64(i)*h2) % bf.m)
	}
}

// MayContain returns true if the key might be in the set.
// Returns false if the key is definitely NOT in the set.
func (bf *bloomFilter) MayContain(key []byte) bool {
	h1, h2 := bf.hash(key)
	for i := uint32(0); i < bf.k; i++ {
		if !bf.bitmap.Contains((h1 + uint64(i)*h2) % bf.m) {
			return false
		}
	}
	return true
}

// hash derives the two double-hashing values from one 64-bit xxhash digest.
func (bf *bloomFilter) hash(key []byte) (uint64, uint64) {
	h := xxhash.Sum64(key)
	h1 := h
	h2 := h>>32 | h<<32

	// Ensure hash2 is odd so consecutive positions never collapse onto one bit
	h2 |= 1

	return h1, h2
}

// Serializable reports whether WriteBloomFilter accepts f.
func Serializable(f Filter) bool {
	_, ok := f.(*bloomFilter)
	return ok
}

// WriteBloomFilter serializes a bloom filter to a writer.
// Format: [k: uint32][bitmap: numBits uint64, data]
func WriteBloomFilter(w io.Writer, f Filter) (int, error) {
	bf, ok := f.(*bloomFilter)
	if !ok {
		return 0, fmt.Errorf("filter: cannot serialize %T", f)
	}

	total, err := common.WriteUint32(w, bf.k)
	if err != nil {
		return total, err
	}

	n, err := bitmap.WriteBitmap(w, bf.bitmap)
	total += n
	return total, err
}

// ReadBloomFilter deserializes a bloom filter from a reader.
func ReadBloomFilter(r io.Reader) (Builder, error) {
	k, err := common.ReadUint32(r)
	if err != nil {
		return nil, err
	}

	b, err := bitmap.ReadBitmap(r)
	if err != nil {
		return nil, err
	}
	if k == 0 || b.Len() == 0 {
		return nil, fmt.Errorf("filter: invalid parameters k=%d m=%d", k, b.Len())
	}

	return &bloomFilter{bitmap: b, k: k, m: b.Len()}, nil
}

// FillRatio reports the fraction of set bits, or 0 for a no-op filter.
func FillRatio(f Filter) float64 {
	bf, ok := f.(*bloomFilter)
	if !ok || bf.m == 0 {
		return 0
	}
	return float64(bitmap.Cardinality(bf.bitmap)) / float64(bf.m)
}
