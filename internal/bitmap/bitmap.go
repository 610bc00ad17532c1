package bitmap

import (
	"fmt"
	"io"
	"math/bits"

	"lsmkv/internal/common"
)

// bitmapImpl is a concrete implementation of the Bitmap interface.
type bitmapImpl struct {
	data    []byte // Backing storage: each byte stores 8 bits
	numBits uint64
}

var _ Bitmap = (*bitmapImpl)(nil)

// NewBitmap creates a new bitmap with the specified number of bits.
// All bits are initialized to 0.
func NewBitmap(numBits uint64) Bitmap {
	return &bitmapImpl{
		data:    make([]byte, byteLen(numBits)),
		numBits: numBits,
	}
}

func byteLen(numBits uint64) uint64 {
	return (numBits + 7) / 8
}

func (b *bitmapImpl) check(i uint64) {
	if i >= b.numBits {
		panic(fmt.Sprintf("bitmap: index %d out of range [0, %d)", i, b.numBits))
	}
}

// Add sets the bit at position i to 1 (adds i to the set).
func (b *bitmapImpl) Add(i uint64) {
	b.check(i)
	b.data[i/8] |= 1 << (i % 8)
}

// Remove sets the bit at position i to 0 (removes i from the set).
func (b *bitmapImpl) Remove(i uint64) {
	b.check(i)
	b.data[i/8] &^= 1 << (i % 8)
}

// Contains returns true if bit at position i is set (i is in the set).
func (b *bitmapImpl) Contains(i uint64) bool {
	b.check(i)
	return b.data[i/8]&(1<<(i%8)) != 0
}

func (b *bitmapImpl) Len() uint64 {
	return b.numBits
}

func (b *bitmapImpl) Bytes() []byte {
	return b.data
}

// Cardinality returns the number of set bits.
func Cardinality(b Bitmap) uint64 {
	var n int
	for _, x := range b.Bytes() {
		n += bits.OnesCount8(x)
	}
	return uint64(n)
}

// WriteBitmap serializes a bitmap to a writer.
// Format: [8 bytes: numBits][data bytes]
// Returns the number of bytes written.
func WriteBitmap(w io.Writer, b Bitmap) (int, error) {
	total := 0

	n, err := common.WriteUint64(w, b.Len())
	total += n
	if err != nil {
		return total, err
	}

	n, err = common.WriteBytes(w, b.Bytes())
	total += n
	return total, err
}

// ReadBitmap deserializes a bitmap from a reader.
func ReadBitmap(r io.Reader) (Bitmap, error) {
	numBits, err := common.ReadUint64(r)
	if err != nil {
		return nil, err
	}

	data, err := common.ReadBytes(r, byteLen(numBits))
	if err != nil {
		return nil, err
	}

	return &bitmapImpl{
		data:    data,
		numBits: numBits,
	}, nil
}
