// Package codec encodes segment entries and offset indexes.
//
// Entry layout (big-endian):
//
//	┌──────────────┬─────────┬────────────────────────────┬───────────┐
//	│ keyLen int32 │   key   │ valueLen int32 (-1 = tomb) │   value   │
//	└──────────────┴─────────┴────────────────────────────┴───────────┘
//
// The index file is a flat array of int64 offsets, one per entry, in the same
// order as the data file. Decoding never validates checksums, but every length
// field is bounds-checked against the buffer and a violation is reported as
// common.ErrCorruptSegment.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"lsmkv/internal/common"
)

const (
	// TombstoneFlag replaces the value length of a delete entry.
	TombstoneFlag int32 = -1

	// LengthSize is the width of a key or value length field.
	LengthSize = 4

	// OffsetSize is the width of one index slot.
	OffsetSize = 8

	// MaxFieldSize bounds a key or a value: a length must fit an int32 that
	// is not the tombstone flag.
	MaxFieldSize = math.MaxInt32

	// readChunkSize is the largest field ReadEntry allocates up front. Longer
	// fields grow as bytes arrive so a corrupt length cannot force a huge
	// allocation.
	readChunkSize = 64 * 1024
)

// ErrEntryTooLarge is returned when a key or value does not fit a length field.
var ErrEntryTooLarge = errors.New("codec: entry too large")

// CheckEntry reports whether e can be encoded.
func CheckEntry(e *common.Entry) error {
	return checkLengths(len(e.Key), len(e.Value))
}

func checkLengths(keyLen, valueLen int) error {
	if keyLen > MaxFieldSize || valueLen > MaxFieldSize {
		return fmt.Errorf("%w: key=%d value=%d bytes", ErrEntryTooLarge, keyLen, valueLen)
	}
	return nil
}

// EntrySize returns the encoded size of e in bytes.
func EntrySize(e *common.Entry) int {
	size := 2*LengthSize + len(e.Key)
	if !e.IsTombstone() {
		size += len(e.Value)
	}
	return size
}

// AppendEntry appends the encoding of e to dst. Callers check the sizes with
// CheckEntry first.
func AppendEntry(dst []byte, e *common.Entry) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(e.Key)))
	dst = append(dst, e.Key...)
	if e.IsTombstone() {
		return binary.BigEndian.AppendUint32(dst, math.MaxUint32) // TombstoneFlag
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(e.Value)))
	return append(dst, e.Value...)
}

// WriteEntry writes the encoding of e to w and returns the bytes written.
func WriteEntry(w io.Writer, e *common.Entry) (int, error) {
	if err := CheckEntry(e); err != nil {
		return 0, err
	}
	buf := AppendEntry(make([]byte, 0, EntrySize(e)), e)
	return w.Write(buf)
}

// readLength reads the int32 at off.
func readLength(buf []byte, off int64) (int32, error) {
	if off < 0 || off > int64(len(buf))-LengthSize {
		return 0, fmt.Errorf("%w: length field at %d beyond %d bytes", common.ErrCorruptSegment, off, len(buf))
	}
	return int32(binary.BigEndian.Uint32(buf[off:])), nil
}

// DecodeKey returns the key of the entry starting at off. The slice aliases buf.
func DecodeKey(buf []byte, off int64) ([]byte, error) {
	keyLen, err := readLength(buf, off)
	if err != nil {
		return nil, err
	}
	start := off + LengthSize
	if keyLen < 0 || int64(keyLen) > int64(len(buf))-start {
		return nil, fmt.Errorf("%w: key length %d at %d exceeds buffer", common.ErrCorruptSegment, keyLen, off)
	}
	return buf[start : start+int64(keyLen)], nil
}

// DecodeEntry decodes the entry starting at off and returns it together with
// the offset of the following entry. Key and value alias buf.
func DecodeEntry(buf []byte, off int64) (*common.Entry, int64, error) {
	key, err := DecodeKey(buf, off)
	if err != nil {
		return nil, 0, err
	}
	pos := off + LengthSize + int64(len(key))

	valueLen, err := readLength(buf, pos)
	if err != nil {
		return nil, 0, err
	}
	pos += LengthSize

	if valueLen == TombstoneFlag {
		return common.NewTombstone(key), pos, nil
	}
	if valueLen < 0 || int64(valueLen) > int64(len(buf))-pos {
		return nil, 0, fmt.Errorf("%w: value length %d at %d exceeds buffer", common.ErrCorruptSegment, valueLen, off)
	}
	value := buf[pos : pos+int64(valueLen)]
	return common.NewPut(key, value), pos + int64(valueLen), nil
}

// AppendOffset appends one index slot to dst.
func AppendOffset(dst []byte, off int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(off))
}

// WriteOffset writes one index slot to w.
func WriteOffset(w io.Writer, off int64) (int, error) {
	return common.WriteUint64(w, uint64(off))
}

// OffsetCount returns the number of slots in an index buffer.
func OffsetCount(index []byte) (int, error) {
	if len(index)%OffsetSize != 0 {
		return 0, fmt.Errorf("%w: index size %d is not a multiple of %d", common.ErrCorruptSegment, len(index), OffsetSize)
	}
	return len(index) / OffsetSize, nil
}

// OffsetAt returns the data offset stored in slot i.
func OffsetAt(index []byte, i int) (int64, error) {
	start := int64(i) * OffsetSize
	if i < 0 || start > int64(len(index))-OffsetSize {
		return 0, fmt.Errorf("%w: index slot %d beyond %d bytes", common.ErrCorruptSegment, i, len(index))
	}
	off := int64(binary.BigEndian.Uint64(index[start:]))
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset in slot %d", common.ErrCorruptSegment, i)
	}
	return off, nil
}

// ReadEntry reads one encoded entry from a stream. It returns io.EOF when the
// stream ends cleanly before an entry and io.ErrUnexpectedEOF when it ends
// inside one.
func ReadEntry(r io.Reader) (*common.Entry, error) {
	keyLen, err := common.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if int32(keyLen) < 0 {
		return nil, fmt.Errorf("%w: negative key length", common.ErrCorruptSegment)
	}
	key, err := readExactly(r, keyLen)
	if err != nil {
		return nil, err
	}

	valueLen, err := common.ReadUint32(r)
	if err != nil {
		return nil, eofIsUnexpected(err)
	}
	if int32(valueLen) == TombstoneFlag {
		return common.NewTombstone(key), nil
	}
	if int32(valueLen) < 0 {
		return nil, fmt.Errorf("%w: negative value length", common.ErrCorruptSegment)
	}
	value, err := readExactly(r, valueLen)
	if err != nil {
		return nil, err
	}
	return common.NewPut(key, value), nil
}

func readExactly(r io.Reader, n uint32) ([]byte, error) {
	if n <= readChunkSize {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, eofIsUnexpected(err)
		}
		return buf, nil
	}

	var buf bytes.Buffer
	buf.Grow(readChunkSize)
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		return nil, eofIsUnexpected(err)
	}
	return buf.Bytes(), nil
}

func eofIsUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
