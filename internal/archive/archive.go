// Package archive writes and reads logical backups of a store.
//
// Archive layout:
//
//	┌──────────────────┬─────────────┬─────────────────┬──────────────────────────────┐
//	│ magic "LSMKVARC" │ version u8  │ compression u8  │ compressed stream of entries │
//	└──────────────────┴─────────────┴─────────────────┴──────────────────────────────┘
//
// Entries use the segment entry encoding and are written in ascending key
// order. Only live values are exported; tombstones have nothing to restore.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"lsmkv/internal/codec"
	"lsmkv/internal/common"
)

// Compression defines the compression algorithm of an archive.
type Compression uint8

const (
	// CompressionNone indicates no compression.
	CompressionNone Compression = 0
	// CompressionLZ4 indicates an LZ4 frame (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD indicates a zstd stream (better ratio).
	CompressionZSTD Compression = 2
)

const formatVersion = 1

var magic = []byte("LSMKVARC")

// ErrBadArchive is returned when the header is not recognized.
var ErrBadArchive = errors.New("archive: not an lsmkv archive")

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "zstd":
		return CompressionZSTD, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCompressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZSTD:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("%w: unsupported compression %d", ErrBadArchive, c)
	}
}

func newDecompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionZSTD:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported compression %d", ErrBadArchive, c)
	}
}

// Export writes every live entry of it to w. It returns the number of
// entries written.
func Export(w io.Writer, it common.EntryIterator, c Compression) (uint64, error) {
	header := append(bytes.Clone(magic), formatVersion, byte(c))
	if _, err := w.Write(header); err != nil {
		return 0, err
	}

	zw, err := newCompressor(w, c)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(zw)

	var count uint64
	for {
		e, err := it.Next()
		if err != nil {
			zw.Close()
			return count, err
		}
		if e == nil {
			break
		}
		if e.IsTombstone() {
			continue
		}
		if _, err := codec.WriteEntry(bw, e); err != nil {
			zw.Close()
			return count, err
		}
		count++
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return count, err
	}
	return count, zw.Close()
}

// Import reads an archive from r and passes every entry to fn in order. It
// returns the number of entries read.
func Import(r io.Reader, fn func(*common.Entry) error) (uint64, error) {
	header := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return 0, ErrBadArchive
	}
	if v := header[len(magic)]; v != formatVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrBadArchive, v)
	}

	zr, closeFn, err := newDecompressor(r, Compression(header[len(magic)+1]))
	if err != nil {
		return 0, err
	}
	defer closeFn()
	br := bufio.NewReader(zr)

	var count uint64
	for {
		e, err := codec.ReadEntry(br)
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("entry %d: %w", count, err)
		}
		if err := fn(e); err != nil {
			return count, err
		}
		count++
	}
}
