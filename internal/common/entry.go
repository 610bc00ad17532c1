package common

import "bytes"

// EntryType enumerates the logical operations flowing through the memtable
// and segments.
type EntryType uint8

const (
	EntryTypePut EntryType = iota
	EntryTypeDelete
)

// Entry is a single key mutation. A delete entry is a tombstone: it carries
// no value and suppresses older values for the same key.
type Entry struct {
	Type  EntryType
	Key   []byte
	Value []byte
}

// NewPut returns a put entry for key/value.
func NewPut(key, value []byte) *Entry {
	return &Entry{Type: EntryTypePut, Key: key, Value: value}
}

// NewTombstone returns a delete entry for key.
func NewTombstone(key []byte) *Entry {
	return &Entry{Type: EntryTypeDelete, Key: key}
}

// IsTombstone reports whether the entry marks its key as deleted.
func (e *Entry) IsTombstone() bool {
	return e.Type == EntryTypeDelete
}

// Clone returns a deep copy that does not alias the receiver's buffers.
// Entries decoded from a mapped segment must be cloned before the segment
// is released.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := &Entry{Type: e.Type, Key: bytes.Clone(e.Key)}
	if e.Type == EntryTypePut {
		out.Value = bytes.Clone(e.Value)
		if out.Value == nil {
			out.Value = []byte{}
		}
	}
	return out
}
