package metrics

import "time"

// Multi forwards every observation to each of its collectors.
type Multi []Collector

var _ Collector = Multi(nil)

func (m Multi) RecordGet(d time.Duration, hit bool, err error) {
	for _, c := range m {
		c.RecordGet(d, hit, err)
	}
}

func (m Multi) RecordRange(d time.Duration, err error) {
	for _, c := range m {
		c.RecordRange(d, err)
	}
}

func (m Multi) RecordWrite(d time.Duration, tombstone bool, err error) {
	for _, c := range m {
		c.RecordWrite(d, tombstone, err)
	}
}

func (m Multi) RecordFlush(entries, bytes uint64, d time.Duration, err error) {
	for _, c := range m {
		c.RecordFlush(entries, bytes, d, err)
	}
}

func (m Multi) RecordCompaction(victims int, entries, bytes uint64, d time.Duration, err error) {
	for _, c := range m {
		c.RecordCompaction(victims, entries, bytes, d, err)
	}
}

func (m Multi) SetMemtableSize(bytes int64) {
	for _, c := range m {
		c.SetMemtableSize(bytes)
	}
}

func (m Multi) SetSegments(count int, bytes int64) {
	for _, c := range m {
		c.SetSegments(count, bytes)
	}
}
