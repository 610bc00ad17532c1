// Package metrics records operational metrics of the store.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector defines an interface for collecting operational metrics.
// Implement this interface to integrate with other monitoring systems.
type Collector interface {
	// RecordGet is called after each point lookup. hit is false when the key
	// was absent or deleted.
	RecordGet(duration time.Duration, hit bool, err error)

	// RecordRange is called when a range iterator is opened.
	RecordRange(duration time.Duration, err error)

	// RecordWrite is called after each upsert. tombstone is true for deletes.
	RecordWrite(duration time.Duration, tombstone bool, err error)

	// RecordFlush is called after each memtable flush.
	RecordFlush(entries, bytes uint64, duration time.Duration, err error)

	// RecordCompaction is called after each compaction that did work.
	RecordCompaction(victims int, entries, bytes uint64, duration time.Duration, err error)

	// SetMemtableSize reports the approximate memtable size in bytes.
	SetMemtableSize(bytes int64)

	// SetSegments reports the number and total size of live segments.
	SetSegments(count int, bytes int64)
}

// Noop is a no-op implementation of Collector.
// Use this when metrics collection is not needed.
type Noop struct{}

var _ Collector = Noop{}

func (Noop) RecordGet(time.Duration, bool, error)                       {}
func (Noop) RecordRange(time.Duration, error)                           {}
func (Noop) RecordWrite(time.Duration, bool, error)                     {}
func (Noop) RecordFlush(uint64, uint64, time.Duration, error)           {}
func (Noop) RecordCompaction(int, uint64, uint64, time.Duration, error) {}
func (Noop) SetMemtableSize(int64)                                      {}
func (Noop) SetSegments(int, int64)                                     {}

// Basic provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type Basic struct {
	GetCount         atomic.Int64
	GetHits          atomic.Int64
	GetErrors        atomic.Int64
	GetTotalNanos    atomic.Int64
	RangeCount       atomic.Int64
	RangeErrors      atomic.Int64
	WriteCount       atomic.Int64
	DeleteCount      atomic.Int64
	WriteErrors      atomic.Int64
	WriteTotalNanos  atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	FlushedEntries   atomic.Int64
	FlushedBytes     atomic.Int64
	CompactionCount  atomic.Int64
	CompactionErrors atomic.Int64
	CompactedBytes   atomic.Int64
	MemtableBytes    atomic.Int64
	SegmentCount     atomic.Int64
	SegmentBytes     atomic.Int64
}

var _ Collector = (*Basic)(nil)

// RecordGet implements Collector.
func (b *Basic) RecordGet(duration time.Duration, hit bool, err error) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.GetHits.Add(1)
	}
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordRange implements Collector.
func (b *Basic) RecordRange(duration time.Duration, err error) {
	b.RangeCount.Add(1)
	if err != nil {
		b.RangeErrors.Add(1)
	}
}

// RecordWrite implements Collector.
func (b *Basic) RecordWrite(duration time.Duration, tombstone bool, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if tombstone {
		b.DeleteCount.Add(1)
	}
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordFlush implements Collector.
func (b *Basic) RecordFlush(entries, bytes uint64, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushedEntries.Add(int64(entries))
	b.FlushedBytes.Add(int64(bytes))
}

// RecordCompaction implements Collector.
func (b *Basic) RecordCompaction(victims int, entries, bytes uint64, duration time.Duration, err error) {
	b.CompactionCount.Add(1)
	if err != nil {
		b.CompactionErrors.Add(1)
		return
	}
	b.CompactedBytes.Add(int64(bytes))
}

// SetMemtableSize implements Collector.
func (b *Basic) SetMemtableSize(bytes int64) {
	b.MemtableBytes.Store(bytes)
}

// SetSegments implements Collector.
func (b *Basic) SetSegments(count int, bytes int64) {
	b.SegmentCount.Store(int64(count))
	b.SegmentBytes.Store(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *Basic) GetStats() BasicStats {
	return BasicStats{
		GetCount:         b.GetCount.Load(),
		GetHits:          b.GetHits.Load(),
		GetErrors:        b.GetErrors.Load(),
		GetAvgNanos:      avg(b.GetTotalNanos.Load(), b.GetCount.Load()),
		RangeCount:       b.RangeCount.Load(),
		RangeErrors:      b.RangeErrors.Load(),
		WriteCount:       b.WriteCount.Load(),
		DeleteCount:      b.DeleteCount.Load(),
		WriteErrors:      b.WriteErrors.Load(),
		WriteAvgNanos:    avg(b.WriteTotalNanos.Load(), b.WriteCount.Load()),
		FlushCount:       b.FlushCount.Load(),
		FlushErrors:      b.FlushErrors.Load(),
		FlushedEntries:   b.FlushedEntries.Load(),
		FlushedBytes:     b.FlushedBytes.Load(),
		CompactionCount:  b.CompactionCount.Load(),
		CompactionErrors: b.CompactionErrors.Load(),
		CompactedBytes:   b.CompactedBytes.Load(),
		MemtableBytes:    b.MemtableBytes.Load(),
		SegmentCount:     b.SegmentCount.Load(),
		SegmentBytes:     b.SegmentBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicStats is a snapshot of Basic state.
type BasicStats struct {
	GetCount         int64
	GetHits          int64
	GetErrors        int64
	GetAvgNanos      int64
	RangeCount       int64
	RangeErrors      int64
	WriteCount       int64
	DeleteCount      int64
	WriteErrors      int64
	WriteAvgNanos    int64
	FlushCount       int64
	FlushErrors      int64
	FlushedEntries   int64
	FlushedBytes     int64
	CompactionCount  int64
	CompactionErrors int64
	CompactedBytes   int64
	MemtableBytes    int64
	SegmentCount     int64
	SegmentBytes     int64
}
