package db

import "lsmkv/internal/common"

type SegmentStats struct {
	Generation common.Generation
	Compacted  bool
	Entries    int
	Bytes      int64
}

type Stats struct {
	MemtableEntries int
	MemtableBytes   int64
	FlushingEntries int

	Segments       []SegmentStats // newest first
	SegmentBytes   int64
	LastGeneration common.Generation

	Maintenance MaintenanceStats
}

// MaintenanceStats describes flush and compaction activity.
type MaintenanceStats struct {
	Running int64 // jobs holding the background slot
	Halted  error // set once compaction stopped after a failed cleanup

	CompactionIOBytes int64
	CompactionIOLimit int64 // bytes per second, 0 when unlimited
}

// Stats returns a point-in-time summary of the store.
func (db *DB) Stats() Stats {
	var s Stats

	db.mu.RLock()
	s.MemtableEntries = db.memtable.Len()
	s.MemtableBytes = db.memtable.ApproximateSize()
	if db.flushing != nil {
		s.FlushingEntries = db.flushing.Len()
	}
	db.mu.RUnlock()

	v := db.store.Acquire()
	defer v.Release()
	for _, seg := range v.Segments() {
		s.Segments = append(s.Segments, SegmentStats{
			Generation: seg.Generation(),
			Compacted:  seg.Compacted(),
			Entries:    seg.Count(),
			Bytes:      seg.Size(),
		})
		s.SegmentBytes += seg.Size()
	}
	s.LastGeneration = db.store.LastGeneration()

	s.Maintenance = MaintenanceStats{
		Running:           db.controller.BackgroundRunning(),
		Halted:            db.compactor.Err(),
		CompactionIOBytes: db.controller.IOBytes(),
		CompactionIOLimit: db.controller.IOLimit(),
	}
	return s
}
