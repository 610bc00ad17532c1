package db

import (
	"lsmkv/internal/common"
	"lsmkv/internal/fs"
	"lsmkv/internal/metrics"
)

type Options struct {
	// MemtableFlushThreshold is the approximate memtable size in bytes that
	// triggers a flush after a write. Zero disables automatic flushes.
	MemtableFlushThreshold int64

	// BloomFalsePositiveRate sizes the per-segment bloom filters. Zero or less
	// disables them.
	BloomFalsePositiveRate float64

	// CompactionIOLimit caps compaction writes in bytes per second. Zero means
	// unlimited.
	CompactionIOLimit int64

	// SyncWrites fsyncs the write-ahead log on every write. Without it a
	// write survives a process crash but not a power failure.
	SyncWrites bool

	// OpenParallelism bounds how many segments are mapped at once during Open.
	OpenParallelism int

	Logger  *common.Logger
	Metrics metrics.Collector
	FS      fs.FileSystem
}

var DefaultOptions = Options{
	MemtableFlushThreshold: 4 << 20,
	BloomFalsePositiveRate: 0.01,
}

type Option func(*Options)

func WithMemtableFlushThreshold(n int64) Option {
	return func(o *Options) {
		o.MemtableFlushThreshold = n
	}
}

func WithBloomFalsePositiveRate(p float64) Option {
	return func(o *Options) {
		o.BloomFalsePositiveRate = p
	}
}

func WithCompactionIOLimit(bytesPerSec int64) Option {
	return func(o *Options) {
		o.CompactionIOLimit = bytesPerSec
	}
}

func WithSyncWrites(sync bool) Option {
	return func(o *Options) {
		o.SyncWrites = sync
	}
}

func WithOpenParallelism(n int) Option {
	return func(o *Options) {
		o.OpenParallelism = n
	}
}

func WithLogger(l *common.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(o *Options) {
		o.Metrics = c
	}
}

// WithFileSystem replaces the local file system, mostly for fault injection
// in tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *Options) {
		o.FS = fsys
	}
}
