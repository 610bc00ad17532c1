package common

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// IndexDir is the subdirectory holding segment index files.
	IndexDir = "indexes"

	// WALDir holds the write-ahead logs of unflushed memtables.
	WALDir = "wal"

	// IntentFile records a compaction swap that has not finished yet.
	IntentFile = "compaction.json"

	dataPrefix          = "data"
	compactedDataPrefix = "comp_data"
	indexPrefix         = "index"
	filterPrefix        = "filter"
	fileExt             = ".log"

	// TempExt marks a file that is still being written. It is renamed to its
	// final name once complete and synced.
	TempExt = ".tmp"
)

// TempPath returns the name a file is written under before it is complete.
func TempPath(path string) string { return path + TempExt }

// IsTempFile reports whether name is an unfinished write.
func IsTempFile(name string) bool { return strings.HasSuffix(name, TempExt) }

// DataPath returns the data file path of a flushed segment.
func DataPath(dir string, gen Generation) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", dataPrefix, gen, fileExt))
}

// CompactedDataPath returns the data file path of a compacted segment.
func CompactedDataPath(dir string, gen Generation) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", compactedDataPrefix, gen, fileExt))
}

// SegmentDataPath returns DataPath or CompactedDataPath depending on compacted.
func SegmentDataPath(dir string, gen Generation, compacted bool) string {
	if compacted {
		return CompactedDataPath(dir, gen)
	}
	return DataPath(dir, gen)
}

// IndexPath returns the index file path of a segment.
func IndexPath(dir string, gen Generation) string {
	return filepath.Join(dir, IndexDir, fmt.Sprintf("%s%d%s", indexPrefix, gen, fileExt))
}

// FilterPath returns the path of the persisted key filter of a segment. It
// lives next to the index and is optional.
func FilterPath(dir string, gen Generation) string {
	return filepath.Join(dir, IndexDir, fmt.Sprintf("%s%d%s", filterPrefix, gen, fileExt))
}

// WALPath returns the path of write-ahead log number n.
func WALPath(dir string, n uint64) string {
	return filepath.Join(dir, WALDir, fmt.Sprintf("%d%s", n, fileExt))
}

// ParseWALFile extracts the log number from a name such as "12.log".
func ParseWALFile(name string) (uint64, bool) {
	if !strings.HasSuffix(name, fileExt) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, fileExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IntentPath returns the path of the compaction swap intent.
func IntentPath(dir string) string {
	return filepath.Join(dir, IntentFile)
}

// ParseDataFile extracts the generation and compacted flag from a data file
// name such as "data3.log" or "comp_data7.log".
func ParseDataFile(name string) (gen Generation, compacted bool, ok bool) {
	if !strings.HasSuffix(name, fileExt) {
		return 0, false, false
	}
	base := strings.TrimSuffix(name, fileExt)

	var digits string
	switch {
	case strings.HasPrefix(base, compactedDataPrefix):
		digits = strings.TrimPrefix(base, compactedDataPrefix)
		compacted = true
	case strings.HasPrefix(base, dataPrefix):
		digits = strings.TrimPrefix(base, dataPrefix)
	default:
		return 0, false, false
	}

	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return Generation(n), compacted, true
}

// ParseIndexFile extracts the generation from an index file name such as
// "index3.log".
func ParseIndexFile(name string) (Generation, bool) {
	if !strings.HasPrefix(name, indexPrefix) {
		return 0, false
	}
	gen, _, ok := ParseDataFile(dataPrefix + strings.TrimPrefix(name, indexPrefix))
	return gen, ok
}
