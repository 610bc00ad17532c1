package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryClone(t *testing.T) {
	tests := []struct {
		name  string
		entry *Entry
	}{
		{"Put entry with value", NewPut([]byte("test-key"), []byte("test-value"))},
		{"Put entry with empty value", NewPut([]byte("k"), []byte{})},
		{"Delete entry (tombstone)", NewTombstone([]byte("deleted-key"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clone := tt.entry.Clone()
			require.Equal(t, tt.entry.Type, clone.Type)
			require.Equal(t, tt.entry.Key, clone.Key)
			require.Equal(t, tt.entry.IsTombstone(), clone.IsTombstone())
			if tt.entry.IsTombstone() {
				require.Nil(t, clone.Value)
				return
			}
			require.Equal(t, tt.entry.Value, clone.Value)

			// Mutating the source must not leak into the clone.
			if len(tt.entry.Key) > 0 {
				tt.entry.Key[0] ^= 0xFF
				require.NotEqual(t, tt.entry.Key, clone.Key)
			}
		})
	}

	var nilEntry *Entry
	require.Nil(t, nilEntry.Clone())
}

func TestSliceIteratorAndCollect(t *testing.T) {
	entries := []*Entry{
		NewPut([]byte("a"), []byte("1")),
		NewTombstone([]byte("b")),
		NewPut([]byte("c"), []byte("3")),
	}

	RequireMatchesIterator(t, NewSliceIterator(entries), entries)

	collected, err := Collect(NewSliceIterator(entries))
	require.NoError(t, err)
	require.Len(t, collected, 3)
	require.True(t, collected[1].IsTombstone())

	empty, err := Collect(NewSliceIterator(nil))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestParseDataFile(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		gen       Generation
		compacted bool
		ok        bool
	}{
		{"Flushed", "data1.log", 1, false, true},
		{"FlushedLarge", "data12345.log", 12345, false, true},
		{"Compacted", "comp_data7.log", 7, true, true},
		{"PendingCompaction", "comp_data0.log", 0, true, true},
		{"Index", "index3.log", 0, false, false},
		{"Intent", "compaction.json", 0, false, false},
		{"NoDigits", "data.log", 0, false, false},
		{"WrongExt", "data3.sst", 0, false, false},
		{"Garbage", "data3x.log", 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, compacted, ok := ParseDataFile(tt.file)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			require.Equal(t, tt.gen, gen)
			require.Equal(t, tt.compacted, compacted)
		})
	}
}

func TestParseIndexFileAndTempNames(t *testing.T) {
	gen, ok := ParseIndexFile("index42.log")
	require.True(t, ok)
	require.Equal(t, Generation(42), gen)

	for _, name := range []string{"data4.log", "index4.log.tmp", "indexx.log", "filter4.log"} {
		_, ok := ParseIndexFile(name)
		require.False(t, ok, name)
	}

	require.Equal(t, "data1.log.tmp", TempPath("data1.log"))
	require.True(t, IsTempFile(TempPath("comp_data0.log")))
	require.False(t, IsTempFile("comp_data0.log"))
}

func TestSegmentPaths(t *testing.T) {
	require.Equal(t, "base/data4.log", DataPath("base", 4))
	require.Equal(t, "base/comp_data4.log", CompactedDataPath("base", 4))
	require.Equal(t, "base/indexes/index4.log", IndexPath("base", 4))
	require.Equal(t, "base/indexes/filter4.log", FilterPath("base", 4))
	require.Equal(t, "base/comp_data0.log", SegmentDataPath("base", PendingGeneration, true))
	require.Equal(t, "base/data2.log", SegmentDataPath("base", 2, false))
	require.Equal(t, "base/compaction.json", IntentPath("base"))
	require.Equal(t, "base/wal/9.log", WALPath("base", 9))
}

func TestParseWALFile(t *testing.T) {
	n, ok := ParseWALFile("12.log")
	require.True(t, ok)
	require.Equal(t, uint64(12), n)

	for _, name := range []string{"12.tmp", "x.log", ".log", "data1.log"} {
		_, ok := ParseWALFile(name)
		require.False(t, ok, name)
	}
}
