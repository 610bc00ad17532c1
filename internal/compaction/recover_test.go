package compaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmkv/internal/common"
	"lsmkv/internal/fs"
	"lsmkv/internal/manifest"
	"lsmkv/internal/segment"
)

// crashDuringCompaction runs a compaction that stops at the first rename of a
// path containing pattern, leaving the directory as a crash would.
func crashDuringCompaction(t *testing.T, dir, pattern string) {
	t.Helper()
	ffs := fs.NewFaultyFS(nil)
	ffs.CrashOn(fs.OpRename, pattern)

	s, err := segment.OpenStore(dir, segment.Options{FS: ffs})
	require.NoError(t, err)
	_, err = New(s, Options{FS: ffs}).Compact()
	require.Error(t, err)
	require.True(t, ffs.Crashed())
	require.NoError(t, s.Close())
}

func TestRecoverCrashAfterDeletionBeforeRename(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	crashDuringCompaction(t, dir, "index0.log")

	requireFiles(t, dir, true, common.IntentPath(dir), common.CompactedDataPath(dir, 0), common.IndexPath(dir, 0))

	// The crash happened after the newest victim was deleted.
	require.NoError(t, segment.RemoveFiles(fs.Default, dir, 3, false))

	s := openStore(t, dir)
	common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)

	v := s.Acquire()
	defer v.Release()
	require.Len(t, v.Segments(), 1)
	require.Equal(t, common.Generation(4), v.Segments()[0].Generation())
	require.True(t, v.Segments()[0].Compacted())

	requireFiles(t, dir, false,
		common.IntentPath(dir), common.CompactedDataPath(dir, 0), common.IndexPath(dir, 0),
		common.DataPath(dir, 1), common.DataPath(dir, 2), common.IndexPath(dir, 1))
}

func TestRecoverCrashBeforeAnyDeletion(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	crashDuringCompaction(t, dir, "index0.log")

	s := openStore(t, dir)
	common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
	requireFiles(t, dir, false, common.DataPath(dir, 1), common.DataPath(dir, 2), common.DataPath(dir, 3))
}

func TestRecoverCrashBetweenRenames(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	crashDuringCompaction(t, dir, "comp_data0.log")

	requireFiles(t, dir, true, common.IndexPath(dir, 4), common.CompactedDataPath(dir, 0))
	requireFiles(t, dir, false, common.IndexPath(dir, 0))

	s := openStore(t, dir)
	common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
	requireFiles(t, dir, true, common.CompactedDataPath(dir, 4), common.IndexPath(dir, 4))
	requireFiles(t, dir, false, common.IntentPath(dir), common.CompactedDataPath(dir, 0))
}

func TestRecoverRenameDoneVictimsLeft(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	writeCompacted(t, dir, 4, wantMerged...)
	require.NoError(t, manifest.Write(fs.Default, dir, manifest.NewIntent(4, []manifest.Victim{
		{Generation: 3}, {Generation: 2}, {Generation: 1},
	})))

	require.NoError(t, Recover(fs.Default, dir, nil))
	requireFiles(t, dir, false, common.IntentPath(dir), common.DataPath(dir, 1), common.DataPath(dir, 2), common.DataPath(dir, 3))
	requireFiles(t, dir, true, common.CompactedDataPath(dir, 4))
}

func TestRecoverIntentWithoutOutputKeepsVictims(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	require.NoError(t, manifest.Write(fs.Default, dir, manifest.NewIntent(4, []manifest.Victim{
		{Generation: 3}, {Generation: 2}, {Generation: 1},
	})))

	s := openStore(t, dir)
	requireFiles(t, dir, true, common.DataPath(dir, 1), common.DataPath(dir, 2), common.DataPath(dir, 3))
	requireFiles(t, dir, false, common.IntentPath(dir))
	common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
}

func TestRecoverOrphanPending(t *testing.T) {
	t.Run("resumed after newer victims were deleted", func(t *testing.T) {
		dir := t.TempDir()
		threeSegments(t, dir)
		writeCompacted(t, dir, common.PendingGeneration, wantMerged...)
		require.NoError(t, segment.RemoveFiles(fs.Default, dir, 3, false))
		require.NoError(t, segment.RemoveFiles(fs.Default, dir, 2, false))

		s := openStore(t, dir)
		common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
		requireFiles(t, dir, true, common.CompactedDataPath(dir, 2), common.IndexPath(dir, 2))
		requireFiles(t, dir, false,
			common.CompactedDataPath(dir, 0), common.IndexPath(dir, 0),
			common.DataPath(dir, 1), common.IndexPath(dir, 1))
		require.Equal(t, common.Generation(3), s.NextGeneration())
	})

	t.Run("resumed before any deletion", func(t *testing.T) {
		dir := t.TempDir()
		threeSegments(t, dir)
		writeCompacted(t, dir, common.PendingGeneration, wantMerged...)

		s := openStore(t, dir)
		common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
		requireFiles(t, dir, true, common.CompactedDataPath(dir, 4), common.FilterPath(dir, 4))
		requireFiles(t, dir, false, common.DataPath(dir, 1), common.DataPath(dir, 2), common.DataPath(dir, 3),
			common.FilterPath(dir, common.PendingGeneration))
	})

	t.Run("resumed between renames", func(t *testing.T) {
		dir := t.TempDir()
		threeSegments(t, dir)
		writeCompacted(t, dir, common.PendingGeneration, wantMerged...)
		require.NoError(t, segment.RemoveFiles(fs.Default, dir, 3, false))
		require.NoError(t, segment.RemoveFiles(fs.Default, dir, 2, false))
		require.NoError(t, os.Rename(common.IndexPath(dir, 0), common.IndexPath(dir, 2)))

		s := openStore(t, dir)
		common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
		requireFiles(t, dir, true, common.CompactedDataPath(dir, 2))
		requireFiles(t, dir, false, common.CompactedDataPath(dir, 0), common.DataPath(dir, 1))
	})

	t.Run("adopted when alone", func(t *testing.T) {
		dir := t.TempDir()
		writeCompacted(t, dir, common.PendingGeneration, put("a", "1"))

		s := openStore(t, dir)
		requireFiles(t, dir, true, common.CompactedDataPath(dir, 1), common.IndexPath(dir, 1), common.FilterPath(dir, 1))
		common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), []*common.Entry{put("a", "1")})
		require.Equal(t, common.Generation(2), s.NextGeneration())
	})

	t.Run("data without index discarded", func(t *testing.T) {
		dir := t.TempDir()
		writeCompacted(t, dir, common.PendingGeneration, put("a", "1"))
		require.NoError(t, os.Remove(common.IndexPath(dir, 0)))

		s := openStore(t, dir)
		requireFiles(t, dir, false, common.CompactedDataPath(dir, 0))
		require.Empty(t, scan(t, s))
	})

	t.Run("index without data discarded", func(t *testing.T) {
		dir := t.TempDir()
		threeSegments(t, dir)
		writeCompacted(t, dir, common.PendingGeneration, put("zz", "1"))
		require.NoError(t, os.Rename(common.CompactedDataPath(dir, 0), common.TempPath(common.CompactedDataPath(dir, 0))))

		s := openStore(t, dir)
		requireFiles(t, dir, false,
			common.IndexPath(dir, 0), common.TempPath(common.CompactedDataPath(dir, 0)))
		common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
	})
}

func TestRecoverRemovesUnfinishedWrites(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	leftovers := []string{
		common.TempPath(common.DataPath(dir, 4)),
		common.TempPath(common.IndexPath(dir, 4)),
		common.TempPath(common.IntentPath(dir)),
	}
	for _, p := range leftovers {
		require.NoError(t, os.WriteFile(p, []byte("partial"), 0o644))
	}

	s := openStore(t, dir)
	requireFiles(t, dir, false, leftovers...)
	common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
}

func TestRecoverIdempotent(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	crashDuringCompaction(t, dir, "index0.log")

	require.NoError(t, Recover(fs.Default, dir, nil))
	require.NoError(t, Recover(fs.Default, dir, nil))

	s := openStore(t, dir)
	common.RequireMatchesIterator(t, common.NewSliceIterator(scan(t, s)), wantMerged)
}

func TestRecoverDirectoryInPlaceOfVictim(t *testing.T) {
	dir := t.TempDir()
	threeSegments(t, dir)
	crashDuringCompaction(t, dir, "index0.log")

	require.NoError(t, os.Remove(common.DataPath(dir, 2)))
	require.NoError(t, os.MkdirAll(filepath.Join(common.DataPath(dir, 2), "junk"), 0o755))

	err := Recover(fs.Default, dir, nil)
	require.ErrorIs(t, err, common.ErrFilesystemCorrupted)
}

func TestRecoverRejectsVictimAboveTarget(t *testing.T) {
	dir := t.TempDir()
	writeCompacted(t, dir, common.PendingGeneration, put("a", "1"))
	require.NoError(t, manifest.Write(fs.Default, dir, manifest.NewIntent(2, []manifest.Victim{{Generation: 5}})))

	err := Recover(fs.Default, dir, nil)
	require.ErrorIs(t, err, common.ErrOpenFailure)
}

func TestRecoverEmptyDir(t *testing.T) {
	require.NoError(t, Recover(nil, t.TempDir(), nil))
}

func writeCompacted(t *testing.T, dir string, gen common.Generation, entries ...*common.Entry) {
	t.Helper()
	_, err := segment.Write(fs.Default, dir, gen, true, common.NewSliceIterator(entries), segment.WriteOptions{
		BloomFPRate:  0.01,
		ExpectedKeys: uint64(len(entries)),
	})
	require.NoError(t, err)
}
