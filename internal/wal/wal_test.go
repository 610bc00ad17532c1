package wal_test

import (
	"fmt"
	"os"
	"testing"

	"lsmkv/internal/common"
	"lsmkv/internal/fs"
	"lsmkv/internal/wal"

	"github.com/stretchr/testify/require"
)

func replayAll(t *testing.T, dir string, n uint64) []*common.Entry {
	t.Helper()
	var out []*common.Entry
	_, err := wal.Replay(fs.Default, dir, n, func(e *common.Entry) error {
		out = append(out, e)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestAppendAndIterate(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.Create(fs.Default, dir, 1, true)
	require.NoError(t, err)
	defer log.Close()

	batch := []*common.Entry{
		common.NewPut([]byte("a"), []byte("A")),
		common.NewTombstone([]byte("b")),
	}
	require.NoError(t, log.Append(batch...))
	require.Equal(t, 2, log.Len())
	require.Equal(t, common.WALPath(dir, 1), log.Path())

	iter, err := wal.NewIterator(fs.Default, log.Path())
	require.NoError(t, err)
	common.RequireMatchesIterator(t, iter, batch)
	require.NoError(t, iter.Close())
}

func TestReplayKeepsAppendOrder(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.Create(fs.Default, dir, 3, false)
	require.NoError(t, err)

	batch1 := []*common.Entry{common.NewPut([]byte("k1"), []byte("v1"))}
	require.NoError(t, log.Append(batch1...))
	batch2 := []*common.Entry{
		common.NewPut([]byte("k1"), []byte("v2")),
		common.NewTombstone([]byte("k0")),
	}
	require.NoError(t, log.Append(batch2...))
	require.NoError(t, log.Close())
	require.Error(t, log.Append(batch1...))

	got := replayAll(t, dir, 3)
	common.RequireMatchesIterator(t, common.NewSliceIterator(got), append(batch1, batch2...))
}

func TestBulkAppendBatches(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.Create(fs.Default, dir, 1, false)
	require.NoError(t, err)
	defer log.Close()

	const (
		batches  = 4
		perBatch = 128
	)

	expected := make([]*common.Entry, 0, batches*perBatch)
	for batch := 0; batch < batches; batch++ {
		current := make([]*common.Entry, 0, perBatch)
		for i := 0; i < perBatch; i++ {
			entry := common.NewPut(
				[]byte(fmt.Sprintf("b%02d-key-%03d", batch, i)),
				[]byte(fmt.Sprintf("payload-%02d-%03d", batch, i)),
			)
			current = append(current, entry)
			expected = append(expected, entry)
		}
		require.NoError(t, log.Append(current...))
	}

	iter, err := wal.NewIterator(fs.Default, log.Path())
	require.NoError(t, err)
	defer iter.Close()
	common.RequireMatchesIterator(t, iter, expected)
}

func TestReplayTruncatedTail(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.Create(fs.Default, dir, 1, false)
	require.NoError(t, err)
	require.NoError(t, log.Append(
		common.NewPut([]byte("a"), []byte("1")),
		common.NewPut([]byte("b"), []byte("2")),
	))
	require.NoError(t, log.Close())

	// Cut the last record in half.
	info, err := os.Stat(log.Path())
	require.NoError(t, err)
	require.NoError(t, os.Truncate(log.Path(), info.Size()-1))

	var got []string
	n, err := wal.Replay(fs.Default, dir, 1, func(e *common.Entry) error {
		got = append(got, string(e.Key))
		return nil
	})
	require.ErrorIs(t, err, wal.ErrTruncated)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"a"}, got)
}

func TestListAndRemove(t *testing.T) {
	dir := t.TempDir()

	numbers, err := wal.List(fs.Default, dir)
	require.NoError(t, err)
	require.Empty(t, numbers)

	for _, n := range []uint64{10, 2, 7} {
		log, err := wal.Create(fs.Default, dir, n, false)
		require.NoError(t, err)
		require.NoError(t, log.Close())
	}
	require.NoError(t, os.WriteFile(common.WALPath(dir, 0)+".tmp", nil, 0o644))

	numbers, err = wal.List(fs.Default, dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 7, 10}, numbers)

	require.NoError(t, wal.Remove(fs.Default, dir, 7))
	require.NoError(t, wal.Remove(fs.Default, dir, 7))

	numbers, err = wal.List(fs.Default, dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 10}, numbers)
}

func TestAppendFailureIsIOError(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("wal", fs.Fault{FailAfterBytes: 0})

	log, err := wal.Create(ffs, dir, 1, false)
	require.NoError(t, err)
	defer log.Close()

	err = log.Append(common.NewPut([]byte("a"), []byte("1")))
	require.ErrorIs(t, err, common.ErrIO)
	require.ErrorIs(t, err, fs.ErrInjected)
	require.Zero(t, log.Len())
}
