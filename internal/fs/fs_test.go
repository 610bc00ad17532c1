package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := t.TempDir()
	fsys := Default

	require.NoError(t, fsys.MkdirAll(filepath.Join(dir, "indexes"), 0o755))

	path := filepath.Join(dir, "data1.log")
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	ok, err := Exists(fsys, path)
	require.NoError(t, err)
	require.True(t, ok)

	renamed := filepath.Join(dir, "data2.log")
	require.NoError(t, fsys.Rename(path, renamed))
	require.NoError(t, fsys.SyncDir(dir))

	entries, err := fsys.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2) // data2.log + indexes/

	require.NoError(t, RemoveIfExists(fsys, renamed))
	require.NoError(t, RemoveIfExists(fsys, renamed))
	ok, err = Exists(fsys, renamed)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFaultyFSWriteLimit(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("data", Fault{FailAfterBytes: 4})

	f, err := ffs.OpenFile(filepath.Join(dir, "data1.log"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("abcd"))
	require.NoError(t, err)
	_, err = f.Write([]byte("e"))
	require.ErrorIs(t, err, ErrInjected)

	// Files not matching a rule are unaffected.
	g, err := ffs.OpenFile(filepath.Join(dir, "other.log"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer g.Close()
	_, err = g.Write([]byte("abcdefgh"))
	require.NoError(t, err)
}

func TestFaultyFSSyncAndOpFaults(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("index", Fault{FailAfterBytes: -1, FailOnSync: true})
	ffs.FailOp(OpRename, "comp_data0.log", nil)

	f, err := ffs.OpenFile(filepath.Join(dir, "index1.log"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.ErrorIs(t, f.Sync(), ErrInjected)
	require.NoError(t, f.Close())

	src := filepath.Join(dir, "comp_data0.log")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.ErrorIs(t, ffs.Rename(src, filepath.Join(dir, "comp_data3.log")), ErrInjected)
	require.Equal(t, []string{src}, ffs.Calls(OpRename))
}

func TestFaultyFSCrash(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.CrashOn(OpRename, "comp_data0.log")

	victim := filepath.Join(dir, "data1.log")
	require.NoError(t, os.WriteFile(victim, []byte("x"), 0o644))
	require.NoError(t, ffs.Remove(victim))

	src := filepath.Join(dir, "comp_data0.log")
	require.NoError(t, os.WriteFile(src, []byte("y"), 0o644))
	require.ErrorIs(t, ffs.Rename(src, filepath.Join(dir, "comp_data2.log")), ErrCrashed)
	require.True(t, ffs.Crashed())

	// Nothing reaches the disk after the crash.
	require.ErrorIs(t, ffs.Remove(src), ErrCrashed)
	_, err := os.Stat(src)
	require.NoError(t, err)
}
