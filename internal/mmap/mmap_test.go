package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	require.NoError(t, os.WriteFile(path, []byte("hello mmap"), 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 10, m.Size())
	require.Equal(t, []byte("hello mmap"), m.Bytes())
	require.NoError(t, m.Advise(AccessRandom))

	require.NoError(t, m.Close())
	require.Nil(t, m.Bytes())
	require.ErrorIs(t, m.Advise(AccessSequential), ErrClosed)

	// Close is idempotent.
	require.NoError(t, m.Close())
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	require.Zero(t, m.Size())
	require.Empty(t, m.Bytes())
	require.NoError(t, m.Advise(AccessSequential))
	require.NoError(t, m.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.log"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMappingSurvivesUnlink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	require.NoError(t, os.WriteFile(path, []byte("still here"), 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, os.Remove(path))
	require.Equal(t, []byte("still here"), m.Bytes())
}
