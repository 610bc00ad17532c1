// Package manifest persists the compaction swap intent.
//
// A compaction writes its output into the pending slot (generation 0), then
// records an Intent naming the generation the output will be renamed to and
// the segments it replaces. If the process stops before the swap finishes,
// the intent tells recovery how to complete it.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"lsmkv/internal/common"
	"lsmkv/internal/fs"
)

// ErrNoIntent is returned by Read when no swap is in progress.
var ErrNoIntent = errors.New("manifest: no compaction intent")

// Victim names a segment replaced by a compaction.
type Victim struct {
	Generation common.Generation `json:"generation"`
	Compacted  bool              `json:"compacted"`
}

// Intent describes a compaction swap that has not finished yet.
type Intent struct {
	ID        string            `json:"id"`
	Target    common.Generation `json:"target"`
	Victims   []Victim          `json:"victims"` // newest first
	CreatedAt time.Time         `json:"created_at"`
}

// NewIntent returns an intent with a fresh id.
func NewIntent(target common.Generation, victims []Victim) *Intent {
	return &Intent{
		ID:        uuid.NewString(),
		Target:    target,
		Victims:   victims,
		CreatedAt: time.Now().UTC(),
	}
}

// Encode serializes an intent to JSON.
func Encode(w io.Writer, in *Intent) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(in)
}

// Decode deserializes an intent from JSON.
func Decode(r io.Reader) (*Intent, error) {
	var in Intent
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(in.ID); err != nil {
		return nil, fmt.Errorf("invalid intent id %q: %w", in.ID, err)
	}
	if in.Target == common.PendingGeneration {
		return nil, fmt.Errorf("intent %s targets the pending slot", in.ID)
	}
	return &in, nil
}

// Write atomically stores in as dir's intent: write to a temp file, fsync,
// rename, fsync the directory.
func Write(fsys fs.FileSystem, dir string, in *Intent) error {
	path := common.IntentPath(dir)
	tmpPath := common.TempPath(path)

	f, err := fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}

	if err := Encode(f, in); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}

	if err := f.Close(); err != nil {
		fsys.Remove(tmpPath)
		return err
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		fsys.Remove(tmpPath)
		return err
	}
	return fsys.SyncDir(filepath.Dir(path))
}

// Read loads dir's intent. It returns ErrNoIntent when there is none.
func Read(fsys fs.FileSystem, dir string) (*Intent, error) {
	f, err := fsys.OpenFile(common.IntentPath(dir), os.O_RDONLY, 0)
	if os.IsNotExist(err) {
		return nil, ErrNoIntent
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	in, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrOpenFailure, common.IntentFile, err)
	}
	return in, nil
}

// Remove deletes dir's intent and any leftover temp file.
func Remove(fsys fs.FileSystem, dir string) error {
	path := common.IntentPath(dir)
	if err := fs.RemoveIfExists(fsys, common.TempPath(path)); err != nil {
		return err
	}
	if err := fs.RemoveIfExists(fsys, path); err != nil {
		return err
	}
	return fsys.SyncDir(dir)
}
