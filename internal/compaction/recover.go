package compaction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"lsmkv/internal/common"
	"lsmkv/internal/fs"
	"lsmkv/internal/manifest"
	"lsmkv/internal/segment"
)

// Recover finishes or rolls back a compaction interrupted by a crash. It must
// run before the store is opened.
//
// Segment writes rename their files into place only once both are complete,
// so a data file under its final name is never partial. Unfinished writes
// (*.tmp) are removed first. Then:
//
//   - intent and a complete output (each file either still pending or
//     already renamed): delete the remaining victims newest first, finish
//     the rename, drop the intent
//   - intent without a complete output: the swap never started; discard the
//     partial output and keep the victims
//   - complete pending slot without intent: the compaction merged every
//     segment still on disk and was interrupted before or while swapping in.
//     It is renamed to the highest generation + 1 and every older segment is
//     deleted, newest first
//   - a lone pending index: the data rename never happened; it is discarded
//
// A directory found where a segment file is expected fails with
// common.ErrFilesystemCorrupted.
func Recover(fsys fs.FileSystem, dir string, logger *common.Logger) error {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = common.NoopLogger()
	}

	if err := removeTempFiles(fsys, dir, logger); err != nil {
		return err
	}

	intent, err := manifest.Read(fsys, dir)
	switch {
	case errors.Is(err, manifest.ErrNoIntent):
		return recoverOrphanPending(fsys, dir, logger)
	case err != nil:
		return err
	}

	logger = logger.With("intent", intent.ID, "target", uint64(intent.Target))

	pendingData := common.CompactedDataPath(dir, common.PendingGeneration)
	pendingIndex := common.IndexPath(dir, common.PendingGeneration)
	targetData := common.CompactedDataPath(dir, intent.Target)
	targetIndex := common.IndexPath(dir, intent.Target)

	dataOK, err := anyExists(fsys, pendingData, targetData)
	if err != nil {
		return err
	}
	indexOK, err := anyExists(fsys, pendingIndex, targetIndex)
	if err != nil {
		return err
	}

	if !dataOK || !indexOK {
		logger.Warn("discarding incomplete compaction")
		for _, p := range []string{pendingData, pendingIndex, targetData, targetIndex} {
			if err := segment.RemoveFile(fsys, p); err != nil {
				return err
			}
		}
		if err := manifest.Remove(fsys, dir); err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		return nil
	}

	for _, v := range intent.Victims {
		if v.Generation >= intent.Target {
			return fmt.Errorf("%w: intent %s lists victim %d above target %d",
				common.ErrOpenFailure, intent.ID, v.Generation, intent.Target)
		}
		if err := segment.RemoveFiles(fsys, dir, v.Generation, v.Compacted); err != nil {
			return err
		}
	}

	if err := segment.MoveFilter(fsys, dir, common.PendingGeneration, intent.Target); err != nil {
		logger.Warn("dropped persisted filter", "error", err)
	}
	for _, mv := range [][2]string{{pendingIndex, targetIndex}, {pendingData, targetData}} {
		pending, err := fs.Exists(fsys, mv[0])
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		if !pending {
			continue
		}
		if err := fsys.Rename(mv[0], mv[1]); err != nil {
			return fmt.Errorf("%w: rename %s: %w", common.ErrIO, mv[0], err)
		}
	}
	if err := syncDirs(fsys, dir); err != nil {
		return err
	}
	if err := manifest.Remove(fsys, dir); err != nil {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}

	logger.Info("completed interrupted compaction", "victims", len(intent.Victims))
	return nil
}

func recoverOrphanPending(fsys fs.FileSystem, dir string, logger *common.Logger) error {
	pendingData := common.CompactedDataPath(dir, common.PendingGeneration)
	pendingIndex := common.IndexPath(dir, common.PendingGeneration)

	hasData, err := fs.Exists(fsys, pendingData)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	hasIndex, err := fs.Exists(fsys, pendingIndex)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}

	switch {
	case !hasData && !hasIndex:
		return nil
	case !hasData:
		logger.Warn("discarding partial compaction output")
		return segment.RemoveFile(fsys, pendingIndex)
	case !hasIndex:
		// The index already moved to its target; only the data rename is left.
		target, ok, err := strayIndex(fsys, dir)
		if err != nil {
			return err
		}
		if !ok {
			logger.Warn("discarding compaction output without index")
			return segment.RemoveFile(fsys, pendingData)
		}
		logger.Info("finishing interrupted compaction swap", "generation", uint64(target))
		if err := segment.MoveFilter(fsys, dir, common.PendingGeneration, target); err != nil {
			logger.Warn("dropped persisted filter", "error", err)
		}
		if err := fsys.Rename(pendingData, common.CompactedDataPath(dir, target)); err != nil {
			return fmt.Errorf("%w: rename %s: %w", common.ErrIO, pendingData, err)
		}
		if err := syncDirs(fsys, dir); err != nil {
			return err
		}
		return removeOlder(fsys, dir, target)
	}

	others, err := segment.Discover(fsys, dir)
	if err != nil {
		return err
	}
	target := common.Generation(1)
	if len(others) > 0 {
		target = others[0].Generation + 1
	}

	logger.Info("resuming interrupted compaction", "generation", uint64(target), "victims", len(others))
	if err := segment.MoveFilter(fsys, dir, common.PendingGeneration, target); err != nil {
		logger.Warn("dropped persisted filter", "error", err)
	}
	if err := fsys.Rename(pendingIndex, common.IndexPath(dir, target)); err != nil {
		return fmt.Errorf("%w: rename %s: %w", common.ErrIO, pendingIndex, err)
	}
	if err := fsys.Rename(pendingData, common.CompactedDataPath(dir, target)); err != nil {
		return fmt.Errorf("%w: rename %s: %w", common.ErrIO, pendingData, err)
	}
	if err := syncDirs(fsys, dir); err != nil {
		return err
	}
	return removeOlder(fsys, dir, target)
}

// removeOlder deletes every segment below gen, newest first.
func removeOlder(fsys fs.FileSystem, dir string, gen common.Generation) error {
	found, err := segment.Discover(fsys, dir)
	if err != nil {
		return err
	}
	for _, d := range found {
		if d.Generation >= gen {
			continue
		}
		if err := segment.RemoveFiles(fsys, dir, d.Generation, d.Compacted); err != nil {
			return err
		}
	}
	return nil
}

// strayIndex finds an index file whose data file is missing.
func strayIndex(fsys fs.FileSystem, dir string) (common.Generation, bool, error) {
	entries, err := fsys.ReadDir(filepath.Join(dir, common.IndexDir))
	if err != nil {
		return 0, false, fmt.Errorf("%w: read index dir: %w", common.ErrOpenFailure, err)
	}
	for _, e := range entries {
		gen, ok := common.ParseIndexFile(e.Name())
		if !ok || gen == common.PendingGeneration {
			continue
		}
		plain, err := fs.Exists(fsys, common.DataPath(dir, gen))
		if err != nil {
			return 0, false, fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		compacted, err := fs.Exists(fsys, common.CompactedDataPath(dir, gen))
		if err != nil {
			return 0, false, fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		if !plain && !compacted {
			return gen, true, nil
		}
	}
	return 0, false, nil
}

// removeTempFiles deletes files left by writes that never completed.
func removeTempFiles(fsys fs.FileSystem, dir string, logger *common.Logger) error {
	for _, d := range []string{dir, filepath.Join(dir, common.IndexDir)} {
		entries, err := fsys.ReadDir(d)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", common.ErrOpenFailure, d, err)
		}
		for _, e := range entries {
			if !common.IsTempFile(e.Name()) {
				continue
			}
			logger.Debug("removing unfinished file", "file", e.Name())
			if err := segment.RemoveFile(fsys, filepath.Join(d, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func anyExists(fsys fs.FileSystem, paths ...string) (bool, error) {
	for _, p := range paths {
		ok, err := fs.Exists(fsys, p)
		if err != nil {
			return false, fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func syncDirs(fsys fs.FileSystem, dir string) error {
	for _, d := range []string{dir, filepath.Join(dir, common.IndexDir)} {
		if err := fsys.SyncDir(d); err != nil {
			return fmt.Errorf("%w: sync dir %s: %w", common.ErrIO, d, err)
		}
	}
	return nil
}
