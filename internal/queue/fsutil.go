package queue

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// rename is os.Rename; tests replace it to simulate cross-device moves.
var rename = os.Rename

// relocate moves src to dst. When the two sit on different filesystems the
// content is copied to stage, synced, renamed to dst and only then is the
// source removed, so dst never holds a partial file.
func relocate(src, dst, stage string, perm fs.FileMode, sync bool) error {
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}

	if err := copyFile(src, stage, perm, sync); err != nil {
		return err
	}
	if err := rename(stage, dst); err != nil {
		_ = os.Remove(stage)
		return fmt.Errorf("failed to publish copy: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return nil
}

// copyFile copies src to dst, replacing any stale dst.
func copyFile(src, dst string, perm fs.FileMode, sync bool) (err error) {
	in, err := os.Open(src) //nolint:gosec // G304: Path is derived from the queue root
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm) //nolint:gosec // G304: Path is derived from the queue root
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}

	if sync {
		if err := out.Sync(); err != nil {
			_ = out.Close()
			return fmt.Errorf("failed to sync %s: %w", dst, err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

// listItems returns the item names in dir in directory order. Hidden
// staging files and sidecars are skipped.
func listItems(dir string) ([]string, error) {
	d, err := os.Open(dir) //nolint:gosec // G304: Path is derived from the queue root
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dir, err)
	}
	defer func() { _ = d.Close() }()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	items := names[:0]
	for _, name := range names {
		if isItemName(name) {
			items = append(items, name)
		}
	}
	return items, nil
}

// exists reports whether a regular file named id is present in dir.
func exists(dir, id string) bool {
	if validateID(id) != nil {
		return false
	}
	info, err := os.Lstat(filepath.Join(dir, id))
	return err == nil && info.Mode().IsRegular()
}

// notFound converts a failure on a pending item into ErrNotFound when the
// item is the part that is missing. Other failures are wrapped as is.
func (q *Queue) notFound(op, id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) && !exists(q.pending, id) {
		return fmt.Errorf("failed to %s %s: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("failed to %s %s: %w", op, id, err)
}
