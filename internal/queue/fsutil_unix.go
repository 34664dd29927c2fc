//go:build unix

package queue

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileID returns the device and inode of an open file.
func fileID(f *os.File) (dev, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil { //nolint:gosec // G115: fd fits in int
		return 0, 0, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	return uint64(st.Dev), uint64(st.Ino), nil //nolint:gosec,unconvert // G115: Dev is signed on some platforms
}

// isCrossDevice reports whether a rename failed because source and target
// are on different filesystems.
func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}

// syncDir flushes a directory entry change to disk.
func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // G304: Path is derived from the queue root
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}
