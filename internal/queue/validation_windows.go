//go:build windows

// Package queue provides validation utilities for queue operations.
// This file contains Windows-specific filesystem checks.
package queue

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// checkDiskSpace checks if sufficient disk space is available in the given directory.
// Returns ErrInsufficientSpace if free space is below the configured minimum.
// This implementation uses GetDiskFreeSpaceEx.
func checkDiskSpace(dir string, minFreeSpace int64) error {
	if minFreeSpace == 0 {
		return nil // Disk space checking disabled
	}

	dirUTF16, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return fmt.Errorf("failed to convert path: %w", err)
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(dirUTF16, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	if freeBytesAvailable < uint64(minFreeSpace) {
		return fmt.Errorf("%w: %d bytes available, %d bytes required",
			ErrInsufficientSpace, freeBytesAvailable, minFreeSpace)
	}

	return nil
}

// checkWritable reports whether dir is writable. Windows has no access(2);
// the read-only attribute is the closest equivalent and the check file in
// tmp/ covers ACLs.
func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o200 == 0 {
		return errors.New("directory is read-only")
	}
	return nil
}
