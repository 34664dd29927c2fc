//go:build unix

// Package queue provides validation utilities for queue operations.
// This file contains Unix-specific filesystem checks.
package queue

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkDiskSpace checks if sufficient disk space is available in the given directory.
// Returns ErrInsufficientSpace if free space is below the configured minimum.
// This implementation uses Statfs.
func checkDiskSpace(dir string, minFreeSpace int64) error {
	if minFreeSpace == 0 {
		return nil // Disk space checking disabled
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	// Available blocks * block size = available bytes
	availableBytes := stat.Bavail * uint64(stat.Bsize) //nolint:gosec // G115: block size is positive

	if availableBytes < uint64(minFreeSpace) {
		return fmt.Errorf("%w: %d bytes available, %d bytes required",
			ErrInsufficientSpace, availableBytes, minFreeSpace)
	}

	return nil
}

// checkWritable reports whether the process may create entries in dir.
func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK)
}
