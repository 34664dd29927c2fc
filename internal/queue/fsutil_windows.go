//go:build windows

package queue

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// fileID returns the volume serial number and file index of an open file.
func fileID(f *os.File) (dev, ino uint64, err error) {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(f.Fd()), &info); err != nil {
		return 0, 0, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	ino = uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow)
	return uint64(info.VolumeSerialNumber), ino, nil
}

// isCrossDevice reports whether a rename failed because source and target
// are on different volumes.
func isCrossDevice(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SAME_DEVICE)
}

// syncDir is a no-op: Windows cannot fsync directory handles.
func syncDir(string) error {
	return nil
}
