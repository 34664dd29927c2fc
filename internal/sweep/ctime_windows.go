//go:build windows

package sweep

import (
	"os"
	"time"
)

// changeTime returns the modification time of path. Windows does not
// track a change time that renames update.
func changeTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
