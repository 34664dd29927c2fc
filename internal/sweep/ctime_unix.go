//go:build unix

package sweep

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// changeTime returns the inode change time of path. A claim renames the
// item, which updates ctime but not mtime, so ctime approximates when the
// item entered pending/.
func changeTime(path string) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return time.Unix(st.Ctim.Unix()), nil
}
