package queue

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/vnykmshr/dirq/internal/format"
)

// hostname is resolved once per process.
var hostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		h = "localhost"
	}
	return sanitizeHost(h)
})

// sanitizeHost replaces characters that cannot appear in a file name.
func sanitizeHost(h string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, h)
}

// GenerateID composes an item ID:
//
//	<host>.<pid>.<sec>.<nsec>.<dev>.<ino>.<suffix>
//
// dev and ino identify the file being published. Since no two live files
// share them, an ID built from them cannot collide with any other item.
// Candidate names in tmp/ pass zeros.
func GenerateID(dev, ino uint64, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	now := time.Now()
	return fmt.Sprintf("%s.%d.%d.%09d.%d.%d.%s",
		hostname(), os.Getpid(), now.Unix(), now.Nanosecond(), dev, ino, suffix)
}

// validateID checks that id names a single file inside a state directory.
func validateID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`), strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case format.IsHiddenName(id):
		return fmt.Errorf("%w: %q is a hidden name", ErrInvalidID, id)
	case format.IsSidecarName(id):
		return fmt.Errorf("%w: %q is a sidecar name", ErrInvalidID, id)
	}
	return nil
}

// isItemName reports whether a directory entry is an item.
func isItemName(name string) bool {
	return !format.IsHiddenName(name) && !format.IsSidecarName(name)
}
