// Package queue provides configuration and validation for queue options.
// This file contains the Options struct and related functions.
package queue

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/vnykmshr/dirq/internal/format"
	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/metrics"
)

// DefaultSuffix is the last component of generated IDs.
const DefaultSuffix = "msg"

// Options configures queue behavior.
type Options struct {
	// Next is the queue that Commit hands items to. Nil means Commit
	// deletes the item.
	Next *Queue

	// Suffix is appended to generated IDs (default "msg").
	Suffix string

	// Sync fsyncs payloads and parent directories on every publish.
	Sync bool

	// MinFreeDiskSpace is the minimum free space in bytes required on the
	// queue volume for Enqueue to proceed. Set to 0 to disable the check.
	MinFreeDiskSpace int64

	// DirMode is used when creating the root and its subdirectories.
	// Default: 0755
	DirMode fs.FileMode

	// FileMode is used for item payloads and sidecars.
	// Default: 0644
	FileMode fs.FileMode

	// Logger for structured logging (nil = no logging)
	Logger logging.Logger

	// MetricsCollector for collecting queue metrics (nil = no metrics)
	MetricsCollector MetricsCollector
}

// MetricsCollector defines the interface for recording queue metrics.
type MetricsCollector interface {
	RecordEnqueue(payloadSize int, duration time.Duration)
	RecordDequeue(payloadSize int, duration time.Duration)
	RecordEnqueueError()
	RecordDequeueError()
	RecordSkip()
	RecordScan()
	RecordTransition(op string)
	RecordTransitionError(op string)
	UpdateQueueState(incoming, pending, errors uint64)
}

// DefaultOptions returns sensible defaults for queue configuration.
func DefaultOptions() *Options {
	return &Options{
		Suffix:           DefaultSuffix,
		Sync:             false,
		MinFreeDiskSpace: 0,                       // Disk space check disabled by default
		DirMode:          0o755,                   // rwxr-xr-x
		FileMode:         0o644,                   // rw-r--r--
		Logger:           logging.NoopLogger{},    // No logging by default
		MetricsCollector: metrics.NoopCollector{}, // No metrics by default
	}
}

// Validate checks that the options can serve a queue rooted at dir.
// This method performs security validations including path traversal checks.
func (o *Options) Validate(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: queue directory path cannot be empty", ErrInvalidOptions)
	}

	cleanDir, err := validatePath(dir, "queue directory")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	if o.Next != nil && o.Next.root == cleanDir {
		return fmt.Errorf("%w: next queue cannot share the queue root", ErrInvalidOptions)
	}

	if o.MinFreeDiskSpace < 0 {
		return fmt.Errorf("%w: min free disk space cannot be negative", ErrInvalidOptions)
	}

	return validateSuffix(o.Suffix)
}

// validatePath validates a path for security issues
func validatePath(path, pathType string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed in %s: %s", pathType, path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %s: %w", pathType, err)
	}

	return filepath.Clean(absPath), nil
}

// validateSuffix rejects suffixes that would make IDs look like sidecars
// or escape the state directory.
func validateSuffix(suffix string) error {
	if suffix == "" {
		return nil
	}
	if strings.ContainsAny(suffix, `/\`) || strings.ContainsRune(suffix, 0) {
		return fmt.Errorf("%w: suffix contains a path separator: %q", ErrInvalidOptions, suffix)
	}
	if format.IsSidecarName("." + suffix) {
		return fmt.Errorf("%w: suffix collides with the sidecar extension: %q", ErrInvalidOptions, suffix)
	}
	return nil
}

// withDefaults returns a copy of o with zero fields replaced by defaults.
func (o *Options) withDefaults() Options {
	out := *o
	def := DefaultOptions()
	if out.Suffix == "" {
		out.Suffix = def.Suffix
	}
	if out.DirMode == 0 {
		out.DirMode = def.DirMode
	}
	if out.FileMode == 0 {
		out.FileMode = def.FileMode
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	if out.MetricsCollector == nil {
		out.MetricsCollector = def.MetricsCollector
	}
	return out
}
