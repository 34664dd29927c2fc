// Package queue provides item enqueue operations.
// This file contains the two-phase publish and file adoption.
package queue

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vnykmshr/dirq/internal/logging"
)

// maxCreateAttempts bounds the search for a free name in tmp/.
const maxCreateAttempts = 1000

// Enqueue publishes payload as a new item in incoming/ and returns its ID.
//
// The payload is written under a throwaway name in tmp/ and then renamed
// into incoming/ under an ID derived from the tmp file's device and inode,
// so no partially written item is ever visible.
func (q *Queue) Enqueue(payload []byte) (string, error) {
	start := time.Now()

	if err := checkDiskSpace(q.tmp, q.opts.MinFreeDiskSpace); err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return "", err
	}

	id, err := q.publish(payload)
	if err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		q.opts.Logger.Error("enqueue failed",
			logging.F("error", err.Error()),
		)
		return "", err
	}

	q.stats.queued.Add(1)

	q.opts.Logger.Debug("item enqueued",
		logging.F("id", id),
		logging.F("payload_size", len(payload)),
	)

	// Record metrics
	q.opts.MetricsCollector.RecordEnqueue(len(payload), time.Since(start))

	return id, nil
}

// publish runs the write-then-rename sequence. The tmp file is removed on
// any failure.
func (q *Queue) publish(payload []byte) (id string, err error) {
	f, tmpPath, err := q.createTemp()
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(payload); err != nil {
		return "", fmt.Errorf("failed to write payload: %w", err)
	}

	if q.opts.Sync {
		if err := f.Sync(); err != nil {
			return "", fmt.Errorf("failed to sync payload: %w", err)
		}
	}

	dev, ino, err := fileID(f)
	if err != nil {
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close payload: %w", err)
	}

	id = GenerateID(dev, ino, q.opts.Suffix)
	if err := rename(tmpPath, filepath.Join(q.incoming, id)); err != nil {
		return "", fmt.Errorf("failed to publish item: %w", err)
	}

	if q.opts.Sync {
		if err := syncDir(q.incoming); err != nil {
			q.opts.Logger.Warn("failed to sync incoming directory",
				logging.F("id", id),
				logging.F("error", err.Error()),
			)
		}
	}

	return id, nil
}

// createTemp exclusively creates a fresh file in tmp/. Name collisions are
// expected and retried with a new candidate.
func (q *Queue) createTemp() (*os.File, string, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		path := filepath.Join(q.tmp, GenerateID(0, 0, q.opts.Suffix))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, q.opts.FileMode) //nolint:gosec // G304: Path is derived from the queue root
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create temporary file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to create temporary file after %d attempts: %w",
		maxCreateAttempts, fs.ErrExist)
}

// EnqueueFile adopts an existing file as an item, using its base name as
// the ID. The file is renamed into incoming/; when it lives on another
// filesystem it is copied through tmp/ and the original removed.
func (q *Queue) EnqueueFile(path string) (string, error) {
	start := time.Now()

	id := filepath.Base(path)
	if err := validateID(id); err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		q.opts.MetricsCollector.RecordEnqueueError()
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidID, path)
	}

	dst := filepath.Join(q.incoming, id)
	if _, err := os.Lstat(dst); err == nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return "", fmt.Errorf("failed to adopt %s: %w", id, ErrExists)
	}

	stage := filepath.Join(q.tmp, id)
	if err := relocate(path, dst, stage, q.opts.FileMode, q.opts.Sync); err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return "", fmt.Errorf("failed to adopt %s: %w", path, err)
	}

	q.stats.queued.Add(1)

	q.opts.Logger.Debug("file adopted",
		logging.F("id", id),
		logging.F("source", path),
	)

	q.opts.MetricsCollector.RecordEnqueue(int(info.Size()), time.Since(start))

	return id, nil
}
