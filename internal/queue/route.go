// Package queue provides routing of claimed items outside the queue.
// This file contains dispatch and duplicate.
package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/metrics"
)

// stagingName is the hidden name a copy is written under inside a target
// directory before it is renamed into place.
func stagingName(id string) string {
	return "." + id + ".tmp"
}

// Dispatch moves a claimed item into dir, creating dir if needed, and
// writes an optional sidecar next to it. Across filesystems the item is
// copied through a hidden staging name so dir never shows a partial file.
func (q *Queue) Dispatch(id, dir string, meta Metadata) (*Placement, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	target, err := q.prepareTarget(dir)
	if err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpDispatch)
		return nil, err
	}

	dst := filepath.Join(target, id)
	stage := filepath.Join(target, stagingName(id))
	if err := relocate(filepath.Join(q.pending, id), dst, stage, q.opts.FileMode, q.opts.Sync); err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpDispatch)
		return nil, q.notFound("dispatch", id, err)
	}

	p := &Placement{Path: dst}
	q.attachMetadata(p, meta)

	q.stats.dispatched.Add(1)
	q.opts.MetricsCollector.RecordTransition(metrics.OpDispatch)

	q.opts.Logger.Debug("item dispatched",
		logging.F("id", id),
		logging.F("dir", target),
	)

	return p, nil
}

// Duplicate copies a claimed item into dir. The original stays in
// pending/ and still has to be committed, cancelled or banished.
func (q *Queue) Duplicate(id, dir string, meta Metadata) (*Placement, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	target, err := q.prepareTarget(dir)
	if err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpDuplicate)
		return nil, err
	}

	dst := filepath.Join(target, id)
	if err := q.copyInto(id, dst, filepath.Join(target, stagingName(id))); err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpDuplicate)
		return nil, err
	}

	p := &Placement{Path: dst}
	q.attachMetadata(p, meta)

	q.stats.duplicated.Add(1)
	q.opts.MetricsCollector.RecordTransition(metrics.OpDuplicate)

	q.opts.Logger.Debug("item duplicated",
		logging.F("id", id),
		logging.F("dir", target),
	)

	return p, nil
}

func (q *Queue) copyInto(id, dst, stage string) error {
	if err := copyFile(filepath.Join(q.pending, id), stage, q.opts.FileMode, q.opts.Sync); err != nil {
		return q.notFound("duplicate", id, err)
	}
	if err := rename(stage, dst); err != nil {
		_ = os.Remove(stage)
		return fmt.Errorf("failed to duplicate %s: %w", id, err)
	}
	return nil
}

// prepareTarget validates dir and makes sure it exists.
func (q *Queue) prepareTarget(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("target directory cannot be empty")
	}

	target, err := validatePath(dir, "target directory")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(target, q.opts.DirMode); err != nil {
		return "", fmt.Errorf("failed to create target directory: %w", err)
	}
	return target, nil
}
