// Package sweep reconciles a queue after crashes.
//
// The queue never recovers state on its own. A producer that dies between
// creating its tmp file and publishing it leaves the file in tmp/, and a
// consumer that dies after claiming leaves the item in pending/. Sweep
// removes the former and, when asked, returns the latter to incoming/.
//
// Example usage:
//
//	res, err := sweep.Sweep(q, sweep.Policy{
//	    TmpMaxAge:     time.Hour,
//	    PendingMaxAge: 24 * time.Hour,
//	})
package sweep

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/queue"
)

// Policy controls what Sweep touches.
type Policy struct {
	// TmpMaxAge removes tmp/ files last modified before now - TmpMaxAge.
	// Zero disables the tmp/ pass.
	TmpMaxAge time.Duration

	// PendingMaxAge requeues items claimed before now - PendingMaxAge.
	// Zero disables the pending/ pass. Only enable it when no consumer
	// legitimately holds items that long.
	PendingMaxAge time.Duration

	// DryRun reports what would change without changing it.
	DryRun bool

	// Now returns the reference time (default time.Now).
	Now func() time.Time
}

// DefaultPolicy removes tmp/ files older than an hour and leaves pending/
// alone.
func DefaultPolicy() Policy {
	return Policy{
		TmpMaxAge: time.Hour,
	}
}

// Result reports what a sweep removed and requeued.
type Result struct {
	TmpRemoved []string
	Requeued   []string
	BytesFreed int64
	Duration   time.Duration
}

// Sweep applies p to q. Failures on individual files do not stop the
// sweep; they are joined into the returned error alongside the partial
// result.
func Sweep(q *queue.Queue, p Policy) (*Result, error) {
	if p.TmpMaxAge < 0 || p.PendingMaxAge < 0 {
		return nil, fmt.Errorf("sweep ages cannot be negative")
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	start := time.Now()
	ref := now()
	log := q.Logger()

	res := &Result{}
	var errs []error

	if p.TmpMaxAge > 0 {
		errs = append(errs, sweepTmp(q, p, ref.Add(-p.TmpMaxAge), res))
	}
	if p.PendingMaxAge > 0 {
		errs = append(errs, sweepPending(q, p, ref.Add(-p.PendingMaxAge), res))
	}

	res.Duration = time.Since(start)

	log.Info("sweep completed",
		logging.F("root", q.Root()),
		logging.F("tmp_removed", len(res.TmpRemoved)),
		logging.F("requeued", len(res.Requeued)),
		logging.F("bytes_freed", res.BytesFreed),
		logging.F("dry_run", p.DryRun),
	)

	return res, errors.Join(errs...)
}

func sweepTmp(q *queue.Queue, p Policy, cutoff time.Time, res *Result) error {
	dir := q.Dir(queue.StateTmp)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		// Renames keep the mtime of the source, so a commit staged into
		// tmp/ can carry an old mtime. The change time is when it landed.
		staged, err := changeTime(filepath.Join(dir, e.Name()))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !staged.Before(cutoff) {
			continue
		}

		if !p.DryRun {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					errs = append(errs, fmt.Errorf("failed to remove %s: %w", e.Name(), err))
				}
				continue
			}
		}

		res.TmpRemoved = append(res.TmpRemoved, e.Name())
		res.BytesFreed += info.Size()
		q.Logger().Debug("stale tmp file removed",
			logging.F("name", e.Name()),
			logging.F("age", time.Since(staged).String()),
		)
	}
	return errors.Join(errs...)
}

func sweepPending(q *queue.Queue, p Policy, cutoff time.Time, res *Result) error {
	ids, err := q.List(queue.StatePending)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		claimedAt, err := changeTime(filepath.Join(q.Dir(queue.StatePending), id))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !claimedAt.Before(cutoff) {
			continue
		}

		if !p.DryRun {
			if err := q.Requeue(id); err != nil {
				if !errors.Is(err, queue.ErrNotFound) {
					errs = append(errs, err)
				}
				continue
			}
		}
		res.Requeued = append(res.Requeued, id)
	}
	return errors.Join(errs...)
}
