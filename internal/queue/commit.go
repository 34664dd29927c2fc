// Package queue provides the terminal transitions of a claimed item.
// This file contains commit, cancel, update and requeue.
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/metrics"
)

// Commit completes a claimed item. With a next queue the item is staged
// into that queue's tmp/ and then published into its incoming/ under the
// same ID; otherwise it is deleted.
func (q *Queue) Commit(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	src := filepath.Join(q.pending, id)

	if q.next == nil {
		if err := os.Remove(src); err != nil {
			q.opts.MetricsCollector.RecordTransitionError(metrics.OpCommit)
			return q.notFound("commit", id, err)
		}
	} else if err := q.handOff(id, src); err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpCommit)
		q.opts.Logger.Error("commit to next queue failed",
			logging.F("id", id),
			logging.F("next", q.next.root),
			logging.F("error", err.Error()),
		)
		return err
	}

	q.stats.commits.Add(1)
	q.opts.MetricsCollector.RecordTransition(metrics.OpCommit)

	q.opts.Logger.Debug("item committed",
		logging.F("id", id),
		logging.F("chained", q.next != nil),
	)

	return nil
}

// handOff moves pending/<id> into the next queue. The item becomes visible
// in the next incoming/ only once it is fully present on that volume. If
// publishing fails the item is left in pending/ so the commit can be retried.
func (q *Queue) handOff(id, src string) error {
	stage := filepath.Join(q.next.tmp, id)
	dst := filepath.Join(q.next.incoming, id)

	copied := false
	if err := rename(src, stage); err != nil {
		if !isCrossDevice(err) {
			return q.notFound("commit", id, err)
		}
		// The source stays until the copy is published.
		if err := copyFile(src, stage, q.next.opts.FileMode, q.opts.Sync); err != nil {
			return q.notFound("commit", id, err)
		}
		copied = true
	}

	if err := rename(stage, dst); err != nil {
		perr := fmt.Errorf("failed to publish %s to next queue: %w", id, err)
		if copied {
			_ = os.Remove(stage)
		} else if rerr := rename(stage, src); rerr != nil {
			return errors.Join(perr, fmt.Errorf("failed to return %s to pending: %w", id, rerr))
		}
		return perr
	}

	if copied {
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("failed to remove %s after copy: %w", id, err)
		}
	}

	if q.opts.Sync {
		if err := syncDir(q.next.incoming); err != nil {
			return err
		}
	}
	return nil
}

// Cancel deletes a claimed item without leaving any trace.
func (q *Queue) Cancel(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(q.pending, id)); err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpCancel)
		return q.notFound("cancel", id, err)
	}

	q.stats.cancels.Add(1)
	q.opts.MetricsCollector.RecordTransition(metrics.OpCancel)

	q.opts.Logger.Debug("item cancelled",
		logging.F("id", id),
	)

	return nil
}

// Update rewrites the payload of a claimed item in place.
func (q *Queue) Update(id string, payload []byte) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := q.rewrite(id, payload); err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpUpdate)
		return err
	}

	q.stats.updates.Add(1)
	q.opts.MetricsCollector.RecordTransition(metrics.OpUpdate)

	q.opts.Logger.Debug("item updated",
		logging.F("id", id),
		logging.F("payload_size", len(payload)),
	)

	return nil
}

func (q *Queue) rewrite(id string, payload []byte) error {
	// No O_CREATE: the item must still be pending.
	f, err := os.OpenFile(filepath.Join(q.pending, id), os.O_WRONLY|os.O_TRUNC, 0) //nolint:gosec // G304: Path is derived from the queue root
	if err != nil {
		return q.notFound("update", id, err)
	}

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to update %s: %w", id, err)
	}

	if q.opts.Sync {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to sync %s: %w", id, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", id, err)
	}
	return nil
}

// Reload reads the current payload of a claimed item.
func (q *Queue) Reload(id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(filepath.Join(q.pending, id))
	if err != nil {
		return nil, q.notFound("reload", id, err)
	}
	return payload, nil
}

// Requeue returns a claimed item to incoming/ so another consumer can
// claim it. Operators use it to recover items left behind by a crashed
// consumer.
func (q *Queue) Requeue(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := rename(filepath.Join(q.pending, id), filepath.Join(q.incoming, id)); err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpRequeue)
		return q.notFound("requeue", id, err)
	}

	q.opts.MetricsCollector.RecordTransition(metrics.OpRequeue)

	q.opts.Logger.Info("item requeued",
		logging.F("id", id),
	)

	return nil
}
