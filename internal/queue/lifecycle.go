// Package queue provides introspection for queue state.
// This file contains statistics, directory counts and existence checks.
package queue

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// stats holds per-instance counters.
type stats struct {
	queued     atomic.Uint64
	dequeued   atomic.Uint64
	commits    atomic.Uint64
	errors     atomic.Uint64
	updates    atomic.Uint64
	cancels    atomic.Uint64
	skips      atomic.Uint64
	dispatched atomic.Uint64
	duplicated atomic.Uint64
	scans      atomic.Uint64
}

// Statistics is a snapshot of the counters of one Queue value. Counters
// start at zero in Open and are never persisted or shared between
// processes; CountIncoming and friends are the authoritative view.
type Statistics struct {
	Queued     uint64
	Dequeued   uint64
	Commits    uint64
	Errors     uint64
	Updates    uint64
	Cancels    uint64
	Skips      uint64
	Dispatched uint64
	Duplicated uint64
	Scans      uint64
}

// Map returns the counters keyed by their lower-case names.
func (s Statistics) Map() map[string]uint64 {
	return map[string]uint64{
		"queued":     s.Queued,
		"dequeued":   s.Dequeued,
		"commits":    s.Commits,
		"errors":     s.Errors,
		"updates":    s.Updates,
		"cancels":    s.Cancels,
		"skips":      s.Skips,
		"dispatched": s.Dispatched,
		"duplicated": s.Duplicated,
		"scans":      s.Scans,
	}
}

// Statistics returns a snapshot of this instance's counters.
func (q *Queue) Statistics() Statistics {
	return Statistics{
		Queued:     q.stats.queued.Load(),
		Dequeued:   q.stats.dequeued.Load(),
		Commits:    q.stats.commits.Load(),
		Errors:     q.stats.errors.Load(),
		Updates:    q.stats.updates.Load(),
		Cancels:    q.stats.cancels.Load(),
		Skips:      q.stats.skips.Load(),
		Dispatched: q.stats.dispatched.Load(),
		Duplicated: q.stats.duplicated.Load(),
		Scans:      q.stats.scans.Load(),
	}
}

// CountIncoming returns the number of items waiting to be claimed.
func (q *Queue) CountIncoming() (int, error) {
	return count(q.incoming)
}

// CountPending returns the number of claimed items.
func (q *Queue) CountPending() (int, error) {
	return count(q.pending)
}

// CountErrors returns the number of banished items. Sidecars are not
// counted.
func (q *Queue) CountErrors() (int, error) {
	return count(q.errors)
}

// CountDone returns the number of committed items waiting in the next
// queue's incoming/. It is always 0 for an unchained queue, whose
// committed items are deleted.
func (q *Queue) CountDone() (int, error) {
	if q.next == nil {
		return 0, nil
	}
	return q.next.CountIncoming()
}

func count(dir string) (int, error) {
	names, err := listItems(dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// IsIncoming reports whether id is waiting in incoming/.
func (q *Queue) IsIncoming(id string) bool {
	return exists(q.incoming, id)
}

// IsPending reports whether id is claimed.
func (q *Queue) IsPending(id string) bool {
	return exists(q.pending, id)
}

// IsError reports whether id was banished.
func (q *Queue) IsError(id string) bool {
	return exists(q.errors, id)
}

// List returns the sorted item IDs in a state directory.
func (q *Queue) List(s State) ([]string, error) {
	switch s {
	case StateIncoming, StatePending, StateErrors:
	default:
		return nil, fmt.Errorf("%w: cannot list state %q", ErrInvalidOptions, s)
	}

	names, err := listItems(q.Dir(s))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// RefreshMetrics copies the directory counts into the metrics collector's
// gauges.
func (q *Queue) RefreshMetrics() error {
	incoming, err := q.CountIncoming()
	if err != nil {
		return err
	}
	pending, err := q.CountPending()
	if err != nil {
		return err
	}
	errs, err := q.CountErrors()
	if err != nil {
		return err
	}

	q.opts.MetricsCollector.UpdateQueueState(uint64(incoming), uint64(pending), uint64(errs)) //nolint:gosec // G115: counts are non-negative
	return nil
}
