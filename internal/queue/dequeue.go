// Package queue provides item dequeue operations.
// This file contains the listing cache and the claim-by-rename loop.
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

// claimResult is the outcome of one claim attempt.
type claimResult int

const (
	// claimed means the item now belongs to this consumer.
	claimed claimResult = iota
	// raced means the item was gone: another consumer took it first.
	raced
	// failed means the rename failed for another reason.
	failed
)

func (r claimResult) String() string {
	switch r {
	case claimed:
		return "claimed"
	case raced:
		return "raced"
	default:
		return "failed"
	}
}

// claim moves incoming/<id> to pending/<id>.
func (q *Queue) claim(id string) (claimResult, error) {
	err := rename(filepath.Join(q.incoming, id), filepath.Join(q.pending, id))
	switch {
	case err == nil:
		return claimed, nil
	case errors.Is(err, fs.ErrNotExist):
		return raced, nil
	default:
		return failed, err
	}
}

// Next claims an item and reads its payload. It returns ErrEmpty when
// incoming/ holds nothing; it never blocks.
func (q *Queue) Next() (*Item, error) {
	return q.dequeue(true)
}

// NextFile claims an item without reading it. Item.Payload is nil; the
// caller opens Item.Path.
func (q *Queue) NextFile() (*Item, error) {
	return q.dequeue(false)
}

func (q *Queue) dequeue(read bool) (*Item, error) {
	start := time.Now()

	for {
		id, ok, err := q.candidate()
		if err != nil {
			q.opts.MetricsCollector.RecordDequeueError()
			return nil, err
		}
		if !ok {
			return nil, ErrEmpty
		}

		res, err := q.claim(id)
		switch res {
		case raced:
			q.stats.skips.Add(1)
			q.opts.MetricsCollector.RecordSkip()
			q.opts.Logger.Debug("claim lost",
				logging.F("id", id),
			)
			continue
		case failed:
			q.opts.MetricsCollector.RecordDequeueError()
			q.opts.Logger.Error("claim failed",
				logging.F("id", id),
				logging.F("error", err.Error()),
			)
			return nil, fmt.Errorf("failed to claim %s: %w", id, err)
		}

		item := &Item{ID: id, Path: filepath.Join(q.pending, id)}
		if read {
			payload, err := os.ReadFile(item.Path)
			if err != nil {
				q.opts.MetricsCollector.RecordDequeueError()
				return nil, fmt.Errorf("failed to read claimed item %s: %w", id, err)
			}
			item.Payload = payload
		}

		q.stats.dequeued.Add(1)

		q.opts.Logger.Debug("item claimed",
			logging.F("id", id),
			logging.F("payload_size", len(item.Payload)),
		)

		q.opts.MetricsCollector.RecordDequeue(len(item.Payload), time.Since(start))

		return item, nil
	}
}

// candidate pops a name from the cached listing, scanning incoming/ when
// the cache is exhausted. ok is false when a fresh scan finds nothing.
func (q *Queue) candidate() (id string, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.cache) == 0 {
		names, err := listItems(q.incoming)
		if err != nil {
			return "", false, err
		}
		q.stats.scans.Add(1)
		q.opts.MetricsCollector.RecordScan()
		q.cache = names
	}

	if len(q.cache) == 0 {
		return "", false, nil
	}

	id = q.cache[len(q.cache)-1]
	q.cache = q.cache[:len(q.cache)-1]
	return id, true, nil
}
