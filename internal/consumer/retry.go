package consumer

import (
	"sync"
	"time"
)

// RetryInfo contains retry metadata for a single item.
type RetryInfo struct {
	ID            string    `json:"id"`
	RetryCount    int       `json:"retry_count"`
	LastFailure   time.Time `json:"last_failure"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// retryTracker counts handler failures per item for one consumer. State
// lives in memory: another consumer, or a restart, starts from zero.
type retryTracker struct {
	maxAttempts int
	mu          sync.Mutex
	entries     map[string]*RetryInfo
}

func newRetryTracker(maxAttempts int) *retryTracker {
	return &retryTracker{
		maxAttempts: maxAttempts,
		entries:     make(map[string]*RetryInfo),
	}
}

// Nack records a failure and reports whether the item has used up its
// attempts and should be banished.
func (rt *retryTracker) Nack(id, reason string) (attempts int, exceeded bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	entry, ok := rt.entries[id]
	if !ok {
		entry = &RetryInfo{ID: id}
		rt.entries[id] = entry
	}
	entry.RetryCount++
	entry.LastFailure = time.Now()
	entry.FailureReason = reason

	exceeded = entry.RetryCount >= rt.maxAttempts
	if exceeded {
		delete(rt.entries, id)
	}
	return entry.RetryCount, exceeded
}

// Ack forgets an item once it left pending/ for good.
func (rt *retryTracker) Ack(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.entries, id)
}

// GetInfo returns a copy of the retry state of id, or nil.
func (rt *retryTracker) GetInfo(id string) *RetryInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	entry := rt.entries[id]
	if entry == nil {
		return nil
	}
	info := *entry
	return &info
}

// Count returns the number of items with recorded failures.
func (rt *retryTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.entries)
}
