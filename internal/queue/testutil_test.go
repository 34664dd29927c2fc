package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupQueue creates a test queue rooted in a fresh temporary directory.
func setupQueue(t *testing.T, opts *Options) *Queue {
	t.Helper()

	q, err := Open(filepath.Join(t.TempDir(), "q"), opts)
	require.NoError(t, err, "failed to create queue")

	return q
}

// setupChain creates a queue whose commits flow into a second queue.
func setupChain(t *testing.T) (a, b *Queue) {
	t.Helper()

	root := t.TempDir()
	b, err := Open(filepath.Join(root, "b"), nil)
	require.NoError(t, err)

	a, err = Open(filepath.Join(root, "a"), &Options{Next: b})
	require.NoError(t, err)

	return a, b
}

// enqueueN enqueues n items and returns their IDs.
// Payloads are in the format "msg-0", "msg-1", etc.
func enqueueN(t *testing.T, q *Queue, n int) []string {
	t.Helper()

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id, err := q.Enqueue([]byte(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err, "enqueue %d failed", i)
		ids[i] = id
	}

	return ids
}

// claim enqueues payload and claims it back.
func claim(t *testing.T, q *Queue, payload string) *Item {
	t.Helper()

	_, err := q.Enqueue([]byte(payload))
	require.NoError(t, err)

	item, err := q.Next()
	require.NoError(t, err)
	return item
}

// dirEntries returns every name in dir, hidden files included.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// assertCounts validates the live directory counts.
func assertCounts(t *testing.T, q *Queue, incoming, pending, errs int) {
	t.Helper()

	n, err := q.CountIncoming()
	require.NoError(t, err)
	require.Equal(t, incoming, n, "incoming")

	n, err = q.CountPending()
	require.NoError(t, err)
	require.Equal(t, pending, n, "pending")

	n, err = q.CountErrors()
	require.NoError(t, err)
	require.Equal(t, errs, n, "errors")
}
