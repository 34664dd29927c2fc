package queue

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatistics_Consistency(t *testing.T) {
	q := setupQueue(t, nil)

	const m, k = 25, 10
	enqueueN(t, q, m)
	for i := 0; i < k; i++ {
		item, err := q.Next()
		require.NoError(t, err)
		require.NoError(t, q.Commit(item.ID))
	}

	stats := q.Statistics().Map()
	assert.Equal(t, uint64(m), stats["queued"])
	assert.Equal(t, uint64(k), stats["dequeued"])
	assert.Equal(t, uint64(k), stats["commits"])
	assert.Zero(t, stats["skips"])
	assertCounts(t, q, m-k, 0, 0)
}

func TestStatistics_Map(t *testing.T) {
	keys := make([]string, 0)
	for k := range (Statistics{}).Map() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assert.Equal(t, []string{
		"cancels", "commits", "dequeued", "dispatched", "duplicated",
		"errors", "queued", "scans", "skips", "updates",
	}, keys)
}

func TestStatistics_PerInstance(t *testing.T) {
	root := t.TempDir()
	q1, err := Open(root, nil)
	require.NoError(t, err)
	q2, err := Open(root, nil)
	require.NoError(t, err)

	enqueueN(t, q1, 3)

	assert.Equal(t, uint64(3), q1.Statistics().Queued)
	assert.Zero(t, q2.Statistics().Queued)

	n, err := q2.CountIncoming()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "counts come from the directory")
}

func TestCounts_IgnoreStagingAndSidecars(t *testing.T) {
	q := setupQueue(t, nil)
	enqueueN(t, q, 2)

	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(StateErrors), "x.meta"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(StatePending), ".x.tmp"), nil, 0o644))

	assertCounts(t, q, 2, 0, 0)
}

func TestIsState_InvalidIDs(t *testing.T) {
	q := setupQueue(t, nil)

	assert.False(t, q.IsIncoming(""))
	assert.False(t, q.IsPending(".."))
	assert.False(t, q.IsError("a/b"))

	// Directories are not items.
	require.NoError(t, os.Mkdir(filepath.Join(q.Dir(StateIncoming), "dir"), 0o755))
	assert.False(t, q.IsIncoming("dir"))
}

func TestList(t *testing.T) {
	q := setupQueue(t, nil)
	ids := enqueueN(t, q, 5)
	sort.Strings(ids)

	got, err := q.List(StateIncoming)
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	got, err = q.List(StatePending)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = q.List(StateTmp)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = q.List(State("bogus"))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestCountDone_Unchained(t *testing.T) {
	q := setupQueue(t, nil)
	item := claim(t, q, "x")
	require.NoError(t, q.Commit(item.ID))

	n, err := q.CountDone()
	require.NoError(t, err)
	assert.Zero(t, n)
}
