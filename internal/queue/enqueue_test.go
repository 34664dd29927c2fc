package queue

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_Publishes(t *testing.T) {
	q := setupQueue(t, &Options{Suffix: "job", Sync: true})

	id, err := q.Enqueue([]byte("payload"))
	require.NoError(t, err)

	assert.True(t, q.IsIncoming(id))
	assert.True(t, bytes.HasSuffix([]byte(id), []byte(".job")))
	assert.Empty(t, dirEntries(t, q.Dir(StateTmp)), "tmp file must be renamed away")

	data, err := os.ReadFile(filepath.Join(q.Dir(StateIncoming), id))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Equal(t, uint64(1), q.Statistics().Queued)
}

func TestEnqueue_EmptyPayload(t *testing.T) {
	q := setupQueue(t, nil)

	id, err := q.Enqueue(nil)
	require.NoError(t, err)

	item, err := q.Next()
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Empty(t, item.Payload)
}

func TestEnqueue_RoundTrip(t *testing.T) {
	q := setupQueue(t, nil)

	payloads := [][]byte{
		[]byte("hello"),
		{0x00, 0xff, 0x10, 0x00},
		bytes.Repeat([]byte("x"), 1<<20),
		[]byte("line1\nline2\n"),
	}

	for _, p := range payloads {
		id, err := q.Enqueue(p)
		require.NoError(t, err)

		item, err := q.Next()
		require.NoError(t, err)
		assert.Equal(t, id, item.ID)
		assert.Equal(t, p, item.Payload)
		require.NoError(t, q.Commit(id))
	}
}

func TestEnqueue_InsufficientSpace(t *testing.T) {
	q := setupQueue(t, &Options{MinFreeDiskSpace: math.MaxInt64})

	_, err := q.Enqueue([]byte("x"))
	assert.ErrorIs(t, err, ErrInsufficientSpace)
	assertCounts(t, q, 0, 0, 0)
}

func TestEnqueue_TmpRemovedOnFailure(t *testing.T) {
	q := setupQueue(t, nil)

	// Without incoming/ the final rename fails.
	require.NoError(t, os.RemoveAll(q.Dir(StateIncoming)))

	_, err := q.Enqueue([]byte("x"))
	assert.Error(t, err)
	assert.Empty(t, dirEntries(t, q.Dir(StateTmp)))
	assert.Zero(t, q.Statistics().Queued)
}

func TestEnqueueFile(t *testing.T) {
	q := setupQueue(t, nil)

	src := filepath.Join(t.TempDir(), "report-001.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n"), 0o644))

	id, err := q.EnqueueFile(src)
	require.NoError(t, err)
	assert.Equal(t, "report-001.csv", id)
	assert.True(t, q.IsIncoming(id))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be moved")

	item, err := q.Next()
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(item.Payload))
	assert.Equal(t, uint64(1), q.Statistics().Queued)
}

func TestEnqueueFile_Exists(t *testing.T) {
	q := setupQueue(t, nil)
	dir := t.TempDir()

	first := filepath.Join(dir, "a", "item")
	second := filepath.Join(dir, "b", "item")
	for _, p := range []string{first, second} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(p), 0o644))
	}

	_, err := q.EnqueueFile(first)
	require.NoError(t, err)

	_, err = q.EnqueueFile(second)
	assert.ErrorIs(t, err, ErrExists)

	_, err = os.Stat(second)
	assert.NoError(t, err, "rejected source stays in place")
}

func TestEnqueueFile_InvalidName(t *testing.T) {
	q := setupQueue(t, nil)
	dir := t.TempDir()

	for _, name := range []string{".hidden", "x.meta"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, nil, 0o644))

		_, err := q.EnqueueFile(p)
		assert.ErrorIs(t, err, ErrInvalidID, name)
	}

	_, err := q.EnqueueFile(dir)
	assert.ErrorIs(t, err, ErrInvalidID, "directories are not items")

	_, err = q.EnqueueFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
