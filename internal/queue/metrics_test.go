package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/dirq/internal/metrics"
)

func TestQueue_MetricsIntegration(t *testing.T) {
	collector := metrics.NewCollector("test")
	q := setupQueue(t, &Options{MetricsCollector: collector})

	ids := enqueueN(t, q, 4)

	a, err := q.Next()
	require.NoError(t, err)
	require.NoError(t, q.Commit(a.ID))

	b, err := q.Next()
	require.NoError(t, err)
	_, err = q.Banish(b.ID, nil)
	require.NoError(t, err)

	c, err := q.Next()
	require.NoError(t, err)
	require.NoError(t, q.Cancel(c.ID))

	assert.ErrorIs(t, q.Commit(ids[0]), ErrNotFound)

	require.NoError(t, q.RefreshMetrics())

	snap := collector.GetSnapshot()
	assert.Equal(t, uint64(4), snap.EnqueueTotal)
	assert.Equal(t, uint64(3), snap.DequeueTotal)
	assert.Equal(t, uint64(4*len("msg-0")), snap.EnqueueBytes)
	assert.Equal(t, uint64(1), snap.Transitions[metrics.OpCommit])
	assert.Equal(t, uint64(1), snap.Transitions[metrics.OpBanish])
	assert.Equal(t, uint64(1), snap.Transitions[metrics.OpCancel])
	assert.Equal(t, uint64(1), snap.TransitionErrors[metrics.OpCommit])
	assert.Equal(t, uint64(1), snap.Scans)

	assert.Equal(t, uint64(1), snap.IncomingItems)
	assert.Equal(t, uint64(0), snap.PendingItems)
	assert.Equal(t, uint64(1), snap.ErrorItems)
}

func TestQueue_MetricsSkipsAndErrors(t *testing.T) {
	collector := metrics.NewCollector("test")
	q := setupQueue(t, &Options{MetricsCollector: collector, MinFreeDiskSpace: 1 << 62})

	_, err := q.Enqueue([]byte("x"))
	assert.ErrorIs(t, err, ErrInsufficientSpace)

	snap := collector.GetSnapshot()
	assert.Equal(t, uint64(1), snap.EnqueueErrors)
	assert.Zero(t, snap.EnqueueTotal)
}
