package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vnykmshr/dirq/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupQueue(t *testing.T) *queue.Queue {
	t.Helper()

	q, err := queue.Open(filepath.Join(t.TempDir(), "q"), nil)
	require.NoError(t, err)
	return q
}

// runUntil runs c in the background and stops it once cond holds.
func runUntil(t *testing.T, c *Consumer, cond func() bool) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func count(t *testing.T, fn func() (int, error)) int {
	t.Helper()
	n, err := fn()
	require.NoError(t, err)
	return n
}

func TestNew_Validation(t *testing.T) {
	q := setupQueue(t)

	_, err := New(nil, func(context.Context, *queue.Item) error { return nil })
	assert.Error(t, err)

	_, err = New(q, nil)
	assert.Error(t, err)

	c, err := New(q, func(context.Context, *queue.Item) error { return nil }, WithID("worker-1"))
	require.NoError(t, err)
	assert.Equal(t, "worker-1", c.ID())
}

func TestConsumer_CommitsOnSuccess(t *testing.T) {
	q := setupQueue(t)
	for i := 0; i < 10; i++ {
		_, err := q.Enqueue([]byte(fmt.Sprintf("item-%d", i)))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	c, err := New(q, func(_ context.Context, item *queue.Item) error {
		mu.Lock()
		defer mu.Unlock()
		seen[string(item.Payload)] = true
		return nil
	}, WithWorkers(3), WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	err = runUntil(t, c, func() bool { return c.Processed() == 10 })
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, seen, 10)
	assert.Zero(t, count(t, q.CountIncoming))
	assert.Zero(t, count(t, q.CountPending))
	assert.Zero(t, count(t, q.CountErrors))
}

func TestConsumer_BanishesFailures(t *testing.T) {
	q := setupQueue(t)
	id, err := q.Enqueue([]byte("bad"))
	require.NoError(t, err)

	c, err := New(q, func(context.Context, *queue.Item) error {
		return errors.New("bad-format\nstack trace line")
	}, WithPollInterval(20*time.Millisecond), WithID("c1"))
	require.NoError(t, err)

	_ = runUntil(t, c, func() bool { return q.IsError(id) })

	meta, err := q.ReadMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, "bad-format", meta["reason"])
	assert.Equal(t, "c1", meta["consumer"])
	assert.Equal(t, float64(1), meta["attempts"])
	assert.NotEmpty(t, meta["failed_at"])
	assert.Equal(t, uint64(1), c.Failed())
}

func TestConsumer_RetriesBeforeBanish(t *testing.T) {
	q := setupQueue(t)
	id, err := q.Enqueue([]byte("flaky"))
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	c, err := New(q, func(context.Context, *queue.Item) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	}, WithMaxAttempts(3), WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	_ = runUntil(t, c, func() bool { return c.Processed() == 1 })

	assert.Equal(t, 3, calls)
	assert.False(t, q.IsError(id))
	assert.Zero(t, c.retries.Count(), "success clears retry state")
}

func TestConsumer_BacksOffBetweenAttempts(t *testing.T) {
	q := setupQueue(t)
	_, err := q.Enqueue([]byte("flaky"))
	require.NoError(t, err)

	const delay = 150 * time.Millisecond

	var mu sync.Mutex
	var calls []time.Time
	c, err := New(q, func(context.Context, *queue.Item) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, time.Now())
		if len(calls) == 1 {
			return errors.New("temporary")
		}
		return nil
	}, WithMaxAttempts(2), WithPollInterval(10*time.Millisecond), WithRetryDelay(delay))
	require.NoError(t, err)

	_ = runUntil(t, c, func() bool { return c.Processed() == 1 })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), delay)
}

func TestConsumer_ShutdownRequeuesInFlight(t *testing.T) {
	q := setupQueue(t)
	id, err := q.Enqueue([]byte("long job"))
	require.NoError(t, err)

	started := make(chan struct{})
	c, err := New(q, func(ctx context.Context, _ *queue.Item) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.True(t, q.IsIncoming(id), "interrupted item goes back to incoming")
	assert.False(t, q.IsError(id))
	assert.Zero(t, c.Failed())
	assert.Zero(t, c.retries.Count())
}

func TestConsumer_ShutdownDuringBackoff(t *testing.T) {
	q := setupQueue(t)
	id, err := q.Enqueue([]byte("flaky"))
	require.NoError(t, err)

	failed := make(chan struct{})
	c, err := New(q, func(context.Context, *queue.Item) error {
		close(failed)
		return errors.New("temporary")
	}, WithMaxAttempts(2), WithPollInterval(20*time.Millisecond), WithRetryDelay(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-failed
	require.Eventually(t, func() bool { return c.Failed() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("backoff did not end on shutdown")
	}
	assert.True(t, q.IsIncoming(id))
}

func TestConsumer_PathOnly(t *testing.T) {
	q := setupQueue(t)
	_, err := q.Enqueue([]byte("on disk"))
	require.NoError(t, err)

	var mu sync.Mutex
	var payload []byte
	var content string
	c, err := New(q, func(_ context.Context, item *queue.Item) error {
		data, err := os.ReadFile(item.Path)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		payload = item.Payload
		content = string(data)
		return nil
	}, WithPathOnly(), WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	_ = runUntil(t, c, func() bool { return c.Processed() == 1 })

	mu.Lock()
	defer mu.Unlock()
	assert.Nil(t, payload)
	assert.Equal(t, "on disk", content)
}

func TestConsumer_DropCancels(t *testing.T) {
	q := setupQueue(t)
	_, err := q.Enqueue([]byte("dup"))
	require.NoError(t, err)

	c, err := New(q, func(context.Context, *queue.Item) error {
		return fmt.Errorf("already seen: %w", ErrDrop)
	}, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	_ = runUntil(t, c, func() bool { return q.Statistics().Cancels == 1 })

	assert.Zero(t, count(t, q.CountPending))
	assert.Zero(t, count(t, q.CountErrors))
}

func TestConsumer_Reroute(t *testing.T) {
	q := setupQueue(t)
	id, err := q.Enqueue([]byte("eu order"))
	require.NoError(t, err)
	target := filepath.Join(t.TempDir(), "eu")

	c, err := New(q, func(context.Context, *queue.Item) error {
		return &Reroute{Dir: target, Meta: queue.Metadata{"region": "eu"}}
	}, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	_ = runUntil(t, c, func() bool { return q.Statistics().Dispatched == 1 })

	data, err := os.ReadFile(filepath.Join(target, id))
	require.NoError(t, err)
	assert.Equal(t, "eu order", string(data))
}

func TestConsumer_PanicIsBanished(t *testing.T) {
	q := setupQueue(t)
	id, err := q.Enqueue([]byte("boom"))
	require.NoError(t, err)

	c, err := New(q, func(context.Context, *queue.Item) error {
		panic("unexpected payload")
	}, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	_ = runUntil(t, c, func() bool { return q.IsError(id) })

	meta, err := q.ReadMetadata(id)
	require.NoError(t, err)
	assert.Contains(t, meta["reason"], "unexpected payload")
}

func TestConsumer_HandlerCompletesItem(t *testing.T) {
	q := setupQueue(t)
	_, err := q.Enqueue([]byte("self"))
	require.NoError(t, err)

	c, err := New(q, func(_ context.Context, item *queue.Item) error {
		return q.Cancel(item.ID)
	}, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	err = runUntil(t, c, func() bool { return c.Processed() == 1 })
	assert.ErrorIs(t, err, context.Canceled, "missing item on commit is not fatal")
}

func TestConsumer_WakesOnArrival(t *testing.T) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		t.Skipf("filesystem watch unavailable: %v", err)
	}
	_ = w.Close()

	q := setupQueue(t)
	c, err := New(q, func(context.Context, *queue.Item) error { return nil },
		WithPollInterval(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// The first scan happens immediately; wait for it before enqueueing.
	require.Eventually(t, func() bool { return q.Statistics().Scans >= 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	_, err = q.Enqueue([]byte("late"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return c.Processed() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConsumer_StopsOnTransitionError(t *testing.T) {
	q := setupQueue(t)
	_, err := q.Enqueue([]byte("x"))
	require.NoError(t, err)

	// A file where the target directory should be makes Dispatch fail.
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	c, err := New(q, func(context.Context, *queue.Item) error {
		return &Reroute{Dir: filepath.Join(blocker, "sub")}
	}, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Run(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), c.ID())
}

func TestRetryTracker(t *testing.T) {
	rt := newRetryTracker(2)

	n, exceeded := rt.Nack("a", "first")
	assert.Equal(t, 1, n)
	assert.False(t, exceeded)

	info := rt.GetInfo("a")
	require.NotNil(t, info)
	assert.Equal(t, "first", info.FailureReason)
	assert.Equal(t, 1, rt.Count())

	n, exceeded = rt.Nack("a", "second")
	assert.Equal(t, 2, n)
	assert.True(t, exceeded)
	assert.Nil(t, rt.GetInfo("a"), "exhausted items are forgotten")

	rt.Nack("b", "x")
	rt.Ack("b")
	assert.Zero(t, rt.Count())
}
