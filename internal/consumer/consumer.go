// Package consumer runs handlers against a queue.
//
// The queue itself never blocks: Next returns ErrEmpty when there is
// nothing to do. A Consumer owns the waiting. It watches incoming/ with
// fsnotify, falls back to a poll ticker, and maps each handler result
// onto a queue transition:
//
//	nil        -> Commit
//	ErrDrop    -> Cancel
//	*Reroute   -> Dispatch into Reroute.Dir
//	other      -> Requeue after a backoff while attempts remain, then Banish
//
// An item whose handler fails because the consumer is shutting down is
// requeued without counting an attempt.
//
// Example usage:
//
//	c, err := consumer.New(q, func(ctx context.Context, item *queue.Item) error {
//	    return process(ctx, item.Payload)
//	}, consumer.WithWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = c.Run(ctx) // returns ctx.Err() on shutdown
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/queue"
)

// Handler processes one claimed item.
type Handler func(ctx context.Context, item *queue.Item) error

// ErrDrop tells the consumer to cancel the item without a trace.
var ErrDrop = errors.New("drop item")

// Reroute tells the consumer to dispatch the item into Dir with Meta as its
// sidecar.
type Reroute struct {
	Dir  string
	Meta queue.Metadata
}

func (r *Reroute) Error() string {
	return "reroute to " + r.Dir
}

// Consumer claims items from a queue and hands them to a Handler.
type Consumer struct {
	q       *queue.Queue
	handler Handler
	id      string

	workers      int
	pollInterval time.Duration
	retryDelay   time.Duration
	maxBackoff   time.Duration
	maxAttempts  int
	pathOnly     bool
	logger       logging.Logger

	retries *retryTracker
	wake    chan struct{}

	processed atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithWorkers sets the number of concurrent claim loops (default 1).
func WithWorkers(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithPollInterval sets how often workers rescan when no filesystem event
// arrives (default 1s).
func WithPollInterval(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRetryDelay sets the base delay before a failed item is requeued
// (default: the poll interval). It doubles with every attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithMaxBackoff caps the delay between retries after claim failures and
// handler failures (default 30s).
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// WithMaxAttempts sets how many times a failing item is handled before it
// is banished (default 1). Failed attempts are requeued.
func WithMaxAttempts(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithPathOnly claims items without reading them. Handlers get a nil
// Item.Payload and open Item.Path themselves.
func WithPathOnly() Option {
	return func(c *Consumer) {
		c.pathOnly = true
	}
}

// WithLogger sets the consumer logger. By default the queue's logger is
// used.
func WithLogger(l logging.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithID overrides the generated consumer ID recorded in banish metadata.
func WithID(id string) Option {
	return func(c *Consumer) {
		if id != "" {
			c.id = id
		}
	}
}

// New creates a consumer for q.
func New(q *queue.Queue, handler Handler, opts ...Option) (*Consumer, error) {
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	c := &Consumer{
		q:            q,
		handler:      handler,
		id:           uuid.NewString(),
		workers:      1,
		pollInterval: time.Second,
		maxBackoff:   30 * time.Second,
		maxAttempts:  1,
		logger:       q.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.retryDelay == 0 {
		c.retryDelay = c.pollInterval
	}
	c.retries = newRetryTracker(c.maxAttempts)
	c.wake = make(chan struct{}, c.workers)

	return c, nil
}

// ID returns the consumer ID.
func (c *Consumer) ID() string {
	return c.id
}

// Processed returns the number of items the handler completed without error.
func (c *Consumer) Processed() uint64 {
	return c.processed.Load()
}

// Failed returns the number of handler failures.
func (c *Consumer) Failed() uint64 {
	return c.failed.Load()
}

// Run processes items until ctx is cancelled or a queue transition fails.
// It returns ctx.Err() on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("filesystem watch unavailable, polling only",
			logging.F("error", err.Error()),
		)
	} else {
		defer func() { _ = watcher.Close() }()

		if err := watcher.Add(c.q.Dir(queue.StateIncoming)); err != nil {
			c.logger.Warn("failed to watch incoming directory, polling only",
				logging.F("error", err.Error()),
			)
		} else {
			g.Go(func() error {
				c.watch(gctx, watcher)
				return nil
			})
		}
	}

	c.logger.Info("consumer started",
		logging.F("consumer", c.id),
		logging.F("root", c.q.Root()),
		logging.F("workers", c.workers),
	)

	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			return c.work(gctx)
		})
	}

	err = g.Wait()

	c.logger.Info("consumer stopped",
		logging.F("consumer", c.id),
		logging.F("processed", c.processed.Load()),
		logging.F("failed", c.failed.Load()),
	)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// watch turns create and rename events in incoming/ into worker wake-ups.
func (c *Consumer) watch(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				c.notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Warn("filesystem watch error",
				logging.F("error", err.Error()),
			)
		}
	}
}

// notify wakes every idle worker without blocking.
func (c *Consumer) notify() {
	for i := 0; i < c.workers; i++ {
		select {
		case c.wake <- struct{}{}:
		default:
			return
		}
	}
}

// work is one claim loop: drain the queue, then wait for an event or the
// next poll tick.
func (c *Consumer) work(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := c.claim()
		switch {
		case err == nil:
			failures = 0
			if err := c.process(ctx, item); err != nil {
				return err
			}
			continue

		case errors.Is(err, queue.ErrEmpty):
			failures = 0

		default:
			failures++
			delay := queue.CalculateBackoff(failures, c.pollInterval, c.maxBackoff)
			c.logger.Warn("claim failed, backing off",
				logging.F("error", err.Error()),
				logging.F("backoff", delay.String()),
			)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

func (c *Consumer) claim() (*queue.Item, error) {
	if c.pathOnly {
		return c.q.NextFile()
	}
	return c.q.Next()
}

// process runs the handler and applies the resulting transition.
func (c *Consumer) process(ctx context.Context, item *queue.Item) error {
	herr := c.invoke(ctx, item)

	var reroute *Reroute
	var err error
	switch {
	case herr == nil:
		c.processed.Add(1)
		c.retries.Ack(item.ID)
		err = c.q.Commit(item.ID)

	case errors.Is(herr, ErrDrop):
		c.retries.Ack(item.ID)
		err = c.q.Cancel(item.ID)

	case errors.As(herr, &reroute):
		c.retries.Ack(item.ID)
		var p *queue.Placement
		if p, err = c.q.Dispatch(item.ID, reroute.Dir, reroute.Meta); err == nil && p.MetaErr != nil {
			c.logger.Warn("rerouted without metadata",
				logging.F("id", item.ID),
				logging.F("error", p.MetaErr.Error()),
			)
		}

	case ctx.Err() != nil:
		c.logger.Info("handler interrupted, requeueing",
			logging.F("id", item.ID),
			logging.F("error", herr.Error()),
		)
		err = c.q.Requeue(item.ID)

	default:
		c.failed.Add(1)
		err = c.fail(ctx, item, herr)
	}

	if errors.Is(err, queue.ErrNotFound) {
		// The handler finished the item itself.
		c.logger.Debug("item already left pending",
			logging.F("id", item.ID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("consumer %s: %w", c.id, err)
	}
	return nil
}

// fail requeues the item while it has attempts left and banishes it after.
// The claim is held for the backoff so no worker picks the item up early;
// shutdown cuts the wait short.
func (c *Consumer) fail(ctx context.Context, item *queue.Item, herr error) error {
	reason := queue.SanitizeReason(herr.Error())

	attempts, exceeded := c.retries.Nack(item.ID, reason)
	if !exceeded {
		delay := queue.CalculateBackoff(attempts-1, c.retryDelay, c.maxBackoff)
		c.logger.Warn("handler failed, requeueing",
			logging.F("id", item.ID),
			logging.F("attempt", attempts),
			logging.F("backoff", delay.String()),
			logging.F("error", reason),
		)
		sleep(ctx, delay)
		return c.q.Requeue(item.ID)
	}

	p, err := c.q.Banish(item.ID, queue.Metadata{
		"reason":    reason,
		"consumer":  c.id,
		"attempts":  attempts,
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if p.MetaErr != nil {
		c.logger.Warn("banished without metadata",
			logging.F("id", item.ID),
			logging.F("error", p.MetaErr.Error()),
		)
	}
	return nil
}

// invoke calls the handler, converting a panic into an error so the item
// is banished instead of left in pending/.
func (c *Consumer) invoke(ctx context.Context, item *queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, item)
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
