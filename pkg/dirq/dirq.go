// Package dirq provides a persistent queue backed by a plain directory.
//
// Producers and consumers share nothing but the filesystem: items are files,
// and moving a file between incoming/, pending/ and errors/ changes its state.
// Any number of processes can work on one queue without a broker or locks,
// and queues can be chained so that committing in one stage publishes into
// the next.
//
// Example usage:
//
//	q, err := dirq.Open("/var/spool/ingest", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Publish an item
//	id, err := q.Enqueue([]byte("Hello, World!"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Claim and complete it
//	item, err := q.Next()
//	if errors.Is(err, dirq.ErrEmpty) {
//	    return
//	}
//	fmt.Printf("Item %s: %s\n", item.ID, item.Payload)
//	err = q.Commit(item.ID)
package dirq

import (
	"context"
	"fmt"
	"time"

	"github.com/vnykmshr/dirq/internal/consumer"
	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/metrics"
	"github.com/vnykmshr/dirq/internal/queue"
	"github.com/vnykmshr/dirq/internal/sweep"
)

// Version is the current version of dirq.
// This is the single source of truth for the application version.
const Version = "0.3.0"

// Errors returned by queue operations. Match them with errors.Is.
var (
	ErrSetup             = queue.ErrSetup
	ErrEmpty             = queue.ErrEmpty
	ErrNotFound          = queue.ErrNotFound
	ErrInvalidID         = queue.ErrInvalidID
	ErrExists            = queue.ErrExists
	ErrInsufficientSpace = queue.ErrInsufficientSpace
	ErrInvalidOptions    = queue.ErrInvalidOptions
)

// ErrDrop returned by a Handler cancels the item.
var ErrDrop = consumer.ErrDrop

// Queue represents a directory-backed queue.
type Queue struct {
	q *queue.Queue
}

// Item is a claimed queue item.
type Item = queue.Item

// Metadata is the key/value document stored in an item's sidecar.
type Metadata = queue.Metadata

// Placement describes where Banish, Dispatch or Duplicate put an item.
type Placement = queue.Placement

// Statistics is a snapshot of one Queue value's counters.
type Statistics = queue.Statistics

// State names a queue subdirectory.
type State = queue.State

// Queue states.
const (
	StateIncoming = queue.StateIncoming
	StatePending  = queue.StatePending
	StateErrors   = queue.StateErrors
	StateTmp      = queue.StateTmp
)

// Options configures queue behavior.
type Options struct {
	// Next is the queue Commit publishes into (nil = Commit deletes)
	Next *Queue

	// Suffix is the last component of generated IDs
	// Default: "msg"
	Suffix string

	// Sync fsyncs payloads and directories on every publish
	// Default: false
	Sync bool

	// MinFreeDiskSpace makes Enqueue fail below this many free bytes
	// Default: 0 (disabled)
	MinFreeDiskSpace int64

	// Logger for structured logging (nil = no logging)
	// Default: no logging
	Logger Logger

	// MetricsCollector for collecting queue metrics (nil = no metrics)
	// Default: no metrics
	MetricsCollector MetricsCollector
}

// MetricsCollector defines the interface for recording queue metrics.
type MetricsCollector = queue.MetricsCollector

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, fields ...LogField)
}

// LogField represents a structured log field.
type LogField struct {
	Key   string
	Value any
}

// MetricsSnapshot is a point-in-time view of queue metrics.
type MetricsSnapshot = metrics.Snapshot

// NewMetricsCollector creates a new metrics collector for a queue.
// The queue name is attached to every series as the "queue" label; the
// collector implements prometheus.Collector.
func NewMetricsCollector(queueName string) *metrics.Collector {
	return metrics.NewCollector(queueName)
}

// GetMetricsSnapshot returns a snapshot of current metrics from a collector.
func GetMetricsSnapshot(collector MetricsCollector) *MetricsSnapshot {
	if c, ok := collector.(*metrics.Collector); ok {
		return c.GetSnapshot()
	}
	return nil
}

// DefaultOptions returns sensible defaults for queue configuration.
func DefaultOptions() *Options {
	return &Options{
		Suffix:           queue.DefaultSuffix,
		Sync:             false,
		MinFreeDiskSpace: 0,   // No disk space check
		Logger:           nil, // No logging
		MetricsCollector: nil, // No metrics
	}
}

// Open opens or creates a queue at the specified directory.
// If opts is nil, default options are used.
func Open(dir string, opts *Options) (*Queue, error) {
	q, err := queue.Open(dir, convertOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Queue{q: q}, nil
}

// OpenPipeline opens one queue per directory and chains them in order, so
// committing in dirs[i] publishes into dirs[i+1]. The last queue's commits
// delete items. opts applies to every stage; its Next is ignored.
func OpenPipeline(dirs []string, opts *Options) ([]*Queue, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: pipeline needs at least one directory", ErrInvalidOptions)
	}

	stages := make([]*Queue, len(dirs))
	var next *Queue
	for i := len(dirs) - 1; i >= 0; i-- {
		o := DefaultOptions()
		if opts != nil {
			copied := *opts
			o = &copied
		}
		o.Next = next

		q, err := Open(dirs[i], o)
		if err != nil {
			return nil, fmt.Errorf("failed to open pipeline stage %d: %w", i, err)
		}
		stages[i] = q
		next = q
	}
	return stages, nil
}

// GenerateID returns a new item ID for the given device, inode and suffix.
func GenerateID(dev, ino uint64, suffix string) string {
	return queue.GenerateID(dev, ino, suffix)
}

// Enqueue publishes payload and returns the new item's ID.
func (q *Queue) Enqueue(payload []byte) (string, error) {
	return q.q.Enqueue(payload)
}

// EnqueueFile adopts an existing file as an item named after its base name.
func (q *Queue) EnqueueFile(path string) (string, error) {
	return q.q.EnqueueFile(path)
}

// Next claims an item and reads its payload. Returns ErrEmpty when there is
// nothing to claim.
func (q *Queue) Next() (*Item, error) {
	return q.q.Next()
}

// NextFile claims an item without reading it.
func (q *Queue) NextFile() (*Item, error) {
	return q.q.NextFile()
}

// Commit completes a claimed item, publishing it into the next queue when
// one is configured.
func (q *Queue) Commit(id string) error {
	return q.q.Commit(id)
}

// Cancel deletes a claimed item.
func (q *Queue) Cancel(id string) error {
	return q.q.Cancel(id)
}

// Banish moves a claimed item into errors/ with optional metadata.
func (q *Queue) Banish(id string, meta Metadata) (*Placement, error) {
	return q.q.Banish(id, meta)
}

// Update rewrites a claimed item's payload.
func (q *Queue) Update(id string, payload []byte) error {
	return q.q.Update(id, payload)
}

// Reload reads a claimed item's current payload.
func (q *Queue) Reload(id string) ([]byte, error) {
	return q.q.Reload(id)
}

// Requeue returns a claimed item to incoming/.
func (q *Queue) Requeue(id string) error {
	return q.q.Requeue(id)
}

// Dispatch moves a claimed item into dir with optional metadata.
func (q *Queue) Dispatch(id, dir string, meta Metadata) (*Placement, error) {
	return q.q.Dispatch(id, dir, meta)
}

// Duplicate copies a claimed item into dir, leaving it claimed.
func (q *Queue) Duplicate(id, dir string, meta Metadata) (*Placement, error) {
	return q.q.Duplicate(id, dir, meta)
}

// CountIncoming returns the number of items waiting to be claimed.
func (q *Queue) CountIncoming() (int, error) {
	return q.q.CountIncoming()
}

// CountPending returns the number of claimed items.
func (q *Queue) CountPending() (int, error) {
	return q.q.CountPending()
}

// CountErrors returns the number of banished items.
func (q *Queue) CountErrors() (int, error) {
	return q.q.CountErrors()
}

// CountDone returns the number of committed items waiting in the next queue.
func (q *Queue) CountDone() (int, error) {
	return q.q.CountDone()
}

// IsIncoming reports whether id is waiting to be claimed.
func (q *Queue) IsIncoming(id string) bool {
	return q.q.IsIncoming(id)
}

// IsPending reports whether id is claimed.
func (q *Queue) IsPending(id string) bool {
	return q.q.IsPending(id)
}

// IsError reports whether id was banished.
func (q *Queue) IsError(id string) bool {
	return q.q.IsError(id)
}

// List returns the sorted IDs in a state directory.
func (q *Queue) List(s State) ([]string, error) {
	return q.q.List(s)
}

// ReadMetadata returns a banished item's sidecar, or nil.
func (q *Queue) ReadMetadata(id string) (Metadata, error) {
	return q.q.ReadMetadata(id)
}

// Statistics returns this Queue value's counters.
func (q *Queue) Statistics() Statistics {
	return q.q.Statistics()
}

// RefreshMetrics copies directory counts into the metrics gauges.
func (q *Queue) RefreshMetrics() error {
	return q.q.RefreshMetrics()
}

// Root returns the absolute queue root.
func (q *Queue) Root() string {
	return q.q.Root()
}

// Dir returns the absolute path of a state directory.
func (q *Queue) Dir(s State) string {
	return q.q.Dir(s)
}

// Handler processes one claimed item. Return nil to commit, ErrDrop to
// cancel, a *Reroute to dispatch, or any other error to banish.
type Handler func(ctx context.Context, item *Item) error

// Reroute returned by a Handler dispatches the item into Dir.
type Reroute = consumer.Reroute

// ConsumeOptions configures Consume.
type ConsumeOptions struct {
	// Workers is the number of concurrent claim loops
	// Default: 1
	Workers int

	// PollInterval is the rescan period when no filesystem event arrives
	// Default: 1 second
	PollInterval time.Duration

	// MaxAttempts is how often a failing item is handled before banishing
	// Default: 1
	MaxAttempts int

	// RetryDelay is the base delay before a failed item is requeued. It
	// doubles with every attempt.
	// Default: PollInterval
	RetryDelay time.Duration

	// PathOnly claims items without reading them; handlers open Item.Path
	// Default: false
	PathOnly bool
}

// Consume runs handler against the queue until ctx is cancelled. It
// returns ctx.Err() on cancellation, or the first failed transition.
func (q *Queue) Consume(ctx context.Context, handler Handler, opts *ConsumeOptions) error {
	if opts == nil {
		opts = &ConsumeOptions{}
	}

	copts := []consumer.Option{
		consumer.WithWorkers(opts.Workers),
		consumer.WithPollInterval(opts.PollInterval),
		consumer.WithMaxAttempts(opts.MaxAttempts),
		consumer.WithRetryDelay(opts.RetryDelay),
	}
	if opts.PathOnly {
		copts = append(copts, consumer.WithPathOnly())
	}

	c, err := consumer.New(q.q, consumer.Handler(handler), copts...)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

// SweepResult reports what Sweep removed and requeued.
type SweepResult = sweep.Result

// SweepPolicy controls what Sweep touches.
type SweepPolicy = sweep.Policy

// Sweep removes stale tmp/ files and, when the policy asks for it,
// requeues items left in pending/ by crashed consumers.
func (q *Queue) Sweep(p SweepPolicy) (*SweepResult, error) {
	return sweep.Sweep(q.q, p)
}

// Helper functions to convert between public and internal types

func convertOptions(opts *Options) *queue.Options {
	qopts := queue.DefaultOptions()
	if opts == nil {
		return qopts
	}

	if opts.Next != nil {
		qopts.Next = opts.Next.q
	}
	if opts.Suffix != "" {
		qopts.Suffix = opts.Suffix
	}
	qopts.Sync = opts.Sync
	qopts.MinFreeDiskSpace = opts.MinFreeDiskSpace
	qopts.Logger = convertLogger(opts.Logger)
	if opts.MetricsCollector != nil {
		qopts.MetricsCollector = opts.MetricsCollector
	}

	return qopts
}

func convertLogger(l Logger) logging.Logger {
	if l == nil {
		return logging.NoopLogger{}
	}
	return &loggerAdapter{l: l}
}

// loggerAdapter adapts public Logger to internal logging.Logger
type loggerAdapter struct {
	l Logger
}

func (a *loggerAdapter) Debug(msg string, fields ...logging.Field) {
	a.l.Debug(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Info(msg string, fields ...logging.Field) {
	a.l.Info(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Warn(msg string, fields ...logging.Field) {
	a.l.Warn(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Error(msg string, fields ...logging.Field) {
	a.l.Error(msg, convertFields(fields)...)
}

func convertFields(fields []logging.Field) []LogField {
	result := make([]LogField, len(fields))
	for i, f := range fields {
		result[i] = LogField{Key: f.Key, Value: f.Value}
	}
	return result
}
