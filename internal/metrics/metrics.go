// Package metrics provides Prometheus metrics integration for dirq.
//
// A Collector keeps lock-free counters for one queue and implements
// prometheus.Collector, so it can be registered directly:
//
//	import (
//	    "github.com/prometheus/client_golang/prometheus"
//	    "github.com/vnykmshr/dirq/internal/metrics"
//	)
//
//	collector := metrics.NewCollector("ingest")
//	prometheus.MustRegister(collector)
//
//	collector.RecordEnqueue(payloadSize, duration)
//	collector.RecordTransition(metrics.OpCommit)
//
// Counters are per process. Directory counts remain the authoritative view
// of queue state; UpdateQueueState copies them into gauges.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Item transitions recorded by RecordTransition.
const (
	OpCommit    = "commit"
	OpCancel    = "cancel"
	OpBanish    = "banish"
	OpUpdate    = "update"
	OpDispatch  = "dispatch"
	OpDuplicate = "duplicate"
	OpRequeue   = "requeue"
)

// Ops lists every transition label in a stable order.
var Ops = []string{OpCommit, OpCancel, OpBanish, OpUpdate, OpDispatch, OpDuplicate, OpRequeue}

const namespace = "dirq"

type descs struct {
	enqueued         *prometheus.Desc
	enqueuedBytes    *prometheus.Desc
	dequeued         *prometheus.Desc
	dequeuedBytes    *prometheus.Desc
	enqueueErrors    *prometheus.Desc
	dequeueErrors    *prometheus.Desc
	skips            *prometheus.Desc
	scans            *prometheus.Desc
	transitions      *prometheus.Desc
	transitionErrors *prometheus.Desc
	items            *prometheus.Desc
}

func newDescs(labels prometheus.Labels) descs {
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(namespace+"_"+name, help, variable, labels)
	}
	return descs{
		enqueued:         desc("enqueued_total", "Items published into incoming/."),
		enqueuedBytes:    desc("enqueued_bytes_total", "Payload bytes published into incoming/."),
		dequeued:         desc("dequeued_total", "Items claimed into pending/."),
		dequeuedBytes:    desc("dequeued_bytes_total", "Payload bytes read by claims."),
		enqueueErrors:    desc("enqueue_errors_total", "Failed enqueue attempts."),
		dequeueErrors:    desc("dequeue_errors_total", "Failed claim attempts."),
		skips:            desc("claim_skips_total", "Claims lost to another consumer."),
		scans:            desc("scans_total", "Listings of incoming/."),
		transitions:      desc("transitions_total", "Completed item transitions by operation.", "op"),
		transitionErrors: desc("transition_errors_total", "Failed item transitions by operation.", "op"),
		items:            desc("items", "Items per state directory at the last refresh.", "state"),
	}
}

// Collector tracks queue metrics.
// Can be used standalone or registered with Prometheus.
type Collector struct {
	queueName string
	desc      descs

	// Operation counters
	enqueueTotal  atomic.Uint64
	dequeueTotal  atomic.Uint64
	enqueueErrors atomic.Uint64
	dequeueErrors atomic.Uint64
	skips         atomic.Uint64
	scans         atomic.Uint64

	// Payload metrics
	enqueueBytes atomic.Uint64
	dequeueBytes atomic.Uint64

	transitions      map[string]*atomic.Uint64
	transitionErrors map[string]*atomic.Uint64

	// Queue state (updated periodically)
	incomingItems atomic.Uint64
	pendingItems  atomic.Uint64
	errorItems    atomic.Uint64

	enqueueDurations prometheus.Histogram
	dequeueDurations prometheus.Histogram
}

// NewCollector creates a new metrics collector for a queue.
// The name is attached to every series as the "queue" label.
func NewCollector(queueName string) *Collector {
	c := &Collector{
		queueName:        queueName,
		transitions:      make(map[string]*atomic.Uint64, len(Ops)),
		transitionErrors: make(map[string]*atomic.Uint64, len(Ops)),
	}
	for _, op := range Ops {
		c.transitions[op] = new(atomic.Uint64)
		c.transitionErrors[op] = new(atomic.Uint64)
	}

	labels := prometheus.Labels{"queue": queueName}
	c.desc = newDescs(labels)
	c.enqueueDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "enqueue_duration_seconds",
		Help:        "Time to stage and publish one item.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.00001, 10, 7),
	})
	c.dequeueDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "dequeue_duration_seconds",
		Help:        "Time to claim one item, including lost races.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.00001, 10, 7),
	})

	return c
}

// RecordEnqueue records a successful enqueue operation.
func (c *Collector) RecordEnqueue(payloadSize int, duration time.Duration) {
	c.enqueueTotal.Add(1)
	c.enqueueBytes.Add(uint64(payloadSize))
	c.enqueueDurations.Observe(duration.Seconds())
}

// RecordDequeue records a successful claim.
func (c *Collector) RecordDequeue(payloadSize int, duration time.Duration) {
	c.dequeueTotal.Add(1)
	c.dequeueBytes.Add(uint64(payloadSize))
	c.dequeueDurations.Observe(duration.Seconds())
}

// RecordEnqueueError records an enqueue failure.
func (c *Collector) RecordEnqueueError() {
	c.enqueueErrors.Add(1)
}

// RecordDequeueError records a claim failure other than a lost race.
func (c *Collector) RecordDequeueError() {
	c.dequeueErrors.Add(1)
}

// RecordSkip records a claim lost to another consumer.
func (c *Collector) RecordSkip() {
	c.skips.Add(1)
}

// RecordScan records a listing of incoming/.
func (c *Collector) RecordScan() {
	c.scans.Add(1)
}

// RecordTransition records a completed transition. Unknown ops are ignored.
func (c *Collector) RecordTransition(op string) {
	if ctr, ok := c.transitions[op]; ok {
		ctr.Add(1)
	}
}

// RecordTransitionError records a failed transition. Unknown ops are ignored.
func (c *Collector) RecordTransitionError(op string) {
	if ctr, ok := c.transitionErrors[op]; ok {
		ctr.Add(1)
	}
}

// UpdateQueueState updates the per-state gauges (call periodically).
func (c *Collector) UpdateQueueState(incoming, pending, errors uint64) {
	c.incomingItems.Store(incoming)
	c.pendingItems.Store(pending)
	c.errorItems.Store(errors)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc.enqueued
	ch <- c.desc.enqueuedBytes
	ch <- c.desc.dequeued
	ch <- c.desc.dequeuedBytes
	ch <- c.desc.enqueueErrors
	ch <- c.desc.dequeueErrors
	ch <- c.desc.skips
	ch <- c.desc.scans
	ch <- c.desc.transitions
	ch <- c.desc.transitionErrors
	ch <- c.desc.items
	c.enqueueDurations.Describe(ch)
	c.dequeueDurations.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.desc.enqueued, c.enqueueTotal.Load())
	counter(c.desc.enqueuedBytes, c.enqueueBytes.Load())
	counter(c.desc.dequeued, c.dequeueTotal.Load())
	counter(c.desc.dequeuedBytes, c.dequeueBytes.Load())
	counter(c.desc.enqueueErrors, c.enqueueErrors.Load())
	counter(c.desc.dequeueErrors, c.dequeueErrors.Load())
	counter(c.desc.skips, c.skips.Load())
	counter(c.desc.scans, c.scans.Load())

	for _, op := range Ops {
		counter(c.desc.transitions, c.transitions[op].Load(), op)
		counter(c.desc.transitionErrors, c.transitionErrors[op].Load(), op)
	}

	gauge := func(state string, v uint64) {
		ch <- prometheus.MustNewConstMetric(c.desc.items, prometheus.GaugeValue, float64(v), state)
	}
	gauge("incoming", c.incomingItems.Load())
	gauge("pending", c.pendingItems.Load())
	gauge("errors", c.errorItems.Load())

	c.enqueueDurations.Collect(ch)
	c.dequeueDurations.Collect(ch)
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() *Snapshot {
	s := &Snapshot{
		QueueName:        c.queueName,
		EnqueueTotal:     c.enqueueTotal.Load(),
		DequeueTotal:     c.dequeueTotal.Load(),
		EnqueueErrors:    c.enqueueErrors.Load(),
		DequeueErrors:    c.dequeueErrors.Load(),
		Skips:            c.skips.Load(),
		Scans:            c.scans.Load(),
		EnqueueBytes:     c.enqueueBytes.Load(),
		DequeueBytes:     c.dequeueBytes.Load(),
		Transitions:      make(map[string]uint64, len(Ops)),
		TransitionErrors: make(map[string]uint64, len(Ops)),
		IncomingItems:    c.incomingItems.Load(),
		PendingItems:     c.pendingItems.Load(),
		ErrorItems:       c.errorItems.Load(),
	}
	for _, op := range Ops {
		s.Transitions[op] = c.transitions[op].Load()
		s.TransitionErrors[op] = c.transitionErrors[op].Load()
	}
	return s
}

// Snapshot is a point-in-time view of metrics.
type Snapshot struct {
	QueueName string

	// Operation counters
	EnqueueTotal  uint64
	DequeueTotal  uint64
	EnqueueErrors uint64
	DequeueErrors uint64
	Skips         uint64
	Scans         uint64

	// Payload metrics
	EnqueueBytes uint64
	DequeueBytes uint64

	// Per-operation transition counters keyed by Op*
	Transitions      map[string]uint64
	TransitionErrors map[string]uint64

	// Queue state
	IncomingItems uint64
	PendingItems  uint64
	ErrorItems    uint64
}

// NoopCollector is a metrics collector that does nothing.
// Useful when metrics are disabled.
type NoopCollector struct{}

func (NoopCollector) RecordEnqueue(int, time.Duration) {}
func (NoopCollector) RecordDequeue(int, time.Duration) {}
func (NoopCollector) RecordEnqueueError() {}
func (NoopCollector) RecordDequeueError() {}
func (NoopCollector) RecordSkip() {}
func (NoopCollector) RecordScan() {}
func (NoopCollector) RecordTransition(string) {}
func (NoopCollector) RecordTransitionError(string) {}
func (NoopCollector) UpdateQueueState(_, _, _ uint64) {}
