// Package queue provides a persistent, directory-backed queue.
//
// A queue is a root directory with four subdirectories. The directory an
// item sits in is its state:
//   - incoming/ holds published items waiting to be claimed
//   - pending/ holds items claimed by a consumer
//   - errors/ holds banished items and their metadata sidecars
//   - tmp/ holds payloads being written before they are published
//
// Every transition is an exclusive create or a rename, so any number of
// processes can share one root without locks. Claims are exclusive: a
// rename from incoming/ to pending/ succeeds for exactly one consumer.
//
// Basic usage:
//
//	q, err := queue.Open("/var/spool/ingest", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := q.Enqueue([]byte("hello"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	item, err := q.Next()
//	if errors.Is(err, queue.ErrEmpty) {
//	    return
//	}
//	// process item.Payload
//	err = q.Commit(item.ID)
//
// There is no ordering between items. Next never blocks; polling belongs
// to the caller.
package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vnykmshr/dirq/internal/format"
	"github.com/vnykmshr/dirq/internal/logging"
)

// State names a queue subdirectory.
type State string

const (
	StateIncoming State = "incoming"
	StatePending  State = "pending"
	StateErrors   State = "errors"
	StateTmp      State = "tmp"
)

// States lists every subdirectory in creation order.
var States = []State{StateIncoming, StatePending, StateErrors, StateTmp}

// Metadata is the key/value document stored in an item's sidecar.
type Metadata = format.Metadata

// Item is a claimed queue item.
type Item struct {
	// ID is the item's file name, unique across every queue.
	ID string

	// Path is the item's location in pending/.
	Path string

	// Payload is the item content. NextFile leaves it nil.
	Payload []byte
}

// Placement describes where Banish, Dispatch or Duplicate put an item.
type Placement struct {
	// Path is the item's new location.
	Path string

	// MetaPath is the sidecar location, empty when no sidecar was written.
	MetaPath string

	// MetaErr is the sidecar write failure, if any. The item itself was
	// still moved.
	MetaErr error
}

// Queue is a directory-backed queue rooted at one directory.
type Queue struct {
	opts Options

	root     string
	incoming string
	pending  string
	errors   string
	tmp      string

	// next receives items on Commit
	next *Queue

	stats stats

	// mu guards the cached incoming/ listing
	mu    sync.Mutex
	cache []string
}

// Open opens or creates a queue at the specified directory.
// Creates the root and its subdirectories if they don't exist. Open is
// idempotent and safe to run concurrently from several processes.
func Open(dir string, opts *Options) (*Queue, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	if err := opts.Validate(dir); err != nil {
		return nil, err
	}

	root, err := validatePath(dir, "queue directory")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	o := opts.withDefaults()
	q := &Queue{
		opts:     o,
		root:     root,
		incoming: filepath.Join(root, string(StateIncoming)),
		pending:  filepath.Join(root, string(StatePending)),
		errors:   filepath.Join(root, string(StateErrors)),
		tmp:      filepath.Join(root, string(StateTmp)),
		next:     o.Next,
	}

	if err := bootstrap(root, o.DirMode); err != nil {
		return nil, err
	}

	if q.next != nil {
		if err := bootstrap(q.next.root, q.next.opts.DirMode); err != nil {
			return nil, fmt.Errorf("failed to set up next queue: %w", err)
		}
	}

	q.opts.Logger.Debug("queue opened",
		logging.F("root", root),
		logging.F("chained", q.next != nil),
	)

	return q, nil
}

// bootstrap creates root and its state directories and verifies they are
// usable. Directories created concurrently by another process are fine.
func bootstrap(root string, mode os.FileMode) error {
	dirs := []string{root}
	for _, s := range States {
		dirs = append(dirs, filepath.Join(root, string(s)))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, mode); err != nil {
			return fmt.Errorf("%w: failed to create %s: %w", ErrSetup, dir, err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%w: failed to stat %s: %w", ErrSetup, dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrSetup, dir)
		}

		if err := checkWritable(dir); err != nil {
			return fmt.Errorf("%w: %s is not writable: %w", ErrSetup, dir, err)
		}
	}

	return touchTmp(filepath.Join(root, string(StateTmp)))
}

// touchTmp proves tmp/ accepts exclusive creates by making and removing a
// hidden file.
func touchTmp(tmp string) error {
	name := filepath.Join(tmp, "."+GenerateID(0, 0, "check"))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: Path is derived from the queue root
	if err != nil {
		return fmt.Errorf("%w: failed to create check file in %s: %w", ErrSetup, tmp, err)
	}
	_ = f.Close()

	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: failed to remove check file %s: %w", ErrSetup, name, err)
	}
	return nil
}

// Root returns the absolute queue root.
func (q *Queue) Root() string {
	return q.root
}

// NextQueue returns the queue Commit hands items to, or nil.
func (q *Queue) NextQueue() *Queue {
	return q.next
}

// Dir returns the absolute path of a state directory.
func (q *Queue) Dir(s State) string {
	switch s {
	case StateIncoming:
		return q.incoming
	case StatePending:
		return q.pending
	case StateErrors:
		return q.errors
	case StateTmp:
		return q.tmp
	default:
		return filepath.Join(q.root, string(s))
	}
}

// Logger returns the queue's logger.
func (q *Queue) Logger() logging.Logger {
	return q.opts.Logger
}
