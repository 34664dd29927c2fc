package queue

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors returned by queue operations. Callers match them with
// errors.Is; I/O failures are wrapped and keep their underlying cause.
var (
	// ErrSetup is returned by Open when the root or one of its
	// subdirectories cannot be created or is not writable.
	ErrSetup = errors.New("queue setup failed")

	// ErrEmpty is returned by Next and NextFile when incoming/ holds no
	// claimable item. It is a normal result, not a failure.
	ErrEmpty = errors.New("queue is empty")

	// ErrNotFound is returned when an item is not in the state an
	// operation expects. It matches fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("item not found: %w", fs.ErrNotExist)

	// ErrInvalidID is returned for IDs that cannot name an item.
	ErrInvalidID = errors.New("invalid item id")

	// ErrExists is returned by EnqueueFile when incoming/ already holds
	// an item with the same name. It matches fs.ErrExist.
	ErrExists = fmt.Errorf("item already exists: %w", fs.ErrExist)

	// ErrInsufficientSpace is returned by Enqueue when free space on the
	// queue volume is below Options.MinFreeDiskSpace.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrInvalidOptions is returned by Options.Validate and by List for a
	// state that holds no items.
	ErrInvalidOptions = errors.New("invalid queue options")
)
