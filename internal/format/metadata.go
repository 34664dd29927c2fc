// Package format provides on-disk encodings shared by dirq components.
//
// The only document dirq writes besides item payloads is the metadata
// sidecar: a small JSON object stored next to an item as "<id>.meta"
// after the item is banished, dispatched or duplicated. Sidecars are
// optional; readers treat a missing sidecar as "no metadata".
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// SidecarExtension is appended to an item ID to name its metadata sidecar.
const SidecarExtension = ".meta"

// Metadata is an arbitrary key/value document attached to an item.
type Metadata map[string]any

// SidecarName returns the sidecar file name for an item ID.
func SidecarName(id string) string {
	return id + SidecarExtension
}

// IsSidecarName reports whether name is a sidecar rather than an item.
func IsSidecarName(name string) bool {
	return strings.HasSuffix(name, SidecarExtension)
}

// IsHiddenName reports whether name is a staging or scratch file that
// must never be treated as an item.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Marshal encodes the metadata to JSON with indentation for readability.
func (m Metadata) Marshal() ([]byte, error) {
	if m == nil {
		m = Metadata{}
	}
	return json.MarshalIndent(m, "", "  ")
}

// UnmarshalMetadata decodes metadata from JSON.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	meta := Metadata{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// WriteSidecar atomically writes meta to path.
//
// Process:
//  1. Marshal metadata to JSON
//  2. Write to a hidden temporary file in the same directory
//  3. Fsync the temporary file
//  4. Atomically replace path with it
//
// The temporary name starts with a dot so directory scanners never pick it
// up as an item.
func WriteSidecar(path string, meta Metadata, perm fs.FileMode) error {
	data, err := meta.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dir, base := filepath.Split(path)
	f, err := os.CreateTemp(dir, "."+base+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary metadata file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod metadata file: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync metadata file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}

	if err := atomic.ReplaceFile(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}

	return nil
}

// ReadSidecar reads metadata from path. A missing sidecar is not an error:
// it returns nil, nil.
func ReadSidecar(path string) (Metadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is derived from the queue root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	return UnmarshalMetadata(data)
}

// WriteTo writes metadata to the given writer (implements io.WriterTo).
func (m Metadata) WriteTo(w io.Writer) (int64, error) {
	data, err := m.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}
