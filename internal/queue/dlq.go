// Package queue provides error queue operations.
// This file contains banishing items into errors/ and reading their metadata.
package queue

import (
	"path/filepath"

	"github.com/vnykmshr/dirq/internal/format"
	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/metrics"
)

// Banish moves a claimed item into errors/ and, when meta is non-nil,
// writes errors/<id>.meta next to it. The item move is authoritative: a
// sidecar failure is reported in Placement.MetaErr, not as an error.
func (q *Queue) Banish(id string, meta Metadata) (*Placement, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	dst := filepath.Join(q.errors, id)
	if err := rename(filepath.Join(q.pending, id), dst); err != nil {
		q.opts.MetricsCollector.RecordTransitionError(metrics.OpBanish)
		return nil, q.notFound("banish", id, err)
	}

	p := &Placement{Path: dst}
	q.attachMetadata(p, meta)

	q.stats.errors.Add(1)
	q.opts.MetricsCollector.RecordTransition(metrics.OpBanish)

	q.opts.Logger.Info("item banished",
		logging.F("id", id),
		logging.F("reason", meta["reason"]),
	)

	return p, nil
}

// attachMetadata writes the sidecar for a placed item. Failures are logged
// and recorded in p.MetaErr.
func (q *Queue) attachMetadata(p *Placement, meta Metadata) {
	if meta == nil {
		return
	}

	path := format.SidecarName(p.Path)
	if err := format.WriteSidecar(path, meta, q.opts.FileMode); err != nil {
		p.MetaErr = err
		q.opts.Logger.Warn("failed to write metadata sidecar",
			logging.F("path", path),
			logging.F("error", err.Error()),
		)
		return
	}
	p.MetaPath = path
}

// ReadMetadata returns the sidecar of a banished item. It returns nil, nil
// when the item has no sidecar.
func (q *Queue) ReadMetadata(id string) (Metadata, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return format.ReadSidecar(filepath.Join(q.errors, format.SidecarName(id)))
}
