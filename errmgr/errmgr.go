// Package errmgr turns per-record processing errors into a pipeline
// abort once they exceed a configured threshold.
package errmgr

import (
	"log/slog"
	"sync/atomic"
)

// Manager counts non-fatal record errors across all nodes of a pipeline.
// Up to threshold errors are logged and tolerated; the next Report
// triggers the abort callback exactly once.
type Manager struct {
	threshold uint64
	count     atomic.Uint64
	aborted   atomic.Bool
	abort     func(err error)
	log       *slog.Logger
}

// New creates a manager. threshold is the number of errors tolerated
// before aborting; 0 means errors are logged but never abort the
// pipeline.
func New(threshold uint64, abort func(err error), log *slog.Logger) *Manager {
	return &Manager{threshold: threshold, abort: abort, log: log}
}

// Report records one failed record. The error is logged; once the count
// exceeds the threshold, the pipeline is aborted with it.
func (m *Manager) Report(err error) {
	count := m.count.Add(1)
	m.log.Error("record processing failed", "error", err, "count", count)
	if m.threshold == 0 || count <= m.threshold {
		return
	}
	if m.aborted.CompareAndSwap(false, true) {
		m.log.Error("error threshold exceeded, aborting pipeline", "threshold", m.threshold)
		m.abort(err)
	}
}

// Count returns the number of errors reported so far.
func (m *Manager) Count() uint64 {
	return m.count.Load()
}
