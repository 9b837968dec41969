package weir

import (
	"log/slog"
	"time"
)

// Option is a function that configures a DagExecutor.
type Option func(*DagExecutor)

// WithLog sets the logger for the executor.
var WithLog = func(log *slog.Logger) Option {
	return func(e *DagExecutor) {
		e.log = log
	}
}

// WithChannelBufferSize sets the capacity of every edge channel.
var WithChannelBufferSize = func(n int) Option {
	return func(e *DagExecutor) {
		e.opts.ChannelBufferSize = n
	}
}

// WithMaxOpsBeforeCommit sets how many operations a source forwards
// before it closes an epoch.
var WithMaxOpsBeforeCommit = func(n int) Option {
	return func(e *DagExecutor) {
		e.opts.MaxOpsBeforeCommit = n
	}
}

// WithCommitTimeout sets how long a source waits before closing an epoch
// when the op threshold is not reached.
var WithCommitTimeout = func(d time.Duration) Option {
	return func(e *DagExecutor) {
		e.opts.CommitTimeout = d
	}
}

// WithMaxRecordsBeforePersist sets how many new interned records trigger
// a checkpoint at the next committed epoch.
var WithMaxRecordsBeforePersist = func(n uint64) Option {
	return func(e *DagExecutor) {
		e.opts.MaxRecordsBeforePersist = n
	}
}

// WithMaxPersistInterval sets how much time triggers a checkpoint at the
// next committed epoch.
var WithMaxPersistInterval = func(d time.Duration) Option {
	return func(e *DagExecutor) {
		e.opts.MaxIntervalBeforePersist = d
	}
}

// WithErrorThreshold sets the number of per-record errors tolerated
// before the pipeline aborts. 0 tolerates any number.
var WithErrorThreshold = func(n uint64) Option {
	return func(e *DagExecutor) {
		e.opts.ErrorThreshold = n
	}
}

// WithCheckpointDir enables checkpointing under the given directory. A
// pipeline started with an existing checkpoint resumes from its last
// committed epoch.
var WithCheckpointDir = func(dir string) Option {
	return func(e *DagExecutor) {
		e.checkpointDir = dir
	}
}

// NullWriter discards everything written to it.
type NullWriter struct{}

func (NullWriter) Write([]byte) (int, error) { return 0, nil }

// NullLogger creates a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(NullWriter{}, nil))
}
