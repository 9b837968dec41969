// Package epoch coordinates commit boundaries across all sources of a
// running pipeline. Sources rendezvous at an epoch barrier; the manager
// decides, once per rendezvous, whether the epoch commits, whether it is
// persisted to a checkpoint, and whether the pipeline terminates.
package epoch

import (
	"time"

	"github.com/weirflow/weir/checkpoint"
	"github.com/weirflow/weir/types"
)

// Epoch identifies one committed consistency boundary. Ids are strictly
// increasing over the lifetime of a pipeline, checkpoint restarts
// included.
type Epoch struct {
	// ID of the epoch, starting at 1 for a fresh pipeline.
	ID uint64
	// SourceStates holds the resume token each source reported when
	// the epoch closed.
	SourceStates types.SourceStates
	// Writer is non-nil when the epoch is persisted; every processor
	// and sink confirms it after committing.
	Writer *checkpoint.Writer
	// DecisionInstant is when the manager closed the epoch.
	DecisionInstant time.Time
}

// ClosedEpoch is the outcome of one barrier rendezvous, delivered to
// every source.
type ClosedEpoch struct {
	// ShouldTerminate is set when every source requested termination.
	ShouldTerminate bool
	// Epoch is non-nil when the epoch commits and must be forwarded
	// downstream.
	Epoch *Epoch
	// DecisionInstant is when the manager closed the epoch.
	DecisionInstant time.Time
}
