// Package execution is the runtime of a validated dataflow graph: one
// goroutine per node, one bounded channel per edge, epoch commit markers
// interleaved with data on the same channels so per-edge ordering is
// total.
package execution

import (
	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/types"
)

type messageKind uint8

const (
	kindOp messageKind = iota
	kindCommit
	kindTerminate
	kindSnapshottingStarted
	kindSnapshottingDone
)

func (k messageKind) String() string {
	switch k {
	case kindOp:
		return "op"
	case kindCommit:
		return "commit"
	case kindTerminate:
		return "terminate"
	case kindSnapshottingStarted:
		return "snapshotting_started"
	case kindSnapshottingDone:
		return "snapshotting_done"
	default:
		return "unknown"
	}
}

// message is the tagged union travelling on edge channels. Only the
// fields of the active kind are meaningful.
type message struct {
	kind messageKind

	op         types.Operation     // kindOp
	epoch      *epoch.Epoch        // kindCommit
	connection string              // kindSnapshottingStarted, kindSnapshottingDone
	token      *types.OpIdentifier // kindSnapshottingDone
}

func opMessage(op types.Operation) message {
	return message{kind: kindOp, op: op}
}

func commitMessage(e *epoch.Epoch) message {
	return message{kind: kindCommit, epoch: e}
}

func terminateMessage() message {
	return message{kind: kindTerminate}
}

func snapshottingStartedMessage(connection string) message {
	return message{kind: kindSnapshottingStarted, connection: connection}
}

func snapshottingDoneMessage(connection string, token *types.OpIdentifier) message {
	return message{kind: kindSnapshottingDone, connection: connection, token: token}
}
