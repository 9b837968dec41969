package execution

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/types"
)

var (
	errChannelDisconnected = errors.New("edge channel closed while node was running")
	errEpochMismatch       = errors.New("input ports delivered different epoch ids")
)

// receiver is the behavior a node plugs into the receiver loop.
type receiver interface {
	onOp(port types.PortHandle, op types.Operation) error
	// onCommit is called once per epoch, after a commit marker arrived
	// on every live input port.
	onCommit(e *epoch.Epoch) error
	// onTerminate is called after every input port terminated. The loop
	// exits afterwards.
	onTerminate() error
	onSnapshottingStarted(connection string) error
	onSnapshottingDone(connection string, token *types.OpIdentifier) error
}

// runReceiverLoop drives one processor or sink goroutine. It selects
// across all input channels; a port that delivered a commit marker is
// held out of the select until every other live port delivered the same
// epoch, so no operation of a later epoch is applied before the commit
// completes. A terminated port is held out permanently.
func runReceiverLoop(ctx context.Context, handle types.NodeHandle, inputs []<-chan message, ports []types.PortHandle, r receiver) error {
	cases := make([]reflect.SelectCase, len(inputs)+1)
	cases[0] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}
	for i, ch := range inputs {
		cases[i+1] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)}
	}

	terminated := make([]bool, len(inputs))
	numTerminated := 0
	var commitEpoch *epoch.Epoch
	commitsPending := 0

	for {
		chosen, recv, ok := reflect.Select(cases)
		if chosen == 0 {
			return ctx.Err()
		}
		i := chosen - 1
		if !ok {
			return fmt.Errorf("node %s port %d: %w", handle, ports[i], errChannelDisconnected)
		}

		msg := recv.Interface().(message)
		switch msg.kind {
		case kindOp:
			if err := r.onOp(ports[i], msg.op); err != nil {
				return err
			}

		case kindCommit:
			if commitEpoch == nil {
				commitEpoch = msg.epoch
			} else if commitEpoch.ID != msg.epoch.ID {
				return fmt.Errorf("node %s: %w: %d and %d", handle, errEpochMismatch, commitEpoch.ID, msg.epoch.ID)
			}
			cases[chosen].Chan = reflect.Value{}
			commitsPending++
			if commitsPending == len(inputs)-numTerminated {
				if err := r.onCommit(commitEpoch); err != nil {
					return err
				}
				for j := range inputs {
					if !terminated[j] {
						cases[j+1].Chan = reflect.ValueOf(inputs[j])
					}
				}
				commitEpoch = nil
				commitsPending = 0
			}

		case kindTerminate:
			cases[chosen].Chan = reflect.Value{}
			terminated[i] = true
			numTerminated++
			if numTerminated == len(inputs) {
				return r.onTerminate()
			}

		case kindSnapshottingStarted:
			if err := r.onSnapshottingStarted(msg.connection); err != nil {
				return err
			}

		case kindSnapshottingDone:
			if err := r.onSnapshottingDone(msg.connection, msg.token); err != nil {
				return err
			}
		}
	}
}
