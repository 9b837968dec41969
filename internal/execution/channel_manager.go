package execution

import (
	"context"
	"fmt"

	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/types"
)

// channelManager owns the outgoing edge channels of one node, grouped by
// output port. Sends block when a downstream buffer is full; that is the
// engine's backpressure. Cancelling ctx unblocks every send.
type channelManager struct {
	ctx      context.Context
	handle   types.NodeHandle
	channels map[types.PortHandle][]chan<- message
}

func newChannelManager(ctx context.Context, handle types.NodeHandle, channels map[types.PortHandle][]chan<- message) *channelManager {
	return &channelManager{ctx: ctx, handle: handle, channels: channels}
}

func (m *channelManager) send(ch chan<- message, msg message) error {
	select {
	case ch <- msg:
		return nil
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

// sendOp forwards one operation on a single output port.
func (m *channelManager) sendOp(op types.Operation, port types.PortHandle) error {
	channels, ok := m.channels[port]
	if !ok {
		return fmt.Errorf("node %s: %w: %d", m.handle, dag.ErrInvalidPortHandle, port)
	}
	msg := opMessage(op)
	for _, ch := range channels {
		if err := m.send(ch, msg); err != nil {
			return err
		}
	}
	return nil
}

// sendToAll broadcasts a control message on every outgoing edge.
func (m *channelManager) sendToAll(msg message) error {
	for _, channels := range m.channels {
		for _, ch := range channels {
			if err := m.send(ch, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *channelManager) sendCommit(e *epoch.Epoch) error {
	return m.sendToAll(commitMessage(e))
}

func (m *channelManager) sendTerminate() error {
	return m.sendToAll(terminateMessage())
}

func (m *channelManager) sendSnapshottingStarted(connection string) error {
	return m.sendToAll(snapshottingStartedMessage(connection))
}

func (m *channelManager) sendSnapshottingDone(connection string, token *types.OpIdentifier) error {
	return m.sendToAll(snapshottingDoneMessage(connection, token))
}
