package execution

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/errmgr"
	"github.com/weirflow/weir/types"
)

// forwardPanic carries a failed downstream send out of a processor's
// Process call. The forwarder API has no error return, so the failure
// travels as a panic and is converted back into an error at the node
// boundary.
type forwardPanic struct{ err error }

type processorForwarder struct {
	channels *channelManager
}

func (f processorForwarder) Send(op types.Operation, port types.PortHandle) {
	if err := f.channels.sendOp(op, port); err != nil {
		panic(forwardPanic{err})
	}
}

// processorNode runs one processor instance inside a receiver loop.
type processorNode struct {
	handle    types.NodeHandle
	processor dag.Processor
	inputs    []<-chan message
	ports     []types.PortHandle
	outputs   map[types.PortHandle][]chan<- message
	channels  *channelManager
	errors    *errmgr.Manager
	log       *slog.Logger
}

func (n *processorNode) run(ctx context.Context) error {
	n.channels = newChannelManager(ctx, n.handle, n.outputs)
	n.log.Debug("processor started", "node", n.handle)
	return runReceiverLoop(ctx, n.handle, n.inputs, n.ports, n)
}

func (n *processorNode) onOp(port types.PortHandle, op types.Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fp, ok := r.(forwardPanic)
			if !ok {
				panic(r)
			}
			err = fp.err
		}
	}()
	if perr := n.processor.Process(port, op, processorForwarder{n.channels}); perr != nil {
		n.errors.Report(fmt.Errorf("node %s: %w", n.handle, perr))
	}
	return nil
}

func (n *processorNode) onCommit(e *epoch.Epoch) error {
	if err := n.processor.Commit(e); err != nil {
		return fmt.Errorf("node %s: failed to commit epoch %d: %w", n.handle, e.ID, err)
	}
	if e.Writer != nil {
		var buf bytes.Buffer
		if err := n.processor.Serialize(&buf); err != nil {
			return fmt.Errorf("node %s: failed to serialize state: %w", n.handle, err)
		}
		if err := e.Writer.WriteState(n.handle, buf.Bytes()); err != nil {
			return err
		}
		if err := e.Writer.Confirm(); err != nil {
			return err
		}
	}
	return n.channels.sendCommit(e)
}

func (n *processorNode) onTerminate() error {
	n.log.Debug("processor terminating", "node", n.handle)
	return n.channels.sendTerminate()
}

func (n *processorNode) onSnapshottingStarted(connection string) error {
	return n.channels.sendSnapshottingStarted(connection)
}

func (n *processorNode) onSnapshottingDone(connection string, token *types.OpIdentifier) error {
	return n.channels.sendSnapshottingDone(connection, token)
}
