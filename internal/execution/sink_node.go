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

// sinkNode runs one sink instance inside a receiver loop. Sinks have no
// outgoing edges; commit and terminate stop here.
type sinkNode struct {
	handle types.NodeHandle
	sink   dag.Sink
	inputs []<-chan message
	ports  []types.PortHandle
	errors *errmgr.Manager
	log    *slog.Logger
}

func (n *sinkNode) run(ctx context.Context) error {
	n.log.Debug("sink started", "node", n.handle)
	return runReceiverLoop(ctx, n.handle, n.inputs, n.ports, n)
}

func (n *sinkNode) onOp(port types.PortHandle, op types.Operation) error {
	if err := n.sink.Process(port, op); err != nil {
		n.errors.Report(fmt.Errorf("node %s: %w", n.handle, err))
	}
	return nil
}

func (n *sinkNode) onCommit(e *epoch.Epoch) error {
	if err := n.sink.Commit(e); err != nil {
		return fmt.Errorf("node %s: failed to commit epoch %d: %w", n.handle, e.ID, err)
	}
	if e.Writer != nil {
		var buf bytes.Buffer
		if err := n.sink.Serialize(&buf); err != nil {
			return fmt.Errorf("node %s: failed to serialize state: %w", n.handle, err)
		}
		if err := e.Writer.WriteState(n.handle, buf.Bytes()); err != nil {
			return err
		}
		if err := e.Writer.Confirm(); err != nil {
			return err
		}
	}
	return nil
}

func (n *sinkNode) onTerminate() error {
	n.log.Debug("sink terminating", "node", n.handle)
	return nil
}

func (n *sinkNode) onSnapshottingStarted(connection string) error {
	return n.sink.OnSnapshottingStarted(connection)
}

func (n *sinkNode) onSnapshottingDone(connection string, token *types.OpIdentifier) error {
	return n.sink.OnSnapshottingDone(connection, token)
}
