package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/types"
)

type ingestKind uint8

const (
	ingestOp ingestKind = iota
	ingestCommit
	ingestSnapshottingStarted
	ingestSnapshottingDone
)

type ingestMessage struct {
	kind ingestKind

	seq  uint64
	op   types.Operation
	port types.PortHandle

	token      *types.OpIdentifier
	connection string
}

// sourceForwarder is the dag.SourceForwarder handed to a connector. It
// decouples the connector goroutine from the node loop through a bounded
// channel so epoch rendezvous never blocks ingestion longer than the
// buffer allows.
type sourceForwarder struct {
	ctx     context.Context
	ingest  chan<- ingestMessage
	schemas map[types.PortHandle]types.Schema
}

func (f *sourceForwarder) push(msg ingestMessage) error {
	select {
	case f.ingest <- msg:
		return nil
	case <-f.ctx.Done():
		return f.ctx.Err()
	}
}

func (f *sourceForwarder) Send(seq uint64, op types.Operation, port types.PortHandle) error {
	if _, ok := f.schemas[port]; !ok {
		return fmt.Errorf("%w: %d", dag.ErrInvalidPortHandle, port)
	}
	return f.push(ingestMessage{kind: ingestOp, seq: seq, op: op, port: port})
}

func (f *sourceForwarder) UpdateSchema(schema types.Schema, port types.PortHandle) error {
	negotiated, ok := f.schemas[port]
	if !ok {
		return fmt.Errorf("%w: %d", dag.ErrInvalidPortHandle, port)
	}
	if !negotiated.Equal(schema) {
		return fmt.Errorf("%w on port %d", dag.ErrSchemaMismatch, port)
	}
	return nil
}

func (f *sourceForwarder) Commit(token *types.OpIdentifier) error {
	return f.push(ingestMessage{kind: ingestCommit, token: token})
}

func (f *sourceForwarder) SnapshottingStarted(connection string) error {
	return f.push(ingestMessage{kind: ingestSnapshottingStarted, connection: connection})
}

func (f *sourceForwarder) SnapshottingDone(connection string, token *types.OpIdentifier) error {
	return f.push(ingestMessage{kind: ingestSnapshottingDone, connection: connection, token: token})
}

// sourceNode runs one source. The connector produces into the ingest
// channel from its own goroutine; the node loop drains it, forwards
// downstream and joins the epoch barrier whenever the op threshold, the
// commit timeout, a connector-declared boundary or termination asks for
// it.
type sourceNode struct {
	handle         types.NodeHandle
	source         dag.Source
	lastCheckpoint *types.OpIdentifier
	schemas        map[types.PortHandle]types.Schema
	manager        *epoch.Manager
	outputs        map[types.PortHandle][]chan<- message
	channels       *channelManager

	bufferSize    int
	maxOps        int
	commitTimeout time.Duration

	log *slog.Logger
}

// run drives the node until the pipeline terminates. ctx aborts
// everything; sourceCtx is cancelled for a graceful stop, which lets the
// connector return and the pipeline drain to a final committed epoch.
func (n *sourceNode) run(ctx, sourceCtx context.Context) error {
	n.channels = newChannelManager(ctx, n.handle, n.outputs)
	ingest := make(chan ingestMessage, n.bufferSize)
	startErr := make(chan error, 1)
	go func() {
		err := n.source.Start(sourceCtx, &sourceForwarder{ctx: sourceCtx, ingest: ingest, schemas: n.schemas}, n.lastCheckpoint)
		if errors.Is(err, context.Canceled) && sourceCtx.Err() != nil && ctx.Err() == nil {
			// Graceful stop, not a connector failure.
			err = nil
		}
		startErr <- err
		close(ingest)
	}()

	n.log.Debug("source started", "node", n.handle, "resume", n.lastCheckpoint)

	timer := time.NewTimer(n.commitTimeout)
	defer timer.Stop()

	numOps := 0
	var token *types.OpIdentifier

	for {
		select {
		case msg, ok := <-ingest:
			if !ok {
				if err := <-startErr; err != nil {
					return fmt.Errorf("source %s: %w", n.handle, err)
				}
				return n.terminate(ctx, numOps > 0, token)
			}
			switch msg.kind {
			case ingestOp:
				if err := n.channels.sendOp(msg.op, msg.port); err != nil {
					return err
				}
				numOps++
				if numOps >= n.maxOps {
					terminated, err := n.closeEpoch(ctx, false, true, token)
					if err != nil || terminated {
						return err
					}
					numOps = 0
					resetTimer(timer, n.commitTimeout)
				}
			case ingestCommit:
				token = msg.token
				terminated, err := n.closeEpoch(ctx, false, true, token)
				if err != nil || terminated {
					return err
				}
				numOps = 0
				resetTimer(timer, n.commitTimeout)
			case ingestSnapshottingStarted:
				if err := n.channels.sendSnapshottingStarted(msg.connection); err != nil {
					return err
				}
			case ingestSnapshottingDone:
				if err := n.channels.sendSnapshottingDone(msg.connection, msg.token); err != nil {
					return err
				}
			}

		case <-timer.C:
			// Quiet sources still join the barrier so the other
			// sources' epochs can close.
			terminated, err := n.closeEpoch(ctx, false, numOps > 0, token)
			if err != nil || terminated {
				return err
			}
			numOps = 0
			resetTimer(timer, n.commitTimeout)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// terminate keeps joining epoch barriers with a termination request
// until every source agrees.
func (n *sourceNode) terminate(ctx context.Context, requestCommit bool, token *types.OpIdentifier) error {
	for {
		terminated, err := n.closeEpoch(ctx, true, requestCommit, token)
		if err != nil {
			return err
		}
		if terminated {
			n.log.Debug("source terminated", "node", n.handle)
			return nil
		}
		requestCommit = false
	}
}

// closeEpoch joins the barrier and forwards the outcome: a commit marker
// when the epoch committed, terminate markers when the pipeline ends.
func (n *sourceNode) closeEpoch(ctx context.Context, requestTermination, requestCommit bool, token *types.OpIdentifier) (bool, error) {
	ce, err := n.manager.WaitForEpochClose(ctx, n.handle, token, requestTermination, requestCommit)
	if err != nil {
		return false, err
	}
	if ce.Epoch != nil {
		if err := n.channels.sendCommit(ce.Epoch); err != nil {
			return false, err
		}
	}
	if ce.ShouldTerminate {
		return true, n.channels.sendTerminate()
	}
	return false, nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
