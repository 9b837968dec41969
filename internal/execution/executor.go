package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weirflow/weir/checkpoint"
	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/errmgr"
	"github.com/weirflow/weir/recordstore"
	"github.com/weirflow/weir/types"
)

// Options tune one pipeline run.
type Options struct {
	// ChannelBufferSize is the capacity of every edge and ingest
	// channel.
	ChannelBufferSize int
	// MaxOpsBeforeCommit closes an epoch once a source forwarded this
	// many operations since the last close.
	MaxOpsBeforeCommit int
	// CommitTimeout closes an epoch once this much time passed since
	// the last close, whether or not operations are pending.
	CommitTimeout time.Duration
	// MaxRecordsBeforePersist and MaxIntervalBeforePersist decide which
	// committed epochs are also checkpointed.
	MaxRecordsBeforePersist  uint64
	MaxIntervalBeforePersist time.Duration
	// ErrorThreshold is the number of per-record errors tolerated
	// before the pipeline aborts. 0 never aborts.
	ErrorThreshold uint64
}

// Executor runs a built dataflow graph: one goroutine per node plus one
// ingest goroutine per connector, joined through an errgroup. The first
// node error cancels every other node.
type Executor struct {
	sources    []*sourceNode
	processors []*processorNode
	sinks      []*sinkNode
	threshold  uint64
	log        *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Build wires a validated graph into an executor: a channel per edge,
// an instance per node, an epoch manager shared by all sources. factory
// may be nil to run without checkpointing; otherwise nextEpoch and each
// source's resume token are taken from its last committed epoch.
func Build(d *dag.Dag, schemas *dag.Schemas, store *recordstore.Store, factory *checkpoint.Factory, opts Options, log *slog.Logger) (*Executor, error) {
	edgeChannels := make(map[dag.Edge]chan message, d.EdgeCount())
	for _, e := range d.Edges() {
		edgeChannels[e] = make(chan message, opts.ChannelBufferSize)
	}

	var numProcessors, numSinks int
	for _, handle := range d.Handles() {
		node, _ := d.Node(handle)
		switch node.Kind {
		case dag.KindProcessor:
			numProcessors++
		case dag.KindSink:
			numSinks++
		}
	}

	nextEpoch := uint64(1)
	if factory != nil {
		committed, ok, err := factory.CommittedEpoch()
		if err != nil {
			return nil, err
		}
		if ok {
			nextEpoch = committed + 1
		}
	}
	manager := epoch.NewManager(len(d.Sources()), numProcessors+numSinks, nextEpoch, factory, epoch.Options{
		MaxRecordsBeforePersist:  opts.MaxRecordsBeforePersist,
		MaxIntervalBeforePersist: opts.MaxIntervalBeforePersist,
	}, log)

	ex := &Executor{threshold: opts.ErrorThreshold, log: log, stopCh: make(chan struct{})}

	for _, handle := range d.TopologicalOrder() {
		node, _ := d.Node(handle)
		outputs := outputChannels(d, node, edgeChannels)
		inputs, ports := inputChannels(d, handle, edgeChannels)

		switch node.Kind {
		case dag.KindSource:
			outputSchemas := schemas.OutputSchemas(handle)
			source, err := node.Source.Build(outputSchemas)
			if err != nil {
				return nil, fmt.Errorf("failed to build source %s: %w", handle, err)
			}
			var token *types.OpIdentifier
			if factory != nil {
				token, err = factory.SourceState(handle)
				if err != nil {
					return nil, err
				}
			}
			ex.sources = append(ex.sources, &sourceNode{
				handle:         handle,
				source:         source,
				lastCheckpoint: token,
				schemas:        outputSchemas,
				manager:        manager,
				outputs:        outputs,
				bufferSize:     opts.ChannelBufferSize,
				maxOps:         opts.MaxOpsBeforeCommit,
				commitTimeout:  opts.CommitTimeout,
				log:            log,
			})

		case dag.KindProcessor:
			state, err := nodeState(factory, handle)
			if err != nil {
				return nil, err
			}
			processor, err := node.Processor.Build(schemas.InputSchemas(handle), schemas.OutputSchemas(handle), store, state)
			if err != nil {
				return nil, fmt.Errorf("failed to build processor %s: %w", handle, err)
			}
			ex.processors = append(ex.processors, &processorNode{
				handle:    handle,
				processor: processor,
				inputs:    inputs,
				ports:     ports,
				outputs:   outputs,
				log:       log,
			})

		case dag.KindSink:
			state, err := nodeState(factory, handle)
			if err != nil {
				return nil, err
			}
			sink, err := node.Sink.Build(schemas.InputSchemas(handle), state)
			if err != nil {
				return nil, fmt.Errorf("failed to build sink %s: %w", handle, err)
			}
			ex.sinks = append(ex.sinks, &sinkNode{
				handle: handle,
				sink:   sink,
				inputs: inputs,
				ports:  ports,
				log:    log,
			})
		}
	}

	return ex, nil
}

// Run executes the pipeline until it terminates, is stopped, or a node
// fails. It returns nil on a clean termination.
func (e *Executor) Run(ctx context.Context) error {
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	g, gctx := errgroup.WithContext(runCtx)

	em := errmgr.New(e.threshold, func(err error) { abort(err) }, e.log)
	for _, p := range e.processors {
		p.errors = em
	}
	for _, s := range e.sinks {
		s.errors = em
	}

	// Graceful stop cancels only the connectors; the pipeline drains to
	// a final committed epoch before the node goroutines exit.
	sourceCtx, stopSources := context.WithCancel(gctx)
	defer stopSources()
	go func() {
		select {
		case <-e.stopCh:
			stopSources()
		case <-gctx.Done():
		}
	}()

	for _, s := range e.sinks {
		s := s
		g.Go(func() error { return s.run(gctx) })
	}
	for _, p := range e.processors {
		p := p
		g.Go(func() error { return p.run(gctx) })
	}
	for _, s := range e.sources {
		s := s
		g.Go(func() error { return s.run(gctx, sourceCtx) })
	}

	err := g.Wait()
	if cause := context.Cause(runCtx); cause != nil && ctx.Err() == nil {
		// The error-threshold abort carries the failing record error.
		return cause
	}
	return err
}

// Stop requests a graceful shutdown: connectors stop producing, every
// in-flight operation is processed and a final epoch commits before Run
// returns. Safe to call from any goroutine, any number of times.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// nodeState reads the node's serialized state at the last committed
// epoch. nil when checkpointing is off or nothing was checkpointed.
func nodeState(factory *checkpoint.Factory, handle types.NodeHandle) ([]byte, error) {
	if factory == nil {
		return nil, nil
	}
	state, ok, err := factory.State(handle)
	if err != nil || !ok {
		return nil, err
	}
	return state, nil
}

func outputChannels(d *dag.Dag, node *dag.Node, edgeChannels map[dag.Edge]chan message) map[types.PortHandle][]chan<- message {
	var declared []dag.OutputPortDef
	switch node.Kind {
	case dag.KindSource:
		declared = node.Source.OutputPorts()
	case dag.KindProcessor:
		declared = node.Processor.OutputPorts()
	default:
		return nil
	}
	outputs := make(map[types.PortHandle][]chan<- message, len(declared))
	for _, port := range declared {
		outputs[port.Handle] = nil
	}
	for _, edge := range d.EdgesFrom(node.Handle) {
		outputs[edge.From.Port] = append(outputs[edge.From.Port], edgeChannels[edge])
	}
	return outputs
}

func inputChannels(d *dag.Dag, handle types.NodeHandle, edgeChannels map[dag.Edge]chan message) ([]<-chan message, []types.PortHandle) {
	edges := d.EdgesTo(handle)
	inputs := make([]<-chan message, 0, len(edges))
	ports := make([]types.PortHandle, 0, len(edges))
	for _, edge := range edges {
		inputs = append(inputs, edgeChannels[edge])
		ports = append(ports, edge.To.Port)
	}
	return inputs, ports
}
