// Package weir runs dataflow pipelines over change data: a validated DAG
// of sources, processors and sinks executed with one goroutine per node,
// epoch-based commits across all sources, and optional checkpointing for
// restart.
package weir

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/weirflow/weir/checkpoint"
	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/internal/execution"
	"github.com/weirflow/weir/recordstore"
)

// DagExecutor owns one pipeline run end to end: schema negotiation, node
// construction, checkpoint restore, execution and shutdown.
type DagExecutor struct {
	d       *dag.Dag
	opts    execution.Options
	log     *slog.Logger
	store   *recordstore.Store
	factory *checkpoint.Factory
	ex      *execution.Executor

	checkpointDir string

	done chan struct{}
	err  error
}

// NewDagExecutor validates the graph, negotiates schemas along its
// topological order and builds every node instance. If a checkpoint
// directory is configured and holds a committed epoch, sources are built
// with their persisted resume tokens.
func NewDagExecutor(d *dag.Dag, opts ...Option) (*DagExecutor, error) {
	e := &DagExecutor{
		d:    d,
		log:  NullLogger(),
		done: make(chan struct{}),
		opts: execution.Options{
			ChannelBufferSize:        256,
			MaxOpsBeforeCommit:       10_000,
			CommitTimeout:            50 * time.Millisecond,
			MaxRecordsBeforePersist:  100_000,
			MaxIntervalBeforePersist: time.Minute,
			ErrorThreshold:           0,
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	schemas, err := dag.PrepareSchemas(e.d)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare schemas: %w", err)
	}

	e.store = recordstore.New()
	if e.checkpointDir != "" {
		e.factory, err = checkpoint.NewFactory(e.checkpointDir, e.store, e.log)
		if err != nil {
			return nil, err
		}
	}

	e.ex, err = execution.Build(e.d, schemas, e.store, e.factory, e.opts, e.log)
	if err != nil {
		if e.factory != nil {
			err = multierr.Append(err, e.factory.Close())
		}
		return nil, err
	}
	return e, nil
}

// Start launches the pipeline. It returns immediately; use Wait for the
// outcome. Cancelling ctx aborts the pipeline hard, dropping in-flight
// epochs; use Stop for a graceful shutdown.
func (e *DagExecutor) Start(ctx context.Context) {
	go func() {
		e.err = e.ex.Run(ctx)
		close(e.done)
	}()
}

// Wait blocks until the pipeline terminated and returns its error, nil
// on clean termination.
func (e *DagExecutor) Wait() error {
	<-e.done
	return e.err
}

// Run is Start followed by Wait.
func (e *DagExecutor) Run(ctx context.Context) error {
	e.Start(ctx)
	return e.Wait()
}

// Stop requests a graceful shutdown: sources stop producing, in-flight
// operations drain and a final epoch commits (and persists, when
// checkpointing is enabled) before Wait returns.
func (e *DagExecutor) Stop() {
	e.ex.Stop()
}

// Close releases the checkpoint store. Call after Wait returned.
func (e *DagExecutor) Close() error {
	if e.factory != nil {
		return e.factory.Close()
	}
	return nil
}

// RecordStore returns the arena shared by the pipeline's stateful
// processors.
func (e *DagExecutor) RecordStore() *recordstore.Store {
	return e.store
}
