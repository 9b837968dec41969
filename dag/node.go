// Package dag defines the build-time topology of a dataflow pipeline:
// nodes of three kinds (source, processor, sink) described by factories,
// connected by typed port pairs, validated before execution.
package dag

import (
	"context"
	"io"

	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/recordstore"
	"github.com/weirflow/weir/types"
)

// NodeKind is the closed set of node variants. The Dag's own logic is
// variant-free; behavior lives behind the factory interfaces.
type NodeKind uint8

const (
	KindSource NodeKind = iota
	KindProcessor
	KindSink
)

func (k NodeKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindProcessor:
		return "processor"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// OutputPortDef declares one output port of a source or processor.
// Optional ports may be left unconnected.
type OutputPortDef struct {
	Handle   types.PortHandle
	Optional bool
}

// OutputPort declares a required output port.
func OutputPort(handle types.PortHandle) OutputPortDef {
	return OutputPortDef{Handle: handle}
}

// SourceFactory describes a source node: its output ports and schemas,
// and how to build the runtime instance.
type SourceFactory interface {
	// OutputPorts declares the ports this source emits on.
	OutputPorts() []OutputPortDef
	// OutputSchema returns the schema emitted on the given port.
	OutputSchema(port types.PortHandle) (types.Schema, error)
	// Build creates the runtime source.
	Build(outputSchemas map[types.PortHandle]types.Schema) (Source, error)
}

// Source is the runtime instance of a source node. Start pulls changes
// from the underlying system and pushes them through the forwarder until
// the data is exhausted or ctx is cancelled; it is the only goroutine
// the engine dedicates to the connector. lastCheckpoint is the resume
// token from the last fully committed epoch, or nil to start from the
// beginning.
type Source interface {
	Start(ctx context.Context, fw SourceForwarder, lastCheckpoint *types.OpIdentifier) error
}

// ProcessorFactory describes a processor node.
type ProcessorFactory interface {
	InputPorts() []types.PortHandle
	OutputPorts() []OutputPortDef
	// OutputSchema computes the schema of an output port from the input
	// schemas. It fails with ErrSchemaNotInitialized when called before
	// all inputs are known.
	OutputSchema(port types.PortHandle, inputSchemas map[types.PortHandle]types.Schema) (types.Schema, error)
	// Build creates the runtime processor. Stateful processors intern
	// retained records through store. state is the blob a previous
	// instance serialized at the last committed epoch, nil on a fresh
	// start.
	Build(inputSchemas, outputSchemas map[types.PortHandle]types.Schema, store *recordstore.Store, state []byte) (Processor, error)
}

// Processor is the runtime instance of a processor node. All methods are
// called from the node's own goroutine; node-local state needs no
// locking.
type Processor interface {
	// Process handles one operation arriving on fromPort, forwarding any
	// derived operations through fw. Errors count against the executor's
	// error threshold; the record that caused one is skipped.
	Process(fromPort types.PortHandle, op types.Operation, fw ProcessorForwarder) error
	// Commit is called once per epoch, after a commit marker has been
	// observed on every input port and before any operation of the next
	// epoch is applied.
	Commit(e *epoch.Epoch) error
	// Serialize writes the processor's resume state. It is called only
	// for epochs that persist a checkpoint.
	Serialize(w io.Writer) error
}

// SinkFactory describes a sink node.
type SinkFactory interface {
	InputPorts() []types.PortHandle
	// Build creates the runtime sink. state is the blob a previous
	// instance serialized at the last committed epoch, nil on a fresh
	// start.
	Build(inputSchemas map[types.PortHandle]types.Schema, state []byte) (Sink, error)
}

// Sink is the runtime instance of a terminal node. A sink must make its
// writes durable, or replayable from the epoch's source states, by the
// time Commit returns.
type Sink interface {
	Process(fromPort types.PortHandle, op types.Operation) error
	Commit(e *epoch.Epoch) error
	Serialize(w io.Writer) error
	// OnSnapshottingStarted signals that the named connection began its
	// initial snapshot.
	OnSnapshottingStarted(connection string) error
	// OnSnapshottingDone signals that the snapshot finished; token, when
	// non-nil, is the position replication resumes from.
	OnSnapshottingDone(connection string, token *types.OpIdentifier) error
}
