package dag

import "github.com/weirflow/weir/types"

// SourceForwarder is the channel-like sink handed to a connector. It is
// the only way a source emits data. Send blocks when a downstream
// channel is full, applying backpressure instead of dropping data.
type SourceForwarder interface {
	// Send forwards one operation on an output port. seq is the
	// connector's monotonic per-source sequence number.
	Send(seq uint64, op types.Operation, port types.PortHandle) error

	// UpdateSchema announces the schema the connector will emit on a
	// port. The engine checks it against the schema negotiated at build
	// time and fails with ErrSchemaMismatch on disagreement.
	UpdateSchema(schema types.Schema, port types.PortHandle) error

	// Commit signals an externally decided transaction boundary. A
	// non-nil token makes the position restartable; nil marks the
	// source non-restartable until the next token.
	Commit(token *types.OpIdentifier) error

	// SnapshottingStarted signals that the named connection began its
	// initial snapshot.
	SnapshottingStarted(connection string) error

	// SnapshottingDone signals the snapshot finished, with the resume
	// token replication continues from.
	SnapshottingDone(connection string, token *types.OpIdentifier) error
}

// ProcessorForwarder forwards an operation to every edge connected to
// one of the processor's output ports. It panics on internal send
// failure: a failed send means the receiving node is already gone, the
// pipeline is shutting down, and the caller has no recovery path of its
// own. The engine converts the panic into the fatal-abort path.
type ProcessorForwarder interface {
	Send(op types.Operation, port types.PortHandle)
}
