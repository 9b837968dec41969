package dag

import "errors"

// Sentinel errors for topology construction and schema negotiation.
// Callers match these with errors.Is; messages wrap them with the
// offending node and port.
var (
	// ErrInvalidPortHandle is returned when an endpoint names a port the
	// node never declared, or a port of the wrong direction.
	ErrInvalidPortHandle = errors.New("dag: invalid port handle")

	// ErrInvalidNode is returned when an endpoint names an unknown node.
	ErrInvalidNode = errors.New("dag: invalid node")

	// ErrInvalidNodeType is returned when an edge starts at a sink or
	// ends at a source.
	ErrInvalidNodeType = errors.New("dag: invalid node type")

	// ErrNodeExists is returned when a handle is added twice.
	ErrNodeExists = errors.New("dag: node already exists")

	// ErrEdgeExists is returned when the same edge is connected twice.
	ErrEdgeExists = errors.New("dag: edge already exists")

	// ErrWouldCycle is returned when an edge would close a cycle.
	ErrWouldCycle = errors.New("dag: adding this edge would create a cycle")

	// ErrMissingInput is returned by Validate when a declared input port
	// has no incoming edge.
	ErrMissingInput = errors.New("dag: missing input")

	// ErrMissingOutput is returned by Validate when a required output
	// port has no outgoing edge.
	ErrMissingOutput = errors.New("dag: missing output")

	// ErrDuplicateInput is returned when two edges target the same input
	// port.
	ErrDuplicateInput = errors.New("dag: duplicate input")

	// ErrSchemaNotInitialized is returned when an output schema is
	// requested before all input schemas are known.
	ErrSchemaNotInitialized = errors.New("dag: schema not initialized")

	// ErrSchemaMismatch is returned when a schema announced at runtime
	// disagrees with the one negotiated at build time.
	ErrSchemaMismatch = errors.New("dag: schema mismatch")
)
