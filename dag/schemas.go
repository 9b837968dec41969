package dag

import (
	"fmt"

	"github.com/weirflow/weir/types"
)

// Schemas holds the negotiated input and output schema of every port in
// a Dag. Schemas are computed once, before any node runs; nothing about
// them changes at runtime.
type Schemas struct {
	inputs  map[types.NodeHandle]map[types.PortHandle]types.Schema
	outputs map[types.NodeHandle]map[types.PortHandle]types.Schema
}

// InputSchemas returns the schema of each connected input port of a node.
func (s *Schemas) InputSchemas(handle types.NodeHandle) map[types.PortHandle]types.Schema {
	return s.inputs[handle]
}

// OutputSchemas returns the schema of each output port of a node.
func (s *Schemas) OutputSchemas(handle types.NodeHandle) map[types.PortHandle]types.Schema {
	return s.outputs[handle]
}

// PrepareSchemas walks the Dag in topological order, asking each source
// for its output schemas and each processor to derive its output schemas
// from the inputs propagated to it. The Dag must already Validate.
func PrepareSchemas(d *Dag) (*Schemas, error) {
	s := &Schemas{
		inputs:  make(map[types.NodeHandle]map[types.PortHandle]types.Schema),
		outputs: make(map[types.NodeHandle]map[types.PortHandle]types.Schema),
	}

	for _, handle := range d.TopologicalOrder() {
		node, _ := d.Node(handle)

		switch node.Kind {
		case KindSource:
			out := make(map[types.PortHandle]types.Schema)
			for _, def := range node.Source.OutputPorts() {
				schema, err := node.Source.OutputSchema(def.Handle)
				if err != nil {
					return nil, fmt.Errorf("source %s port %d: %w", handle, def.Handle, err)
				}
				out[def.Handle] = schema
			}
			s.outputs[handle] = out

		case KindProcessor:
			in, err := s.collectInputs(d, handle, node.Processor.InputPorts())
			if err != nil {
				return nil, err
			}
			s.inputs[handle] = in
			out := make(map[types.PortHandle]types.Schema)
			for _, def := range node.Processor.OutputPorts() {
				schema, err := node.Processor.OutputSchema(def.Handle, in)
				if err != nil {
					return nil, fmt.Errorf("processor %s port %d: %w", handle, def.Handle, err)
				}
				out[def.Handle] = schema
			}
			s.outputs[handle] = out

		case KindSink:
			in, err := s.collectInputs(d, handle, node.Sink.InputPorts())
			if err != nil {
				return nil, err
			}
			s.inputs[handle] = in
		}
	}

	return s, nil
}

// collectInputs maps each input port of a node to the schema of the
// upstream output feeding it.
func (s *Schemas) collectInputs(d *Dag, handle types.NodeHandle, ports []types.PortHandle) (map[types.PortHandle]types.Schema, error) {
	in := make(map[types.PortHandle]types.Schema)
	for _, e := range d.EdgesTo(handle) {
		upstream, ok := s.outputs[e.From.Node]
		if !ok {
			return nil, fmt.Errorf("%w: node %s feeding %s not yet prepared", ErrSchemaNotInitialized, e.From.Node, handle)
		}
		schema, ok := upstream[e.From.Port]
		if !ok {
			return nil, fmt.Errorf("%w: node %s port %d", ErrSchemaNotInitialized, e.From.Node, e.From.Port)
		}
		in[e.To.Port] = schema
	}
	for _, port := range ports {
		if _, ok := in[port]; !ok {
			return nil, fmt.Errorf("%w: node %s port %d", ErrMissingInput, handle, port)
		}
	}
	return in, nil
}
