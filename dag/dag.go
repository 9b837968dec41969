package dag

import (
	"fmt"

	"github.com/weirflow/weir/types"
)

// Endpoint names one port of one node.
type Endpoint struct {
	Node types.NodeHandle
	Port types.PortHandle
}

func NewEndpoint(node types.NodeHandle, port types.PortHandle) Endpoint {
	return Endpoint{Node: node, Port: port}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Node, e.Port)
}

// Edge is a directed connection from an output port to an input port.
type Edge struct {
	From Endpoint
	To   Endpoint
}

// Node is the build-time representation of a node: its handle, its kind,
// and the factory that builds the runtime instance. Exactly one factory
// member is non-nil, according to Kind.
type Node struct {
	Handle    types.NodeHandle
	Kind      NodeKind
	Source    SourceFactory
	Processor ProcessorFactory
	Sink      SinkFactory
}

// Dag is the validated topology of one pipeline run. It is built once by
// the pipeline builder and immutable once handed to the executor.
type Dag struct {
	nodes   map[types.NodeHandle]*Node
	order   []types.NodeHandle
	edges   []Edge
	edgeSet map[Edge]struct{}
}

// New creates an empty Dag.
func New() *Dag {
	return &Dag{
		nodes:   make(map[types.NodeHandle]*Node),
		edgeSet: make(map[Edge]struct{}),
	}
}

// AddSource adds a source node.
func (d *Dag) AddSource(handle types.NodeHandle, factory SourceFactory) error {
	return d.addNode(&Node{Handle: handle, Kind: KindSource, Source: factory})
}

// AddProcessor adds a processor node.
func (d *Dag) AddProcessor(handle types.NodeHandle, factory ProcessorFactory) error {
	return d.addNode(&Node{Handle: handle, Kind: KindProcessor, Processor: factory})
}

// AddSink adds a sink node.
func (d *Dag) AddSink(handle types.NodeHandle, factory SinkFactory) error {
	return d.addNode(&Node{Handle: handle, Kind: KindSink, Sink: factory})
}

func (d *Dag) addNode(node *Node) error {
	if _, exists := d.nodes[node.Handle]; exists {
		return fmt.Errorf("%w: %s", ErrNodeExists, node.Handle)
	}
	d.nodes[node.Handle] = node
	d.order = append(d.order, node.Handle)
	return nil
}

// Connect adds an edge from an output endpoint to an input endpoint. It
// fails, leaving the Dag unchanged, if either node is unknown, either
// port is undeclared or of the wrong direction, the edge already exists,
// or the edge would close a cycle.
func (d *Dag) Connect(from, to Endpoint) error {
	fromNode, ok := d.nodes[from.Node]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidNode, from.Node)
	}
	toNode, ok := d.nodes[to.Node]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidNode, to.Node)
	}
	if fromNode.Kind == KindSink {
		return fmt.Errorf("%w: %s is a sink and has no output ports", ErrInvalidNodeType, from.Node)
	}
	if toNode.Kind == KindSource {
		return fmt.Errorf("%w: %s is a source and has no input ports", ErrInvalidNodeType, to.Node)
	}
	if !hasOutputPort(fromNode, from.Port) {
		return fmt.Errorf("%w: node %s has no output port %d", ErrInvalidPortHandle, from.Node, from.Port)
	}
	if !hasInputPort(toNode, to.Port) {
		return fmt.Errorf("%w: node %s has no input port %d", ErrInvalidPortHandle, to.Node, to.Port)
	}

	edge := Edge{From: from, To: to}
	if _, exists := d.edgeSet[edge]; exists {
		return fmt.Errorf("%w: %s -> %s", ErrEdgeExists, from, to)
	}
	for _, e := range d.edges {
		if e.To == to {
			return fmt.Errorf("%w: node %s port %d", ErrDuplicateInput, to.Node, to.Port)
		}
	}
	if d.pathExists(to.Node, from.Node) {
		return fmt.Errorf("%w: %s -> %s", ErrWouldCycle, from, to)
	}

	d.edges = append(d.edges, edge)
	d.edgeSet[edge] = struct{}{}
	return nil
}

// pathExists reports whether dst is reachable from src over existing
// edges. Depth-first; the graph is acyclic by construction.
func (d *Dag) pathExists(src, dst types.NodeHandle) bool {
	if src == dst {
		return true
	}
	for _, e := range d.edges {
		if e.From.Node == src && d.pathExists(e.To.Node, dst) {
			return true
		}
	}
	return false
}

// Validate checks the invariants that Connect cannot enforce edge by
// edge: every declared input port is connected exactly once, and every
// non-optional output port is connected at least once.
func (d *Dag) Validate() error {
	for _, handle := range d.order {
		node := d.nodes[handle]
		for _, port := range inputPorts(node) {
			if d.countInputs(handle, port) == 0 {
				return fmt.Errorf("%w: node %s port %d", ErrMissingInput, handle, port)
			}
		}
		for _, def := range outputPorts(node) {
			if def.Optional {
				continue
			}
			if d.countOutputs(handle, def.Handle) == 0 {
				return fmt.Errorf("%w: node %s port %d", ErrMissingOutput, handle, def.Handle)
			}
		}
	}
	return nil
}

func (d *Dag) countInputs(handle types.NodeHandle, port types.PortHandle) int {
	n := 0
	for _, e := range d.edges {
		if e.To.Node == handle && e.To.Port == port {
			n++
		}
	}
	return n
}

func (d *Dag) countOutputs(handle types.NodeHandle, port types.PortHandle) int {
	n := 0
	for _, e := range d.edges {
		if e.From.Node == handle && e.From.Port == port {
			n++
		}
	}
	return n
}

// Node returns the node with the given handle.
func (d *Dag) Node(handle types.NodeHandle) (*Node, bool) {
	node, ok := d.nodes[handle]
	return node, ok
}

// Handles returns all node handles in insertion order.
func (d *Dag) Handles() []types.NodeHandle {
	out := make([]types.NodeHandle, len(d.order))
	copy(out, d.order)
	return out
}

// Edges returns all edges in insertion order.
func (d *Dag) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// EdgeCount returns the number of edges.
func (d *Dag) EdgeCount() int { return len(d.edges) }

// EdgesFrom returns edges leaving the given node, in insertion order.
func (d *Dag) EdgesFrom(handle types.NodeHandle) []Edge {
	var out []Edge
	for _, e := range d.edges {
		if e.From.Node == handle {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns edges entering the given node, in insertion order.
func (d *Dag) EdgesTo(handle types.NodeHandle) []Edge {
	var out []Edge
	for _, e := range d.edges {
		if e.To.Node == handle {
			out = append(out, e)
		}
	}
	return out
}

// Sources returns the handles of all source nodes, in insertion order.
func (d *Dag) Sources() []types.NodeHandle {
	var out []types.NodeHandle
	for _, handle := range d.order {
		if d.nodes[handle].Kind == KindSource {
			out = append(out, handle)
		}
	}
	return out
}

// TopologicalOrder returns node handles such that every edge goes from
// an earlier handle to a later one. Ties break by insertion order, so
// the result is deterministic.
func (d *Dag) TopologicalOrder() []types.NodeHandle {
	inDegree := make(map[types.NodeHandle]int, len(d.nodes))
	for _, h := range d.order {
		inDegree[h] = 0
	}
	for _, e := range d.edges {
		inDegree[e.To.Node]++
	}

	var queue []types.NodeHandle
	for _, h := range d.order {
		if inDegree[h] == 0 {
			queue = append(queue, h)
		}
	}

	result := make([]types.NodeHandle, 0, len(d.nodes))
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		result = append(result, h)
		for _, e := range d.edges {
			if e.From.Node != h {
				continue
			}
			inDegree[e.To.Node]--
			if inDegree[e.To.Node] == 0 {
				queue = append(queue, e.To.Node)
			}
		}
	}
	return result
}

func hasOutputPort(node *Node, port types.PortHandle) bool {
	for _, def := range outputPorts(node) {
		if def.Handle == port {
			return true
		}
	}
	return false
}

func hasInputPort(node *Node, port types.PortHandle) bool {
	for _, p := range inputPorts(node) {
		if p == port {
			return true
		}
	}
	return false
}

func outputPorts(node *Node) []OutputPortDef {
	switch node.Kind {
	case KindSource:
		return node.Source.OutputPorts()
	case KindProcessor:
		return node.Processor.OutputPorts()
	default:
		return nil
	}
}

func inputPorts(node *Node) []types.PortHandle {
	switch node.Kind {
	case KindProcessor:
		return node.Processor.InputPorts()
	case KindSink:
		return node.Sink.InputPorts()
	default:
		return nil
	}
}
