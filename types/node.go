package types

import "fmt"

// PortHandle identifies an input or output port on a node. Handles are
// unique per node per direction.
type PortHandle uint16

// DefaultPortHandle is the conventional port for single-input or
// single-output nodes.
const DefaultPortHandle PortHandle = 0xffff

// NodeHandle is the stable identifier of a node, optionally namespaced.
// It is comparable and used as a map key throughout the engine.
type NodeHandle struct {
	NS uint16
	ID string
}

func NewNodeHandle(ns uint16, id string) NodeHandle {
	return NodeHandle{NS: ns, ID: id}
}

func (h NodeHandle) String() string {
	return fmt.Sprintf("%d_%s", h.NS, h.ID)
}

// OpIdentifier is the opaque resume token a source needs to restart from
// an exact position: the source-defined transaction id and the sequence
// number within it.
type OpIdentifier struct {
	TxID    uint64
	SeqInTx uint64
}

func NewOpIdentifier(txID, seqInTx uint64) OpIdentifier {
	return OpIdentifier{TxID: txID, SeqInTx: seqInTx}
}

func (id OpIdentifier) String() string {
	return fmt.Sprintf("%d:%d", id.TxID, id.SeqInTx)
}

// SourceStates maps each source node to its resume token at an epoch
// boundary.
type SourceStates map[NodeHandle]OpIdentifier

// Clone returns a copy that is safe to retain.
func (s SourceStates) Clone() SourceStates {
	out := make(SourceStates, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
