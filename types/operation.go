package types

// OpKind tags the variant of an Operation.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is a change event: an insert carries the new record, a
// delete the old one, an update both. Operations created by a source
// carry a monotonic per-source sequence number assigned by the engine.
type Operation struct {
	Kind OpKind
	Old  Record
	New  Record
}

func Insert(new Record) Operation          { return Operation{Kind: OpInsert, New: new} }
func Update(old, new Record) Operation     { return Operation{Kind: OpUpdate, Old: old, New: new} }
func Delete(old Record) Operation          { return Operation{Kind: OpDelete, Old: old} }

// Equal compares kind and records.
func (o Operation) Equal(other Operation) bool {
	return o.Kind == other.Kind && o.Old.Equal(other.Old) && o.New.Equal(other.New)
}
