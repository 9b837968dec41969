package recordstore

import "github.com/weirflow/weir/types"

// ProcessorRecord is one logical row flowing through stateful operators:
// an ordered sequence of record references plus an optional lifetime. A
// wide joined record is assembled from several narrow sources by
// appending their refs, without copying any field data.
type ProcessorRecord struct {
	Refs     []RecordRef
	Lifetime *types.Lifetime
}

// Extend appends all refs of other, preserving order.
func (r *ProcessorRecord) Extend(other ProcessorRecord) {
	r.Refs = append(r.Refs, other.Refs...)
}

// Push appends a single ref.
func (r *ProcessorRecord) Push(ref RecordRef) {
	r.Refs = append(r.Refs, ref)
}

// CreateRecord interns a record's values as a single-ref ProcessorRecord.
func (s *Store) CreateRecord(record types.Record) ProcessorRecord {
	ref := s.CreateRef(record.Values)
	return ProcessorRecord{Refs: []RecordRef{ref}, Lifetime: record.Lifetime}
}

// LoadRecord reassembles a flat record by concatenating the field arrays
// of every ref, in order.
func (s *Store) LoadRecord(record ProcessorRecord) (types.Record, error) {
	var values []types.Field
	for _, ref := range record.Refs {
		fields, err := s.Load(ref)
		if err != nil {
			return types.Record{}, err
		}
		values = append(values, fields...)
	}
	return types.Record{Values: values, Lifetime: record.Lifetime}, nil
}

// RecordsEqual reports whether two ProcessorRecords load to equal flat
// records. Records with different ref partitions over the same fields
// are equal.
func (s *Store) RecordsEqual(a, b ProcessorRecord) (bool, error) {
	ra, err := s.LoadRecord(a)
	if err != nil {
		return false, err
	}
	rb, err := s.LoadRecord(b)
	if err != nil {
		return false, err
	}
	return ra.Equal(rb), nil
}

// CloneRecord registers another holder for every ref in the record.
func (s *Store) CloneRecord(record ProcessorRecord) ProcessorRecord {
	refs := make([]RecordRef, len(record.Refs))
	for i, ref := range record.Refs {
		refs[i] = s.Clone(ref)
	}
	return ProcessorRecord{Refs: refs, Lifetime: record.Lifetime}
}

// ReleaseRecord drops the record's hold on all of its refs.
func (s *Store) ReleaseRecord(record ProcessorRecord) {
	for _, ref := range record.Refs {
		s.Release(ref)
	}
}

// RefOperation is an operation whose records are interned. Stateful
// operators keep RefOperations instead of flat operations so retained
// state shares storage with in-flight messages.
type RefOperation struct {
	Kind types.OpKind
	Old  ProcessorRecord
	New  ProcessorRecord
}

// CreateOperation interns both sides of an operation.
func (s *Store) CreateOperation(op types.Operation) RefOperation {
	out := RefOperation{Kind: op.Kind}
	switch op.Kind {
	case types.OpInsert:
		out.New = s.CreateRecord(op.New)
	case types.OpDelete:
		out.Old = s.CreateRecord(op.Old)
	case types.OpUpdate:
		out.Old = s.CreateRecord(op.Old)
		out.New = s.CreateRecord(op.New)
	}
	return out
}

// LoadOperation reassembles a flat operation.
func (s *Store) LoadOperation(op RefOperation) (types.Operation, error) {
	out := types.Operation{Kind: op.Kind}
	var err error
	switch op.Kind {
	case types.OpInsert:
		out.New, err = s.LoadRecord(op.New)
	case types.OpDelete:
		out.Old, err = s.LoadRecord(op.Old)
	case types.OpUpdate:
		if out.Old, err = s.LoadRecord(op.Old); err != nil {
			return types.Operation{}, err
		}
		out.New, err = s.LoadRecord(op.New)
	}
	if err != nil {
		return types.Operation{}, err
	}
	return out, nil
}

// ReleaseOperation drops the operation's hold on all refs of both sides.
func (s *Store) ReleaseOperation(op RefOperation) {
	s.ReleaseRecord(op.Old)
	s.ReleaseRecord(op.New)
}
