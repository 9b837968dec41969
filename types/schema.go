package types

// FieldDefinition describes one typed, named field of a schema.
type FieldDefinition struct {
	Name     string
	Kind     FieldKind
	Nullable bool
}

// Schema is an ordered list of field definitions plus the subset of
// field indexes forming the primary key. Schemas are negotiated at
// graph-build time and never change during a run.
type Schema struct {
	Fields       []FieldDefinition
	PrimaryIndex []int
}

// FieldIndex returns the index of the field with the given name, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal compares field definitions and primary indexes.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) || len(s.PrimaryIndex) != len(other.PrimaryIndex) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	for i := range s.PrimaryIndex {
		if s.PrimaryIndex[i] != other.PrimaryIndex[i] {
			return false
		}
	}
	return true
}
