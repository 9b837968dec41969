package types

import (
	"bytes"
	"fmt"
	"time"
)

// FieldKind enumerates the value types a record field can hold.
type FieldKind uint8

const (
	KindNull FieldKind = iota
	KindInt
	KindUInt
	KindFloat
	KindBoolean
	KindString
	KindBinary
	KindTimestamp
)

func (k FieldKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindUInt:
		return "uint"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Field is a single value in a record. Kind selects which member is
// meaningful; the others are zero. Fields are plain values and safe to
// copy.
type Field struct {
	Kind  FieldKind
	Int   int64
	UInt  uint64
	Float float64
	Bool  bool
	Str   string
	Bytes []byte
	Time  time.Time
}

func NullField() Field                 { return Field{Kind: KindNull} }
func IntField(v int64) Field           { return Field{Kind: KindInt, Int: v} }
func UIntField(v uint64) Field         { return Field{Kind: KindUInt, UInt: v} }
func FloatField(v float64) Field       { return Field{Kind: KindFloat, Float: v} }
func BoolField(v bool) Field           { return Field{Kind: KindBoolean, Bool: v} }
func StringField(v string) Field       { return Field{Kind: KindString, Str: v} }
func BinaryField(v []byte) Field       { return Field{Kind: KindBinary, Bytes: v} }
func TimestampField(v time.Time) Field { return Field{Kind: KindTimestamp, Time: v} }

// Equal reports whether two fields hold the same kind and value.
func (f Field) Equal(other Field) bool {
	if f.Kind != other.Kind {
		return false
	}
	switch f.Kind {
	case KindNull:
		return true
	case KindInt:
		return f.Int == other.Int
	case KindUInt:
		return f.UInt == other.UInt
	case KindFloat:
		return f.Float == other.Float
	case KindBoolean:
		return f.Bool == other.Bool
	case KindString:
		return f.Str == other.Str
	case KindBinary:
		return bytes.Equal(f.Bytes, other.Bytes)
	case KindTimestamp:
		return f.Time.Equal(other.Time)
	default:
		return false
	}
}

func (f Field) String() string {
	switch f.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return fmt.Sprintf("%d", f.Int)
	case KindUInt:
		return fmt.Sprintf("%d", f.UInt)
	case KindFloat:
		return fmt.Sprintf("%g", f.Float)
	case KindBoolean:
		return fmt.Sprintf("%t", f.Bool)
	case KindString:
		return f.Str
	case KindBinary:
		return fmt.Sprintf("0x%x", f.Bytes)
	case KindTimestamp:
		return f.Time.Format(time.RFC3339Nano)
	default:
		return "?"
	}
}

// FieldsEqual compares two field slices element-wise.
func FieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
