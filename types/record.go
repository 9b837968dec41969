package types

import "time"

// Lifetime marks when a record logically expires. Time-windowed operators
// use it to reclaim state; a nil Lifetime on a record means it never
// expires.
type Lifetime struct {
	Reference time.Time
	Duration  time.Duration
}

// Expired reports whether the lifetime has elapsed as of now.
func (l Lifetime) Expired(now time.Time) bool {
	return now.After(l.Reference.Add(l.Duration))
}

// Record is an ordered list of field values, optionally bounded by a
// lifetime. Records flowing between nodes are owned by the message that
// carries them; nodes that retain record data intern it through the
// record store instead of copying.
type Record struct {
	Values   []Field
	Lifetime *Lifetime
}

// NewRecord creates a record over the given values.
func NewRecord(values ...Field) Record {
	return Record{Values: values}
}

// Equal compares values and lifetimes.
func (r Record) Equal(other Record) bool {
	if !FieldsEqual(r.Values, other.Values) {
		return false
	}
	if (r.Lifetime == nil) != (other.Lifetime == nil) {
		return false
	}
	if r.Lifetime != nil {
		return r.Lifetime.Reference.Equal(other.Lifetime.Reference) &&
			r.Lifetime.Duration == other.Lifetime.Duration
	}
	return true
}
