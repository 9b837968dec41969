// Package recordstore interns record field arrays and hands out small
// opaque references, so that a record fanning out across many downstream
// operators is stored once and shared safely between node goroutines.
//
// References are handles into an arena (a monotonic id mapped to the
// value), not pointers: handles cannot point back into the arena, so
// reference cycles are structurally impossible and the whole arena can
// be serialized as flat data at a checkpoint boundary.
package recordstore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/weirflow/weir/types"
)

// ErrRefNotFound is returned by Load when a reference has already been
// fully released or was never issued by this store.
var ErrRefNotFound = errors.New("recordstore: record reference not found")

// RecordRef is an opaque handle to an interned, immutable field array.
// Refs are shared by every ProcessorRecord that includes them; the store
// reclaims the values once the last holder releases its clone.
type RecordRef struct {
	id uint64
}

// ID exposes the arena index for serialization. The id is never reused
// within one store.
func (r RecordRef) ID() uint64 { return r.id }

type entry struct {
	values []types.Field
	refs   int64
}

// Store is the process-wide record arena. CreateRef and Load are safe
// for concurrent use from multiple node goroutines; id allocation is an
// atomic counter and the entry map is guarded by a short-critical-section
// lock, never held across user code.
type Store struct {
	nextID atomic.Uint64

	mu      sync.RWMutex
	entries map[uint64]*entry
}

// New creates an empty store. Allocation never fails short of resource
// exhaustion.
func New() *Store {
	return &Store{entries: make(map[uint64]*entry)}
}

// CreateRef interns the given values and returns a reference holding one
// clone. The values slice is copied; the caller keeps ownership of its
// own slice.
func (s *Store) CreateRef(values []types.Field) RecordRef {
	id := s.nextID.Add(1)
	copied := make([]types.Field, len(values))
	copy(copied, values)

	s.mu.Lock()
	s.entries[id] = &entry{values: copied, refs: 1}
	s.mu.Unlock()

	return RecordRef{id: id}
}

// Load returns the exact values originally interned. The returned slice
// must not be mutated. Loading does not depend on how many clones of the
// reference are alive elsewhere.
func (s *Store) Load(ref RecordRef) ([]types.Field, error) {
	s.mu.RLock()
	e, ok := s.entries[ref.id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrRefNotFound, ref.id)
	}
	return e.values, nil
}

// RefsEqual reports whether two references intern equal field arrays.
// References compare by value, not identity: refs with distinct ids over
// equal arrays are equal. Comparing a released reference is an error.
func (s *Store) RefsEqual(a, b RecordRef) (bool, error) {
	if a.id == b.id {
		return true, nil
	}
	va, err := s.Load(a)
	if err != nil {
		return false, err
	}
	vb, err := s.Load(b)
	if err != nil {
		return false, err
	}
	return types.FieldsEqual(va, vb), nil
}

// Clone registers another holder of the reference. Every clone must be
// paired with a Release.
func (s *Store) Clone(ref RecordRef) RecordRef {
	s.mu.Lock()
	if e, ok := s.entries[ref.id]; ok {
		e.refs++
	}
	s.mu.Unlock()
	return ref
}

// Release drops one holder of the reference. The values are reclaimed
// when the count reaches zero; releasing an unknown reference is a no-op.
func (s *Store) Release(ref RecordRef) {
	s.mu.Lock()
	if e, ok := s.entries[ref.id]; ok {
		e.refs--
		if e.refs <= 0 {
			delete(s.entries, ref.id)
		}
	}
	s.mu.Unlock()
}

// NumRecords returns the total number of references ever created. The
// epoch manager compares it against a persist threshold; it is monotonic
// and unaffected by reclamation.
func (s *Store) NumRecords() uint64 {
	return s.nextID.Load()
}

// Len returns the number of live (unreclaimed) entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
