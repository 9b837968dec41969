package recordstore

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/weirflow/weir/types"
)

var msgpackHandle = &codec.MsgpackHandle{}

// serializedEntry is one arena slot in a checkpoint slice. Values is nil
// for slots that were reclaimed before the slice was taken; on restore
// those ids simply stay absent.
type serializedEntry struct {
	ID     uint64
	Values []types.Field
}

// SerializeSlice flattens every live entry with id in (start, NumRecords]
// into a msgpack blob, for appending to a checkpoint. It returns the blob
// and the id up to which entries were serialized, so the caller can
// resume from there at the next persisted epoch.
func (s *Store) SerializeSlice(start uint64) ([]byte, uint64, error) {
	end := s.nextID.Load()

	s.mu.RLock()
	slice := make([]serializedEntry, 0, end-start)
	for id := start + 1; id <= end; id++ {
		se := serializedEntry{ID: id}
		if e, ok := s.entries[id]; ok {
			se.Values = e.values
		}
		slice = append(slice, se)
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(slice); err != nil {
		return nil, 0, fmt.Errorf("recordstore: encode slice: %w", err)
	}
	return buf.Bytes(), end, nil
}

// CompactSlices merges incremental checkpoint slices into one
// equivalent slice, dropping entries that are no longer live in the
// store. The result ends with the highest id the slices covered, so a
// store restored from it never reissues an id. Slices must be passed in
// the order they were taken.
func (s *Store) CompactSlices(slices [][]byte) ([]byte, error) {
	var merged []serializedEntry
	var maxID uint64

	s.mu.RLock()
	for _, data := range slices {
		var slice []serializedEntry
		if err := codec.NewDecoder(bytes.NewReader(data), msgpackHandle).Decode(&slice); err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("recordstore: decode slice: %w", err)
		}
		for _, se := range slice {
			if se.ID > maxID {
				maxID = se.ID
			}
			if se.Values == nil {
				continue
			}
			if _, ok := s.entries[se.ID]; !ok {
				continue
			}
			merged = append(merged, se)
		}
	}
	s.mu.RUnlock()

	if n := len(merged); n == 0 || merged[n-1].ID != maxID {
		merged = append(merged, serializedEntry{ID: maxID})
	}

	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(merged); err != nil {
		return nil, fmt.Errorf("recordstore: encode slice: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeSlice loads a checkpointed slice back into the store.
// Restored entries carry one reference each; the store's id counter is
// advanced past the highest restored id so fresh refs never collide.
func (s *Store) DeserializeSlice(data []byte) error {
	var slice []serializedEntry
	if err := codec.NewDecoder(bytes.NewReader(data), msgpackHandle).Decode(&slice); err != nil {
		return fmt.Errorf("recordstore: decode slice: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var maxID uint64
	for _, se := range slice {
		if se.ID > maxID {
			maxID = se.ID
		}
		if se.Values == nil {
			continue
		}
		s.entries[se.ID] = &entry{values: se.Values, refs: 1}
	}
	for {
		cur := s.nextID.Load()
		if cur >= maxID || s.nextID.CompareAndSwap(cur, maxID) {
			return nil
		}
	}
}
