// Package checkpoint persists, per epoch, the resume token of every
// source and the serialized state of every stateful node, so a fresh
// process can resume from exactly the last fully committed epoch.
//
// Storage is a single embedded bbolt database. Everything written for an
// epoch stays invisible to restore until the epoch's writer receives its
// final confirmation and flips the committed-epoch marker; a crash
// mid-epoch therefore leaves the previous checkpoint intact. A missing
// record for a node means "start from the beginning" and is never an
// error.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"

	"github.com/weirflow/weir/recordstore"
	"github.com/weirflow/weir/types"
)

var (
	bucketSources = []byte("sources")
	bucketStates  = []byte("states")
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")

	keyCommittedEpoch = []byte("committed_epoch")
)

var msgpackHandle = &codec.MsgpackHandle{}

const dbFileName = "checkpoint.db"

// DefaultDir returns the conventional checkpoint location for one
// deployment generation: ~/.weir/<app>/<version>.
func DefaultDir(app, version string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("checkpoint: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".weir", app, version), nil
}

// Factory owns the checkpoint database for one pipeline run and hands
// out one Writer per persisted epoch.
type Factory struct {
	db    *bolt.DB
	store *recordstore.Store
	log   *slog.Logger

	mu              sync.Mutex
	nextRecordIndex uint64
}

// NewFactory opens (or creates) the checkpoint database under dir and
// replays any previously persisted record-store slices into store.
func NewFactory(dir string, store *recordstore.Store, log *slog.Logger) (*Factory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, dbFileName), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSources, bucketStates, bucketRecords, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: create buckets: %w", err)
	}

	f := &Factory{db: db, store: store, log: log}

	if epoch, ok, err := f.CommittedEpoch(); err != nil {
		_ = db.Close()
		return nil, err
	} else if ok {
		if err := f.restoreRecords(epoch); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("restored checkpoint", "committed_epoch", epoch)
	}
	f.nextRecordIndex = store.NumRecords()

	return f, nil
}

// Close releases the underlying database.
func (f *Factory) Close() error {
	return f.db.Close()
}

// RecordStore returns the arena this factory checkpoints.
func (f *Factory) RecordStore() *recordstore.Store { return f.store }

// CommittedEpoch returns the id of the last fully committed epoch, or
// ok=false when no epoch has ever been committed.
func (f *Factory) CommittedEpoch() (uint64, bool, error) {
	var id uint64
	var ok bool
	err := f.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyCommittedEpoch)
		if v != nil {
			id = binary.BigEndian.Uint64(v)
			ok = true
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint: read committed epoch: %w", err)
	}
	return id, ok, nil
}

// SourceState returns the resume token of a source at the last committed
// epoch, or nil when none exists (the connector starts from the
// beginning).
func (f *Factory) SourceState(handle types.NodeHandle) (*types.OpIdentifier, error) {
	epoch, ok, err := f.CommittedEpoch()
	if err != nil || !ok {
		return nil, err
	}
	var token *types.OpIdentifier
	err = f.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSources).Get(nodeKey(epoch, handle))
		if v == nil {
			return nil
		}
		var id types.OpIdentifier
		if err := decode(v, &id); err != nil {
			return err
		}
		token = &id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read source state %s: %w", handle, err)
	}
	return token, nil
}

// State returns the serialized node state at the last committed epoch.
// ok=false means no state was checkpointed for the node.
func (f *Factory) State(handle types.NodeHandle) ([]byte, bool, error) {
	epoch, committed, err := f.CommittedEpoch()
	if err != nil || !committed {
		return nil, false, err
	}
	var blob []byte
	err = f.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStates).Get(nodeKey(epoch, handle))
		if v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read state %s: %w", handle, err)
	}
	return blob, blob != nil, nil
}

// NewWriter creates the writer for one epoch. participants is the number
// of Confirm calls (one per processor and sink) required before the
// epoch is marked committed.
func (f *Factory) NewWriter(epochID uint64, states types.SourceStates, participants int) *Writer {
	w := &Writer{f: f, epochID: epochID, states: states.Clone()}
	w.remaining.Store(int64(participants))
	return w
}

// restoreRecords replays every record slice persisted at or before the
// committed epoch, in epoch order.
func (f *Factory) restoreRecords(committed uint64) error {
	return f.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if binary.BigEndian.Uint64(k) > committed {
				break
			}
			if err := f.store.DeserializeSlice(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Writer persists the state of one epoch. WriteState may be called
// concurrently from node goroutines; the final Confirm makes the whole
// epoch durable atomically.
type Writer struct {
	f         *Factory
	epochID   uint64
	states    types.SourceStates
	remaining atomic.Int64
}

// ID returns the epoch this writer belongs to.
func (w *Writer) ID() uint64 { return w.epochID }

// WriteState stores a node's serialized resume state for this epoch.
func (w *Writer) WriteState(handle types.NodeHandle, blob []byte) error {
	err := w.f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).Put(nodeKey(w.epochID, handle), blob)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: write state %s epoch %d: %w", handle, w.epochID, err)
	}
	return nil
}

// Confirm records that one participant finished committing the epoch.
// The final confirmation writes the source resume tokens and the record
// slice, flips the committed-epoch marker, and prunes older epochs; only
// then does the checkpoint become visible to restore.
func (w *Writer) Confirm() error {
	if w.remaining.Add(-1) != 0 {
		return nil
	}

	w.f.mu.Lock()
	defer w.f.mu.Unlock()

	slice, end, err := w.f.store.SerializeSlice(w.f.nextRecordIndex)
	if err != nil {
		return err
	}

	err = w.f.db.Update(func(tx *bolt.Tx) error {
		sources := tx.Bucket(bucketSources)
		for handle, token := range w.states {
			v, err := encode(token)
			if err != nil {
				return err
			}
			if err := sources.Put(nodeKey(w.epochID, handle), v); err != nil {
				return err
			}
		}
		if err := compactRecords(tx, w.f.store, w.epochID, slice); err != nil {
			return err
		}
		var marker [8]byte
		binary.BigEndian.PutUint64(marker[:], w.epochID)
		if err := tx.Bucket(bucketMeta).Put(keyCommittedEpoch, marker[:]); err != nil {
			return err
		}
		return pruneBefore(tx, w.epochID)
	})
	if err != nil {
		return fmt.Errorf("checkpoint: commit epoch %d: %w", w.epochID, err)
	}
	w.f.nextRecordIndex = end
	w.f.log.Debug("checkpoint committed", "epoch", w.epochID)
	return nil
}

// compactRecords merges the previously persisted record slices with the
// epoch's new one into a single slice stored at id, so the records
// bucket stays proportional to the live arena instead of the run's
// history. Restore then replays a single slice.
func compactRecords(tx *bolt.Tx, store *recordstore.Store, id uint64, latest []byte) error {
	bucket := tx.Bucket(bucketRecords)
	var slices [][]byte
	var stale [][]byte
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		slices = append(slices, v)
		stale = append(stale, append([]byte(nil), k...))
	}
	slices = append(slices, latest)

	compacted, err := store.CompactSlices(slices)
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return bucket.Put(epochKey(id), compacted)
}

// pruneBefore deletes source tokens and node states of epochs older than
// id.
func pruneBefore(tx *bolt.Tx, id uint64) error {
	for _, name := range [][]byte{bucketSources, bucketStates} {
		c := tx.Bucket(name).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k) >= id {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
	}
	return nil
}

func epochKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func nodeKey(id uint64, handle types.NodeHandle) []byte {
	return append(epochKey(id), handle.String()...)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return codec.NewDecoder(bytes.NewReader(data), msgpackHandle).Decode(v)
}
