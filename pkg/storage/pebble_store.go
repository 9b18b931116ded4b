package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the single on-disk store shared by the ledger, the curve,
// the market registry and the order registry. Components never write to it
// directly; they stage changes in a Batch that the host commits once per
// operation.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a Pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		// Performance tuning
		Cache:                       pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:                64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20, // 64MB
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database
func (s *PebbleStore) Close() error { return s.db.Close() }

// Get returns a copy of the value at key, or (nil, false) if it is absent.
func (s *PebbleStore) Get(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// GetJSON decodes the JSON value at key into v.
func (s *PebbleStore) GetJSON(key []byte, v any) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := decodeJSON(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Iterate calls fn for every key with the given prefix in ascending order.
// The key and value slices are only valid during the call.
func (s *PebbleStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch stages writes that become visible together on Commit.
type Batch struct {
	batch *pebble.Batch
	count int
}

// NewBatch creates a new batch writer
func (s *PebbleStore) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// Set stages a raw value.
func (b *Batch) Set(key, value []byte) error {
	b.count++
	return b.batch.Set(key, value, nil)
}

// SetJSON stages the JSON encoding of v.
func (b *Batch) SetJSON(key []byte, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	return b.Set(key, data)
}

// SetGob stages the gob encoding of v.
func (b *Batch) SetGob(key []byte, v any) error {
	data, err := EncodeGob(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return b.Set(key, data)
}

// Delete stages a deletion.
func (b *Batch) Delete(key []byte) error {
	b.count++
	return b.batch.Delete(key, nil)
}

// Len returns the number of staged writes.
func (b *Batch) Len() int { return b.count }

// Commit writes the batch to Pebble atomically
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close closes the batch without committing
func (b *Batch) Close() error {
	return b.batch.Close()
}
