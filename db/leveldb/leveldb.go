// Package leveldb implements db.Database on top of syndtr/goleveldb, as an
// alternative embedded engine to pebbledb for deployments that already
// standardize on LevelDB-format data directories.
package leveldb

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/chainsigner/signer-core/db"
)

// LevelDB implements db.Database.
type LevelDB struct {
	db *leveldb.DB
}

var _ db.Database = (*LevelDB)(nil)

// New opens (creating if needed) a LevelDB database at opts.Path.
func New(opts db.Options) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(opts.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %q: %w", opts.Path, err)
	}
	return &LevelDB{db: ldb}, nil
}

// Get implements db.Database.
func (d *LevelDB) Get(k []byte) ([]byte, error) {
	v, err := d.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Has reports whether k is present.
func (d *LevelDB) Has(k []byte) (bool, error) {
	return d.db.Has(k, nil)
}

// Iterate calls callback for every key with the given prefix, stripped of
// the prefix, in lexicographic order.
func (d *LevelDB) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	var iter iterator.Iterator
	if len(prefix) == 0 {
		iter = d.db.NewIterator(nil, nil)
	} else {
		iter = d.db.NewIterator(util.BytesPrefix(prefix), nil)
	}
	defer iter.Release()

	for iter.Next() {
		localKey := bytes.Clone(iter.Key()[len(prefix):])
		value := bytes.Clone(iter.Value())
		if cont := callback(localKey, value); !cont {
			break
		}
	}
	return iter.Error()
}

// WriteTx returns a new transaction. goleveldb has no native multi-op
// transaction handle with isolated reads, so writes are staged in memory and
// applied as a single Batch on Commit.
func (d *LevelDB) WriteTx() db.WriteTx {
	return &WriteTx{
		db:      d.db,
		writes:  make(map[string]*[]byte),
		batch:   new(leveldb.Batch),
		deleted: make(map[string]bool),
	}
}

// Close closes the underlying LevelDB handle.
func (d *LevelDB) Close() error {
	return d.db.Close()
}

// Compact triggers a full-range compaction.
func (d *LevelDB) Compact() error {
	return d.db.CompactRange(util.Range{})
}

// WriteTx implements db.WriteTx over a goleveldb Batch. Unlike pebbledb's
// indexed batch, goleveldb batches are write-only, so reads fall back to the
// parent database overlaid with the transaction's own staged writes.
type WriteTx struct {
	db      *leveldb.DB
	writes  map[string]*[]byte
	batch   *leveldb.Batch
	deleted map[string]bool
}

var _ db.WriteTx = (*WriteTx)(nil)

// Get implements db.WriteTx.
func (tx *WriteTx) Get(k []byte) ([]byte, error) {
	strKey := string(k)
	if tx.deleted[strKey] {
		return nil, db.ErrKeyNotFound
	}
	if pending, ok := tx.writes[strKey]; ok {
		return bytes.Clone(*pending), nil
	}
	v, err := tx.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	return v, err
}

// Iterate walks keys with the given prefix, overlaying staged writes on top
// of the committed state.
func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	entries := make(map[string][]byte)

	var iter iterator.Iterator
	if len(prefix) == 0 {
		iter = tx.db.NewIterator(nil, nil)
	} else {
		iter = tx.db.NewIterator(util.BytesPrefix(prefix), nil)
	}
	for iter.Next() {
		k := string(iter.Key()[len(prefix):])
		entries[k] = bytes.Clone(iter.Value())
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for k, v := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		entries[string([]byte(k)[len(prefix):])] = bytes.Clone(*v)
	}
	for k := range tx.deleted {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		delete(entries, string([]byte(k)[len(prefix):]))
	}

	for k, v := range entries {
		if !callback([]byte(k), v) {
			break
		}
	}
	return nil
}

// Set implements db.WriteTx.
func (tx *WriteTx) Set(k, v []byte) error {
	strKey := string(k)
	valCopy := bytes.Clone(v)
	tx.writes[strKey] = &valCopy
	delete(tx.deleted, strKey)
	tx.batch.Put(k, v)
	return nil
}

// Delete implements db.WriteTx.
func (tx *WriteTx) Delete(k []byte) error {
	strKey := string(k)
	delete(tx.writes, strKey)
	tx.deleted[strKey] = true
	tx.batch.Delete(k)
	return nil
}

// Apply merges another leveldb WriteTx's staged writes into this one.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	otherTx, ok := db.UnwrapWriteTx(other).(*WriteTx)
	if !ok {
		return fmt.Errorf("leveldb WriteTx.Apply: incompatible transaction type")
	}
	for k, v := range otherTx.writes {
		if err := tx.Set([]byte(k), *v); err != nil {
			return err
		}
	}
	for k := range otherTx.deleted {
		if err := tx.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

// Commit atomically applies the staged batch. goleveldb has no optimistic
// conflict detection, so Commit never returns db.ErrConflict.
func (tx *WriteTx) Commit() error {
	if tx.batch == nil {
		return fmt.Errorf("cannot commit leveldb tx: already committed or discarded")
	}
	err := tx.db.Write(tx.batch, nil)
	tx.batch = nil
	return err
}

// Discard abandons the transaction. Safe to call after Commit or twice.
func (tx *WriteTx) Discard() {
	tx.batch = nil
	tx.writes = nil
	tx.deleted = nil
}
