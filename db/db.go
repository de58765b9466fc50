// Package db defines the storage-engine-agnostic key/value interface used by
// the signer's persistence layer. Concrete engines (pebbledb, leveldb,
// inmemory) implement Database and WriteTx; callers never depend on the
// underlying engine directly.
package db

import "errors"

// ErrKeyNotFound is returned by Get and WriteTx.Get when the requested key
// does not exist.
var ErrKeyNotFound = errors.New("key not found")

// ErrConflict is returned by WriteTx.Commit when an optimistic-concurrency
// backend detects that a key read during the transaction was modified by
// another writer before commit.
var ErrConflict = errors.New("conflict: key was modified since read")

// Type identifies a concrete storage engine for the metadb factory.
type Type string

const (
	TypePebble   Type = "pebble"
	TypeLevelDB  Type = "leveldb"
	TypeInMemory Type = "inmemory"
)

// Options configures a Database backend.
type Options struct {
	// Path is the filesystem directory the backend persists to. Ignored by
	// in-memory backends.
	Path string
}

// Database is a key/value store supporting point reads, prefix iteration,
// and atomic read-write transactions.
type Database interface {
	// Get returns the value stored for k, or ErrKeyNotFound if absent.
	Get(k []byte) ([]byte, error)
	// Iterate calls callback for every key with the given prefix, with the
	// prefix stripped from the key passed to callback. Iteration stops early
	// if callback returns false. Keys are visited in lexicographic order.
	Iterate(prefix []byte, callback func(k, v []byte) bool) error
	// WriteTx starts a new read-write transaction.
	WriteTx() WriteTx
	// Close releases resources held by the backend.
	Close() error
	// Compact reclaims space from deleted or overwritten keys. A no-op on
	// backends that don't need it.
	Compact() error
}

// WriteTx is an atomic read-write transaction over a Database. A WriteTx
// must be either committed or discarded exactly once.
type WriteTx interface {
	// Get returns the value for k as of the transaction's view, including any
	// writes already staged in this transaction.
	Get(k []byte) ([]byte, error)
	// Iterate walks keys with the given prefix, reflecting staged writes.
	Iterate(prefix []byte, callback func(k, v []byte) bool) error
	// Set stages a write of v for k.
	Set(k, v []byte) error
	// Delete stages removal of k.
	Delete(k []byte) error
	// Apply merges another transaction's staged writes into this one. The
	// other transaction must be of the same concrete type.
	Apply(other WriteTx) error
	// Commit atomically applies all staged writes. On an optimistic backend
	// this can return ErrConflict, in which case the caller should retry.
	Commit() error
	// Discard abandons the transaction without applying its writes. Safe to
	// call after Commit or more than once.
	Discard()
}

// UnwrapWriteTx returns tx unchanged; it exists so engine packages can type
// assert a WriteTx down to their own concrete type without callers reaching
// into engine internals directly.
func UnwrapWriteTx(tx WriteTx) WriteTx {
	return tx
}
