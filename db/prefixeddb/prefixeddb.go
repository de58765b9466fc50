// Package prefixeddb namespaces a db.Database under a fixed key prefix, so a
// single embedded engine instance can back several logical tables (requests,
// batches, signed transactions, nonce slots) without key collisions.
package prefixeddb

import (
	"bytes"

	"github.com/chainsigner/signer-core/db"
)

// PrefixedDatabase wraps a db.Database, transparently prepending prefix to
// every key written or read through it.
type PrefixedDatabase struct {
	parent db.Database
	prefix []byte
}

var _ db.Database = (*PrefixedDatabase)(nil)

// NewPrefixedDatabase returns a PrefixedDatabase that namespaces all keys
// under prefix within parent.
func NewPrefixedDatabase(parent db.Database, prefix []byte) *PrefixedDatabase {
	return &PrefixedDatabase{parent: parent, prefix: bytes.Clone(prefix)}
}

func (d *PrefixedDatabase) fullKey(k []byte) []byte {
	return append(append([]byte{}, d.prefix...), k...)
}

// Get implements db.Database.
func (d *PrefixedDatabase) Get(k []byte) ([]byte, error) {
	return d.parent.Get(d.fullKey(k))
}

// Iterate implements db.Database.
func (d *PrefixedDatabase) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return d.parent.Iterate(d.fullKey(prefix), callback)
}

// WriteTx implements db.Database.
func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return &prefixedWriteTx{parent: d.parent.WriteTx(), prefix: d.prefix}
}

// Close implements db.Database.
func (d *PrefixedDatabase) Close() error {
	return d.parent.Close()
}

// Compact implements db.Database.
func (d *PrefixedDatabase) Compact() error {
	return d.parent.Compact()
}

type prefixedWriteTx struct {
	parent db.WriteTx
	prefix []byte
}

var _ db.WriteTx = (*prefixedWriteTx)(nil)

func (tx *prefixedWriteTx) fullKey(k []byte) []byte {
	return append(append([]byte{}, tx.prefix...), k...)
}

func (tx *prefixedWriteTx) Get(k []byte) ([]byte, error) {
	return tx.parent.Get(tx.fullKey(k))
}

func (tx *prefixedWriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return tx.parent.Iterate(tx.fullKey(prefix), callback)
}

func (tx *prefixedWriteTx) Set(k, v []byte) error {
	return tx.parent.Set(tx.fullKey(k), v)
}

func (tx *prefixedWriteTx) Delete(k []byte) error {
	return tx.parent.Delete(tx.fullKey(k))
}

// Apply merges other into tx. other must be a WriteTx obtained from a
// PrefixedDatabase sharing the same prefix, or from the same underlying
// parent Database (in which case keys are assumed already fully qualified).
func (tx *prefixedWriteTx) Apply(other db.WriteTx) error {
	if o, ok := other.(*prefixedWriteTx); ok {
		return tx.parent.Apply(o.parent)
	}
	return tx.parent.Apply(other)
}

func (tx *prefixedWriteTx) Commit() error {
	return tx.parent.Commit()
}

func (tx *prefixedWriteTx) Discard() {
	tx.parent.Discard()
}
