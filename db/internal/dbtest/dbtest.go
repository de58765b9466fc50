// Package dbtest holds a shared conformance suite run against every
// db.Database backend (pebbledb, leveldb, inmemory) so engine-specific test
// files stay short.
package dbtest

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/chainsigner/signer-core/db"
)

// TestWriteTx exercises Set/Get/Delete/Commit semantics common to every
// backend.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("foo"), []byte("bar")), qt.IsNil)
	v, err := tx.Get([]byte("foo"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "bar")
	c.Assert(tx.Commit(), qt.IsNil)

	v, err = database.Get([]byte("foo"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "bar")

	tx = database.WriteTx()
	c.Assert(tx.Delete([]byte("foo")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	_, err = database.Get([]byte("foo"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}

// TestIterate checks prefix iteration returns every matching key with the
// prefix stripped, in lexicographic order.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("a/1"), []byte("1")), qt.IsNil)
	c.Assert(tx.Set([]byte("a/2"), []byte("2")), qt.IsNil)
	c.Assert(tx.Set([]byte("b/1"), []byte("3")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	var got []string
	err := database.Iterate([]byte("a/"), func(k, v []byte) bool {
		got = append(got, string(k)+"="+string(v))
		return true
	})
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"1=1", "2=2"})
}

// TestWriteTxApply checks that Apply merges a second transaction's writes
// into the first before commit.
func TestWriteTxApply(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx1 := database.WriteTx()
	c.Assert(tx1.Set([]byte("k1"), []byte("v1")), qt.IsNil)

	tx2 := database.WriteTx()
	c.Assert(tx2.Set([]byte("k2"), []byte("v2")), qt.IsNil)

	c.Assert(tx1.Apply(tx2), qt.IsNil)
	c.Assert(tx1.Commit(), qt.IsNil)

	v, err := database.Get([]byte("k1"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "v1")

	v, err = database.Get([]byte("k2"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "v2")
}

// TestWriteTxApplyPrefixed checks that a key committed through a prefixed view
// of database is readable through that view and not through the unprefixed
// database. It does not call Apply.
func TestWriteTxApplyPrefixed(t *testing.T, database db.Database, prefixed db.Database) {
	c := qt.New(t)

	ptx := prefixed.WriteTx()
	c.Assert(ptx.Set([]byte("k1"), []byte("v1")), qt.IsNil)
	c.Assert(ptx.Commit(), qt.IsNil)

	v, err := prefixed.Get([]byte("k1"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "v1")

	// the same key is invisible through the unprefixed database.
	_, err = database.Get([]byte("k1"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}
