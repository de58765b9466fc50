package inmemory

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/chainsigner/signer-core/db"
	"github.com/chainsigner/signer-core/db/internal/dbtest"
	"github.com/chainsigner/signer-core/db/prefixeddb"
)

func TestWriteTx(t *testing.T) {
	database, err := New(db.Options{})
	qt.Assert(t, err, qt.IsNil)

	dbtest.TestWriteTx(t, database)
}

func TestIterate(t *testing.T) {
	database, err := New(db.Options{})
	qt.Assert(t, err, qt.IsNil)

	dbtest.TestIterate(t, database)
}

func TestWriteTxApply(t *testing.T) {
	database, err := New(db.Options{})
	qt.Assert(t, err, qt.IsNil)

	dbtest.TestWriteTxApply(t, database)
}

func TestWriteTxApplyPrefixed(t *testing.T) {
	database, err := New(db.Options{})
	qt.Assert(t, err, qt.IsNil)

	prefix := []byte("one")
	dbWithPrefix := prefixeddb.NewPrefixedDatabase(database, prefix)

	dbtest.TestWriteTxApplyPrefixed(t, database, dbWithPrefix)
}

// TestConflict checks that a stale read causes Commit to report
// db.ErrConflict, the behavior that distinguishes this backend's WriteTx
// from pebbledb's plain batch semantics.
func TestConflict(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{})
	c.Assert(err, qt.IsNil)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("k"), []byte("v0")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	tx1 := database.WriteTx()
	_, err = tx1.Get([]byte("k"))
	c.Assert(err, qt.IsNil)

	tx2 := database.WriteTx()
	c.Assert(tx2.Set([]byte("k"), []byte("v1")), qt.IsNil)
	c.Assert(tx2.Commit(), qt.IsNil)

	c.Assert(tx1.Set([]byte("k"), []byte("v2")), qt.IsNil)
	c.Assert(tx1.Commit(), qt.Equals, db.ErrConflict)
}

func TestHas(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{})
	c.Assert(err, qt.IsNil)

	ok, err := database.Has([]byte("missing"))
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("present"), []byte("v")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	ok, err = database.Has([]byte("present"))
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}
