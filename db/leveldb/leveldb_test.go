package leveldb

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/chainsigner/signer-core/db"
	"github.com/chainsigner/signer-core/db/internal/dbtest"
	"github.com/chainsigner/signer-core/db/prefixeddb"
)

func TestWriteTx(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { _ = database.Close() })

	dbtest.TestWriteTx(t, database)
}

func TestIterate(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { _ = database.Close() })

	dbtest.TestIterate(t, database)
}

func TestWriteTxApply(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { _ = database.Close() })

	dbtest.TestWriteTxApply(t, database)
}

func TestWriteTxApplyPrefixed(t *testing.T) {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { _ = database.Close() })

	prefix := []byte("one")
	dbWithPrefix := prefixeddb.NewPrefixedDatabase(database, prefix)

	dbtest.TestWriteTxApplyPrefixed(t, database, dbWithPrefix)
}

func TestHas(t *testing.T) {
	c := qt.New(t)

	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	t.Cleanup(func() { _ = database.Close() })

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
