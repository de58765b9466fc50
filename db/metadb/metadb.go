// Package metadb selects and opens a concrete db.Database backend by name,
// the way the rest of the signer picks storage engines from configuration
// rather than importing a specific engine package directly.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/chainsigner/signer-core/db"
	"github.com/chainsigner/signer-core/db/inmemory"
	"github.com/chainsigner/signer-core/db/leveldb"
	"github.com/chainsigner/signer-core/db/pebbledb"
)

// New opens a db.Database of the given type rooted at dir. dir is ignored
// for db.TypeInMemory.
func New(typ db.Type, dir string) (db.Database, error) {
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		return pebbledb.New(opts)
	case db.TypeLevelDB:
		return leveldb.New(opts)
	case db.TypeInMemory:
		return inmemory.New(opts)
	default:
		return nil, fmt.Errorf("invalid db type: %q. Available types: %q %q %q",
			typ, db.TypePebble, db.TypeLevelDB, db.TypeInMemory)
	}
}

// ForTest returns the db.Type to use in tests, defaulting to pebble and
// overridable via the SIGNER_DB_TYPE environment variable.
func ForTest() db.Type {
	return db.Type(cmp.Or(os.Getenv("SIGNER_DB_TYPE"), string(db.TypePebble)))
}

// NewTest opens a throwaway database of the ForTest type in tb's temp dir,
// registering cleanup to close it.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := database.Close(); err != nil {
			tb.Error(err)
		}
	})
	return database
}
