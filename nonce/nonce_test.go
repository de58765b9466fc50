package nonce

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMemoryCoordinatorMonotonic(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	co := NewMemoryCoordinator()

	c.Assert(co.Initialize(ctx, "0xSigner", "polygon", "testnet", 10), qt.IsNil)

	var issued []uint64
	for range 5 {
		n, err := co.GetAndIncrement(ctx, "0xSigner", "polygon", "testnet")
		c.Assert(err, qt.IsNil)
		issued = append(issued, n)
	}
	c.Assert(issued, qt.DeepEquals, []uint64{10, 11, 12, 13, 14})
}

func TestMemoryCoordinatorReusePoolDrainsFirst(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	co := NewMemoryCoordinator()

	c.Assert(co.Initialize(ctx, "0xSigner", "polygon", "testnet", 10), qt.IsNil)

	n, err := co.GetAndIncrement(ctx, "0xSigner", "polygon", "testnet")
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, uint64(10))

	// A subsequent attempt fails after allocating nonce 11; it is returned.
	n, err = co.GetAndIncrement(ctx, "0xSigner", "polygon", "testnet")
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, uint64(11))
	c.Assert(co.ReturnNonce(ctx, "0xSigner", "polygon", "testnet", 11), qt.IsNil)

	// The next issuance must reuse 11, not advance to 12.
	n, err = co.GetAndIncrement(ctx, "0xSigner", "polygon", "testnet")
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, uint64(11))

	// Pool now empty: next issuance resumes the monotonic counter at 12.
	n, err = co.GetAndIncrement(ctx, "0xSigner", "polygon", "testnet")
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, uint64(12))
}

func TestMemoryCoordinatorDuplicateMarker(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	co := NewMemoryCoordinator()

	dup, err := co.IsNonceDuplicate(ctx, "0xSigner", "polygon", "testnet", 5)
	c.Assert(err, qt.IsNil)
	c.Assert(dup, qt.IsFalse)

	dup, err = co.IsNonceDuplicate(ctx, "0xSigner", "polygon", "testnet", 5)
	c.Assert(err, qt.IsNil)
	c.Assert(dup, qt.IsTrue)
}

func TestMemoryCoordinatorSetAndGet(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	co := NewMemoryCoordinator()

	_, ok, err := co.Get(ctx, "0xSigner", "eth", "mainnet")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	c.Assert(co.Set(ctx, "0xSigner", "eth", "mainnet", 42), qt.IsNil)
	n, ok, err := co.Get(ctx, "0xSigner", "eth", "mainnet")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(n, qt.Equals, uint64(42))

	c.Assert(co.Clear(ctx, "0xSigner", "eth", "mainnet"), qt.IsNil)
	_, ok, err = co.Get(ctx, "0xSigner", "eth", "mainnet")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}
