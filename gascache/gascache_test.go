package gascache

import (
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/chainsigner/signer-core/chain"
)

func TestCacheTTL(t *testing.T) {
	c := qt.New(t)

	cache := New()
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, ok := cache.Get()
	c.Assert(ok, qt.IsFalse)

	cache.Set(chain.FeeData{MaxFeePerGas: big.NewInt(30_000_000_000), MaxPriorityFeePerGas: big.NewInt(1_500_000_000)})
	fees, ok := cache.Get()
	c.Assert(ok, qt.IsTrue)
	c.Assert(fees.MaxFeePerGas.String(), qt.Equals, "30000000000")

	// Still within TTL.
	cache.now = func() time.Time { return now.Add(29 * time.Second) }
	_, ok = cache.Get()
	c.Assert(ok, qt.IsTrue)

	// Past TTL: implicit eviction.
	cache.now = func() time.Time { return now.Add(31 * time.Second) }
	_, ok = cache.Get()
	c.Assert(ok, qt.IsFalse)
}

func TestBuffered(t *testing.T) {
	c := qt.New(t)

	fees := chain.FeeData{MaxFeePerGas: big.NewInt(30_000_000_000), MaxPriorityFeePerGas: big.NewInt(1_500_000_000)}
	buffered := Buffered(fees)
	c.Assert(buffered.MaxFeePerGas.String(), qt.Equals, "33000000000")
	c.Assert(buffered.MaxPriorityFeePerGas.String(), qt.Equals, "1650000000")
}

func TestMultiChain(t *testing.T) {
	c := qt.New(t)

	mc, err := NewMultiChain(4)
	c.Assert(err, qt.IsNil)

	a := mc.For("polygon:testnet")
	b := mc.For("polygon:testnet")
	c.Assert(a, qt.Equals, b)

	other := mc.For("ethereum:mainnet")
	c.Assert(other, qt.Not(qt.Equals), a)
}
