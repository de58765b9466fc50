package tokens

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStaticCatalog(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	cat := NewStaticCatalog()
	cat.RegisterNative("polygon", "testnet", Info{Decimals: 18, Symbol: "MATIC"})
	cat.RegisterToken("polygon", "testnet", "0xC2132D05D31c914a87C6611C10748AEb04B58e8F", Info{Decimals: 6, Symbol: "USDT"})

	dec, err := cat.Decimals(ctx, "polygon", "testnet", "")
	c.Assert(err, qt.IsNil)
	c.Assert(dec, qt.Equals, uint8(18))

	// Lookup is case-insensitive on the address.
	dec, err = cat.Decimals(ctx, "polygon", "testnet", "0xc2132d05d31c914a87c6611c10748aeb04b58e8f")
	c.Assert(err, qt.IsNil)
	c.Assert(dec, qt.Equals, uint8(6))

	sym, err := cat.Symbol(ctx, "polygon", "testnet", "0xc2132d05d31c914a87c6611c10748aeb04b58e8f")
	c.Assert(err, qt.IsNil)
	c.Assert(sym, qt.Equals, "USDT")

	_, err = cat.Decimals(ctx, "polygon", "testnet", "0xdeadbeef00000000000000000000000000000000")
	c.Assert(err, qt.IsNotNil)
}

func TestCachedLookup(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	cat := NewStaticCatalog()
	cat.RegisterToken("ethereum", "mainnet", "0xdAC17F958D2ee523a2206206994597C13D831ec7", Info{Decimals: 6, Symbol: "USDT"})

	cached, err := NewCachedLookup(cat, 16)
	c.Assert(err, qt.IsNil)

	for range 3 {
		dec, err := cached.Decimals(ctx, "ethereum", "mainnet", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
		c.Assert(err, qt.IsNil)
		c.Assert(dec, qt.Equals, uint8(6))
	}
}
