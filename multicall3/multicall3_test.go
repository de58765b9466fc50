package multicall3

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/chainsigner/signer-core/erc20"
)

func TestEncodeAggregate3(t *testing.T) {
	c := qt.New(t)

	to := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438fAEd")
	amount, ok := new(big.Int).SetString("1000000", 10)
	c.Assert(ok, qt.IsTrue)

	callData, err := erc20.EncodeTransfer(to, amount)
	c.Assert(err, qt.IsNil)

	calls := []Call3{
		{Target: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), AllowFailure: false, CallData: callData},
	}
	data, err := EncodeAggregate3(calls)
	c.Assert(err, qt.IsNil)
	c.Assert(strings.HasPrefix("0x"+hex.EncodeToString(data), Selector()), qt.IsTrue)
}

func TestDecodeAggregate3Result(t *testing.T) {
	c := qt.New(t)

	// Round-trip via the packed-output ABI encoder so the test doesn't
	// hand-construct raw bytes.
	outputs, err := parsedABI.Methods["aggregate3"].Outputs.Pack([]abiResult{
		{Success: true, ReturnData: []byte{0x01}},
		{Success: false, ReturnData: []byte{}},
	})
	c.Assert(err, qt.IsNil)

	results, err := DecodeAggregate3Result(outputs)
	c.Assert(err, qt.IsNil)
	c.Assert(len(results), qt.Equals, 2)
	c.Assert(results[0].Success, qt.IsTrue)
	c.Assert(results[1].Success, qt.IsFalse)
}
