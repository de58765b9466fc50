package erc20

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

func TestEncodeTransfer(t *testing.T) {
	c := qt.New(t)

	to := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438fAEd")
	amount := big.NewInt(1_000_000)

	data, err := EncodeTransfer(to, amount)
	c.Assert(err, qt.IsNil)
	c.Assert(strings.HasPrefix("0x"+hex.EncodeToString(data), TransferSelector), qt.IsTrue)
	// selector (4) + address (32) + amount (32)
	c.Assert(len(data), qt.Equals, 68)
}

func TestEncodeDecodeAllowance(t *testing.T) {
	c := qt.New(t)

	owner := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438fAEd")
	spender := common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

	data, err := EncodeAllowance(owner, spender)
	c.Assert(err, qt.IsNil)
	c.Assert(len(data), qt.Equals, 68)

	packed, err := parsedABI.Methods["allowance"].Outputs.Pack(big.NewInt(5_000_000))
	c.Assert(err, qt.IsNil)

	amount, err := DecodeAllowance(packed)
	c.Assert(err, qt.IsNil)
	c.Assert(amount.String(), qt.Equals, "5000000")
}
