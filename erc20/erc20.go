// Package erc20 encodes and decodes the two ERC-20 methods the signing
// pipeline needs: transfer (to build withdrawal calldata) and allowance
// (for the best-effort pre-batch check).
package erc20

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TransferSelector is the first 4 bytes of keccak256("transfer(address,uint256)").
const TransferSelector = "0xa9059cbb"

const erc20ABI = `[
	{
		"type": "function",
		"name": "transfer",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "allowance",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	}
]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("erc20: parse embedded ABI: %v", err))
	}
}

// EncodeTransfer returns the calldata for transfer(to, amount).
func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := parsedABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	return data, nil
}

// EncodeAllowance returns the calldata for allowance(owner, spender).
func EncodeAllowance(owner, spender common.Address) ([]byte, error) {
	data, err := parsedABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("encode allowance: %w", err)
	}
	return data, nil
}

// DecodeAllowance decodes the return value of an allowance(...) call.
func DecodeAllowance(returnData []byte) (*big.Int, error) {
	outputs, err := parsedABI.Methods["allowance"].Outputs.Unpack(returnData)
	if err != nil {
		return nil, fmt.Errorf("decode allowance: %w", err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("decode allowance: expected 1 output, got %d", len(outputs))
	}
	amount, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode allowance: unexpected output type %T", outputs[0])
	}
	return amount, nil
}
