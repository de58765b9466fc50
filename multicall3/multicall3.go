// Package multicall3 encodes and decodes calls against the canonical
// Multicall3 contract, used by the Batch Planner to aggregate several
// ERC-20 transfers into one on-chain transaction.
package multicall3

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Address is the canonical, chain-independent Multicall3 deployment address.
// Most EVM chains have it at this exact address; ChainContext.Multicall3Address
// allows an override for chains that don't.
var Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// aggregate3Selector is the first 4 bytes of
// keccak256("aggregate3((address,bool,bytes)[])").
const aggregate3Selector = "0x82ad56cb"

// Call3 mirrors the Solidity struct Multicall3 expects: a target contract,
// whether a revert should be tolerated, and the calldata to send it.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result mirrors Multicall3's per-call return value.
type Result struct {
	Success    bool
	ReturnData []byte
}

const multicall3ABI = `[
	{
		"type": "function",
		"name": "aggregate3",
		"inputs": [
			{
				"name": "calls",
				"type": "tuple[]",
				"components": [
					{"name": "target", "type": "address"},
					{"name": "allowFailure", "type": "bool"},
					{"name": "callData", "type": "bytes"}
				]
			}
		],
		"outputs": [
			{
				"name": "returnData",
				"type": "tuple[]",
				"components": [
					{"name": "success", "type": "bool"},
					{"name": "returnData", "type": "bytes"}
				]
			}
		],
		"stateMutability": "payable"
	}
]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(multicall3ABI))
	if err != nil {
		panic(fmt.Sprintf("multicall3: parse embedded ABI: %v", err))
	}
}

// abiCall3 matches the anonymous tuple shape go-ethereum's abi package
// expects for encoding/decoding "calls".
type abiCall3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type abiResult struct {
	Success    bool
	ReturnData []byte
}

// EncodeAggregate3 returns the calldata for aggregate3(calls).
func EncodeAggregate3(calls []Call3) ([]byte, error) {
	converted := make([]abiCall3, len(calls))
	for i, c := range calls {
		converted[i] = abiCall3{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.CallData}
	}
	data, err := parsedABI.Pack("aggregate3", converted)
	if err != nil {
		return nil, fmt.Errorf("encode aggregate3: %w", err)
	}
	return data, nil
}

// DecodeAggregate3Result decodes the returnData from an aggregate3 call (or
// eth_call/estimateGas simulation) into per-call results.
func DecodeAggregate3Result(returnData []byte) ([]Result, error) {
	outputs, err := parsedABI.Methods["aggregate3"].Outputs.Unpack(returnData)
	if err != nil {
		return nil, fmt.Errorf("decode aggregate3 result: %w", err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("decode aggregate3 result: expected 1 output, got %d", len(outputs))
	}
	// Unpack yields a slice of an anonymous struct type; Copy converts it
	// field by field into the named abiResult.
	var raw []abiResult
	if err := parsedABI.Methods["aggregate3"].Outputs.Copy(&raw, outputs); err != nil {
		return nil, fmt.Errorf("decode aggregate3 result: unexpected output type %T: %w", outputs[0], err)
	}
	results := make([]Result, len(raw))
	for i, r := range raw {
		results[i] = Result{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// Selector returns the 4-byte aggregate3 function selector, for callers that
// need to recognize a Multicall3 invocation without fully decoding it.
func Selector() string { return aggregate3Selector }
