// Package classify implements the Error Classifier: mapping a chain-RPC or
// signing error into one of a fixed set of categories that drive retry and
// DLQ decisions. Grounded on web3/rpc.ParseError/IsPermanentError plus
// ethers-style message substring matching.
package classify

import (
	"errors"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/chainsigner/signer-core/web3/rpc"
)

// Category is one of the fixed error classes the spec's retry/DLQ policy
// keys off.
type Category string

const (
	CategoryNetwork                Category = "NETWORK"
	CategoryTimeout                Category = "TIMEOUT"
	CategoryNonceTooLow            Category = "NONCE_TOO_LOW"
	CategoryNonceTooHigh           Category = "NONCE_TOO_HIGH"
	CategoryInsufficientFunds      Category = "INSUFFICIENT_FUNDS"
	CategoryGasPriceTooLow         Category = "GAS_PRICE_TOO_LOW"
	CategoryGasLimitExceeded       Category = "GAS_LIMIT_EXCEEDED"
	CategoryReplacementUnderpriced Category = "REPLACEMENT_UNDERPRICED"
	CategoryExecutionReverted      Category = "EXECUTION_REVERTED"
	CategoryOutOfGas               Category = "OUT_OF_GAS"
	CategoryInvalidTransaction     Category = "INVALID_TRANSACTION"
	CategoryUnknown                Category = "UNKNOWN"
)

// Classification is the Error Classifier's verdict on one error.
type Classification struct {
	Category Category
	Code     int
	Message  string
	Details  string
}

// permanent is the set of categories the DLQ Pipeline and the worker's
// batch-revert logic treat as immediately fatal: no retry, straight to a
// terminal FAILED state (and, for queue messages, straight to the DLQ).
var permanent = map[Category]bool{
	CategoryInsufficientFunds:  true,
	CategoryInvalidTransaction: true,
	CategoryExecutionReverted:  true,
	CategoryUnknown:            true,
}

// IsPermanent reports whether cat should never be retried.
func IsPermanent(cat Category) bool { return permanent[cat] }

// substringRules maps a lowercase message fragment to its category, checked
// in order so more specific fragments can be listed before general ones.
var substringRules = []struct {
	fragment string
	category Category
}{
	{"nonce too low", CategoryNonceTooLow},
	{"nonce too high", CategoryNonceTooHigh},
	{"insufficient funds", CategoryInsufficientFunds},
	{"max fee per gas less than block base fee", CategoryGasPriceTooLow},
	{"gas price too low", CategoryGasPriceTooLow},
	{"gas limit exceeds block gas limit", CategoryGasLimitExceeded},
	{"gas limit too low", CategoryGasLimitExceeded},
	{"intrinsic gas too low", CategoryGasLimitExceeded},
	{"replacement transaction underpriced", CategoryReplacementUnderpriced},
	{"already known", CategoryReplacementUnderpriced},
	{"execution reverted", CategoryExecutionReverted},
	{"out of gas", CategoryOutOfGas},
	{"invalid sender", CategoryInvalidTransaction},
	{"invalid transaction", CategoryInvalidTransaction},
	{"malformed transaction", CategoryInvalidTransaction},
	{"timeout", CategoryTimeout},
	{"deadline exceeded", CategoryTimeout},
	{"connection refused", CategoryNetwork},
	{"no such host", CategoryNetwork},
	{"eof", CategoryNetwork},
	{"context canceled", CategoryNetwork},
}

// jsonRPCCodeRules maps standard/ethereum JSON-RPC error codes to a
// category, used as a last resort when no substring rule matched.
var jsonRPCCodeRules = map[int]Category{
	-32000: CategoryNetwork, // generic server error, e.g. transient node issue
	-32003: CategoryInsufficientFunds,
	-32010: CategoryInvalidTransaction,
}

// Classify returns the Error Classifier's verdict on err, trying the RPC
// layer's permanent-error check (execution reverted) first, then message
// substring matches, then JSON-RPC numeric codes, in that order.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown}
	}

	if rpc.IsPermanentError(err) {
		return Classification{Category: CategoryExecutionReverted, Message: err.Error()}
	}

	lower := strings.ToLower(err.Error())
	for _, rule := range substringRules {
		if strings.Contains(lower, rule.fragment) {
			return Classification{Category: rule.category, Message: err.Error()}
		}
	}

	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		if cat, ok := jsonRPCCodeRules[rpcErr.ErrorCode()]; ok {
			return Classification{Category: cat, Code: rpcErr.ErrorCode(), Message: err.Error()}
		}
	}
	if parsed := rpc.ParseError(err); parsed != nil && parsed.Code != 0 {
		if cat, ok := jsonRPCCodeRules[parsed.Code]; ok {
			return Classification{Category: cat, Code: parsed.Code, Message: err.Error()}
		}
	}

	return Classification{Category: CategoryUnknown, Message: err.Error()}
}
