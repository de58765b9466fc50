// Package batch implements the Batch Planner: validating a set of same-chain
// transfers, encoding them as Multicall3 calls, estimating (or falling back
// on) their gas cost, and splitting them into gas-bounded groups when a
// single transaction would exceed the chain's block gas limit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/chainsigner/signer-core/chain"
	"github.com/chainsigner/signer-core/erc20"
	"github.com/chainsigner/signer-core/multicall3"
)

// addressPattern matches a 20-byte hex address, with or without EIP-55
// checksum casing; structural validation only, no checksum verification.
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

const (
	// MulticallOverhead is the fixed gas cost attributed to the aggregate3
	// dispatch itself, independent of the number of calls.
	MulticallOverhead uint64 = 35_000
	// BaseTransferGas is the fallback per-call cost when no RPC estimate or
	// learned sample is available.
	BaseTransferGas uint64 = 65_000
	// AdditionalGasPerCall is the marginal fallback cost of each call beyond
	// the first within a batch.
	AdditionalGasPerCall uint64 = 5_000
	// MaxBatchSize is the absolute cap on transfers in one batch, regardless
	// of how much gas headroom a chain's block limit leaves.
	MaxBatchSize = 100
	// totalBuffer is applied to a successful aggregate3 gas estimate.
	totalBufferNumerator   = 115
	totalBufferDenominator = 100
)

// Transfer is one ERC-20 withdrawal destined for a Multicall3 batch. Native
// transfers are never represented here: they always take the single-sign
// path.
type Transfer struct {
	TransactionID string
	To            common.Address
	Token         common.Address
	Amount        *big.Int
}

// BatchGroup is one gas-bounded subset of a split batch, in original order.
type BatchGroup struct {
	Calls        []multicall3.Call3
	Transfers    []Transfer
	EstimatedGas uint64
	TokenCounts  map[string]int
}

// PreparedBatch is the transient result of Plan: either a single group of
// calls, or (when the chain's gas limit forces it) several ordered groups.
type PreparedBatch struct {
	Calls               []multicall3.Call3
	EstimatedGasPerCall uint64
	TotalEstimatedGas   uint64
	BatchGroups         []BatchGroup
}

// InvalidBatch is a fatal, non-retryable validation failure.
type InvalidBatch struct {
	Reasons []string
}

func (e *InvalidBatch) Error() string {
	return fmt.Sprintf("invalid batch: %s", strings.Join(e.Reasons, "; "))
}

// ErrGasEstimationFailed is returned when both the RPC estimate and the
// fallback formula cannot produce a usable figure (practically: only when
// the batch is empty).
var ErrGasEstimationFailed = errors.New("gas estimation failed")

// Planner implements the Batch Planner for one ChainContext.
type Planner struct {
	chainCtx chain.ChainContext
	provider chain.Provider

	mtx            sync.Mutex
	learnedPerCall map[string]uint64 // lowercase token address -> EWMA gas/call
}

// NewPlanner returns a Planner bound to chainCtx and provider.
func NewPlanner(chainCtx chain.ChainContext, provider chain.Provider) *Planner {
	return &Planner{
		chainCtx:       chainCtx,
		provider:       provider,
		learnedPerCall: make(map[string]uint64),
	}
}

// Validate rejects duplicate transaction ids, malformed addresses, and
// non-positive amounts. It never performs an RPC call.
func Validate(transfers []Transfer) error {
	var reasons []string
	seen := make(map[string]bool, len(transfers))
	for _, t := range transfers {
		if seen[t.TransactionID] {
			reasons = append(reasons, fmt.Sprintf("duplicate transaction id %q", t.TransactionID))
		}
		seen[t.TransactionID] = true

		if !addressPattern.MatchString(t.To.Hex()) {
			reasons = append(reasons, fmt.Sprintf("%s: malformed destination address", t.TransactionID))
		}
		if !addressPattern.MatchString(t.Token.Hex()) || t.Token == (common.Address{}) {
			reasons = append(reasons, fmt.Sprintf("%s: malformed or native token address (batches are ERC-20 only)", t.TransactionID))
		}
		if t.Amount == nil || t.Amount.Sign() <= 0 {
			reasons = append(reasons, fmt.Sprintf("%s: amount must be a positive integer", t.TransactionID))
		}
	}
	if len(reasons) > 0 {
		return &InvalidBatch{Reasons: reasons}
	}
	return nil
}

// EncodeCalls converts each transfer into a Multicall3 Call3 invoking
// ERC20.transfer(to, amount) against the token contract, with
// allowFailure=false: one bad transfer must abort the whole batch rather
// than silently short the beneficiary.
func EncodeCalls(transfers []Transfer) ([]multicall3.Call3, error) {
	calls := make([]multicall3.Call3, len(transfers))
	for i, t := range transfers {
		data, err := erc20.EncodeTransfer(t.To, t.Amount)
		if err != nil {
			return nil, fmt.Errorf("encode transfer %s: %w", t.TransactionID, err)
		}
		calls[i] = multicall3.Call3{Target: t.Token, AllowFailure: false, CallData: data}
	}
	return calls, nil
}

// discount returns the diminishing-marginal-cost factor for a call at
// position idx (0-based) within a group of the given shape: min(0.15, 0.005*idx).
func discount(idx int) (num, den int64) {
	// d = min(0.15, 0.005*idx) expressed as a rational to stay in integer
	// math: 0.005*idx = idx/200; 0.15 = 30/200.
	d := idx
	if d > 30 {
		d = 30
	}
	return int64(200 - d), 200
}

func applyDiscount(gas uint64, idx int) uint64 {
	num, den := discount(idx)
	return uint64(int64(gas) * num / den)
}

// estimateViaRPC calls aggregate3.estimateGas against the chain and returns
// the buffered total plus the discounted per-call figure, recording a
// learned sample for each distinct token in the batch.
func (p *Planner) estimateViaRPC(ctx context.Context, transfers []Transfer, calls []multicall3.Call3) (perCall, total uint64, err error) {
	data, err := multicall3.EncodeAggregate3(calls)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrGasEstimationFailed, err)
	}
	msg := ethereum.CallMsg{To: &p.chainCtx.Multicall3Address, Data: data}
	raw, err := p.provider.EstimateGas(ctx, msg)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrGasEstimationFailed, err)
	}

	n := len(calls)
	basePerCall := raw / uint64(n)
	d := min(150, 5*n) // in thousandths: min(0.15,0.005n) * 1000
	adjustedPerCall := basePerCall * uint64(1000-d) / 1000
	bufferedTotal := raw * totalBufferNumerator / totalBufferDenominator

	p.learn(transfers, adjustedPerCall)
	return adjustedPerCall, bufferedTotal, nil
}

// learn updates the EWMA per-token learned gas cost: new = (4*old+sample)/5.
func (p *Planner) learn(transfers []Transfer, sample uint64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, t := range transfers {
		key := strings.ToLower(t.Token.Hex())
		old, ok := p.learnedPerCall[key]
		if !ok {
			p.learnedPerCall[key] = sample
			continue
		}
		p.learnedPerCall[key] = (4*old + sample) / 5
	}
}

// perCallFallback returns the best available per-call estimate without an
// RPC round trip: the highest learned EWMA among the batch's tokens, or the
// base transfer cost if nothing has been learned yet.
func (p *Planner) perCallFallback(transfers []Transfer) uint64 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	best := uint64(0)
	for _, t := range transfers {
		if v, ok := p.learnedPerCall[strings.ToLower(t.Token.Hex())]; ok && v > best {
			best = v
		}
	}
	if best == 0 {
		return BaseTransferGas
	}
	return best
}

// fallbackTotal implements: total = multicallOverhead + perCall*n +
// additionalPerCall*(n-1).
func fallbackTotal(perCall uint64, n int) uint64 {
	if n == 0 {
		return 0
	}
	return MulticallOverhead + perCall*uint64(n) + AdditionalGasPerCall*uint64(n-1)
}

// OptimalBatchSize returns the largest batch size (capped at MaxBatchSize)
// whose diminishing-cost fallback total stays within maxGas for the given
// per-call base estimate.
func OptimalBatchSize(perCall, maxGas uint64) int {
	total := MulticallOverhead
	for n := 1; n <= MaxBatchSize; n++ {
		callGas := applyDiscount(perCall, n-1)
		total += callGas
		if total > maxGas {
			return n - 1
		}
	}
	return MaxBatchSize
}

// split partitions transfers (with their matching calls) into groups whose
// running gas total never exceeds maxGas, preserving input order, and
// applying the position-within-group discount to each call's own gas cost.
func split(transfers []Transfer, calls []multicall3.Call3, perCall, maxGas uint64) []BatchGroup {
	var groups []BatchGroup
	var curTransfers []Transfer
	var curCalls []multicall3.Call3
	curGas := MulticallOverhead
	curCounts := map[string]int{}

	flush := func() {
		if len(curTransfers) == 0 {
			return
		}
		groups = append(groups, BatchGroup{
			Calls:        curCalls,
			Transfers:    curTransfers,
			EstimatedGas: curGas,
			TokenCounts:  curCounts,
		})
		curTransfers = nil
		curCalls = nil
		curGas = MulticallOverhead
		curCounts = map[string]int{}
	}

	for i, t := range transfers {
		idx := len(curTransfers)
		callGas := applyDiscount(perCall, idx)
		if len(curTransfers) > 0 && curGas+callGas > maxGas {
			flush()
			idx = 0
			callGas = applyDiscount(perCall, idx)
		}
		curTransfers = append(curTransfers, t)
		curCalls = append(curCalls, calls[i])
		curGas += callGas
		curCounts[strings.ToLower(t.Token.Hex())]++
	}
	flush()
	return groups
}

// Plan validates, encodes, estimates (with fallback), and splits transfers
// if needed, in that order, never allocating a nonce.
func (p *Planner) Plan(ctx context.Context, transfers []Transfer) (*PreparedBatch, error) {
	if len(transfers) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrGasEstimationFailed)
	}
	if err := Validate(transfers); err != nil {
		return nil, err
	}
	calls, err := EncodeCalls(transfers)
	if err != nil {
		return nil, err
	}

	perCall, total, err := p.estimateViaRPC(ctx, transfers, calls)
	if err != nil {
		perCall = p.perCallFallback(transfers)
		total = fallbackTotal(perCall, len(transfers))
	}

	maxGas := p.chainCtx.MaxBatchGas()
	if total <= maxGas {
		return &PreparedBatch{
			Calls:               calls,
			EstimatedGasPerCall: perCall,
			TotalEstimatedGas:   total,
			BatchGroups:         nil,
		}, nil
	}

	// Size the groups on each call's share of the total that exceeded maxGas,
	// not on the discounted per-call figure, which would fit that same batch
	// back into a single group.
	groups := split(transfers, calls, total/uint64(len(transfers)), maxGas)
	return &PreparedBatch{
		Calls:               calls,
		EstimatedGasPerCall: perCall,
		TotalEstimatedGas:   total,
		BatchGroups:         groups,
	}, nil
}
