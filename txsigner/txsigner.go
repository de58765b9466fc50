// Package txsigner implements the Transaction Signer: builds and signs
// EIP-1559 (type-2) transactions for single withdrawals and Multicall3
// batches, coordinating the chain provider, nonce coordinator, gas cache,
// batch planner, token catalog, and secrets source. It is a one-shot
// build-and-sign path (no broadcast, no receipt wait: that is out of scope
// for this service).
package txsigner

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/chainsigner/signer-core/batch"
	"github.com/chainsigner/signer-core/chain"
	"github.com/chainsigner/signer-core/erc20"
	"github.com/chainsigner/signer-core/gascache"
	"github.com/chainsigner/signer-core/log"
	"github.com/chainsigner/signer-core/multicall3"
	"github.com/chainsigner/signer-core/nonce"
	"github.com/chainsigner/signer-core/secrets"
	"github.com/chainsigner/signer-core/store"
	"github.com/chainsigner/signer-core/tokens"
)

// GasLimitBufferNumerator/Denominator apply the 1.20x buffer the spec
// requires on a successful single-transfer gas estimate.
const (
	GasLimitBufferNumerator   = 120
	GasLimitBufferDenominator = 100
)

// ErrChainIDMismatch is returned from New when the configured ChainContext
// disagrees with what the RPC endpoint reports, catching a misconfigured
// RPC URL before any nonce or signature is issued.
var ErrChainIDMismatch = errors.New("configured chain id does not match rpc-reported chain id")

// SingleRequest is the input to SignSingle: one withdrawal, already past
// structural validation. Amount is the transfer amount in base units
// (the smallest token denomination), matching the wire format's amount
// field directly -- no decimal scaling is applied here.
type SingleRequest struct {
	RequestID    string
	ToAddress    string
	TokenAddress string // empty means native transfer
	Amount       *big.Int
}

// BatchRequest is the input to SignBatch: one planned group of ERC-20
// transfers sharing a batch id.
type BatchRequest struct {
	BatchID   string
	Transfers []batch.Transfer
}

// Signer implements the Transaction Signer for one (chain, network, signer)
// triple. One Signer per worker loop: it is not safe for two Signers to
// issue nonces against the same (signer, chain, network) slot concurrently,
// though the nonce coordinator itself serializes correctly within a process.
type Signer struct {
	chainCtx chain.ChainContext
	provider chain.Provider
	nonces   nonce.Coordinator
	gasCache *gascache.Cache
	planner  *batch.Planner
	tokens   tokens.Lookup

	address common.Address
	key     *ecdsa.PrivateKey
}

// New performs the Transaction Signer's init sequence: fetch the signing
// key, verify the configured chain id against what the RPC endpoint
// reports, query the current on-chain nonce, and seed the nonce
// coordinator. signerID identifies the key within secretsSource.
func New(
	ctx context.Context,
	signerID string,
	secretsSource secrets.Source,
	chainCtx chain.ChainContext,
	provider chain.Provider,
	nonces nonce.Coordinator,
	gasCache *gascache.Cache,
	planner *batch.Planner,
	tokenLookup tokens.Lookup,
) (*Signer, error) {
	key, err := secretsSource.PrivateKey(ctx, signerID)
	if err != nil {
		return nil, fmt.Errorf("fetch signing key for %s: %w", signerID, err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey)

	reportedID, err := provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch rpc chain id: %w", err)
	}
	if reportedID != chainCtx.ChainID {
		return nil, fmt.Errorf("%w: configured=%d rpc=%d", ErrChainIDMismatch, chainCtx.ChainID, reportedID)
	}

	networkNonce, err := provider.NonceAt(ctx, address, true)
	if err != nil {
		return nil, fmt.Errorf("fetch initial nonce: %w", err)
	}
	if err := nonces.Initialize(ctx, address.Hex(), chainCtx.Chain, chainCtx.Network, networkNonce); err != nil {
		return nil, fmt.Errorf("initialize nonce coordinator: %w", err)
	}

	return &Signer{
		chainCtx: chainCtx,
		provider: provider,
		nonces:   nonces,
		gasCache: gasCache,
		planner:  planner,
		tokens:   tokenLookup,
		address:  address,
		key:      key,
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address { return s.address }

// Close wipes the in-memory copy of the signing key. Call once the Signer
// is no longer needed (worker shutdown).
func (s *Signer) Close() {
	secrets.Wipe(s.key)
}

// normalizeAddress parses addr and reports whether it reflects a valid
// EIP-55 checksum. The returned common.Address is always usable
// (go-ethereum decodes hex case-insensitively); the bool only controls
// whether the caller should log a fallback warning.
func normalizeAddress(addr string) (common.Address, bool) {
	decoded := common.HexToAddress(addr)
	checksummed := decoded.Hex()
	return decoded, addr == checksummed || addr == strings.ToLower(addr)
}

// buildTransferFields resolves the to/value/data fields for one transfer,
// branching on whether tokenAddress is empty (native) or set (ERC-20).
func (s *Signer) buildTransferFields(ctx context.Context, toAddress, tokenAddress string, amount *big.Int) (to common.Address, value *big.Int, data []byte, err error) {
	to, validChecksum := normalizeAddress(toAddress)
	if !validChecksum {
		log.Warnw("destination address failed checksum validation, falling back to lowercase", "to", toAddress)
	}

	if tokenAddress == "" {
		return to, amount, nil, nil
	}

	tokenAddr, validTokenChecksum := normalizeAddress(tokenAddress)
	if !validTokenChecksum {
		log.Warnw("token address failed checksum validation, falling back to lowercase", "token", tokenAddress)
	}
	if _, err := s.tokens.Decimals(ctx, s.chainCtx.Chain, s.chainCtx.Network, tokenAddress); err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("look up token decimals: %w", err)
	}
	calldata, err := erc20.EncodeTransfer(to, amount)
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("encode transfer: %w", err)
	}
	return tokenAddr, big.NewInt(0), calldata, nil
}

// SignSingle builds and signs one withdrawal transaction: native or
// ERC-20, depending on req.TokenAddress. Gas is estimated before any nonce
// is allocated; on any failure after nonce allocation, the nonce is
// returned to the coordinator's reuse pool on a best-effort basis.
func (s *Signer) SignSingle(ctx context.Context, req SingleRequest) (*store.SignedTransaction, error) {
	to, value, data, err := s.buildTransferFields(ctx, req.ToAddress, req.TokenAddress, req.Amount)
	if err != nil {
		return nil, err
	}

	gasLimit, err := s.provider.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit = gasLimit * GasLimitBufferNumerator / GasLimitBufferDenominator

	n, err := s.nonces.GetAndIncrement(ctx, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network)
	if err != nil {
		return nil, fmt.Errorf("allocate nonce: %w", err)
	}
	if err := s.rejectDuplicateNonce(ctx, n); err != nil {
		return nil, err
	}

	signed, err := s.buildAndSign(ctx, n, &to, value, data, gasLimit)
	if err != nil {
		s.returnNonceBestEffort(ctx, n)
		return nil, err
	}

	return s.toSignedTransaction(signed, store.TxSingle, req.RequestID, "")
}

// SignBatch builds and signs one or more Multicall3 batch transactions for
// req.Transfers, sharing req.BatchID (suffixed "-k" when the planner must
// split the batch across several groups). Nonce reconciliation runs first;
// gas estimation (inside the planner) happens before any nonce is
// allocated. If the planner returns multiple groups, nonces are allocated
// and transactions signed sequentially in group order; a failure mid-
// sequence stops and returns the transactions signed so far alongside the
// error.
func (s *Signer) SignBatch(ctx context.Context, req BatchRequest) ([]*store.SignedTransaction, error) {
	s.reconcileNonce(ctx)

	s.checkAllowances(ctx, req.Transfers)

	prepared, err := s.planner.Plan(ctx, req.Transfers)
	if err != nil {
		return nil, err
	}

	if len(prepared.BatchGroups) == 0 {
		n, err := s.nonces.GetAndIncrement(ctx, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network)
		if err != nil {
			return nil, fmt.Errorf("allocate nonce: %w", err)
		}
		if err := s.rejectDuplicateNonce(ctx, n); err != nil {
			return nil, err
		}
		data, err := multicall3.EncodeAggregate3(prepared.Calls)
		if err != nil {
			s.returnNonceBestEffort(ctx, n)
			return nil, fmt.Errorf("encode aggregate3: %w", err)
		}
		signed, err := s.buildAndSign(ctx, n, &s.chainCtx.Multicall3Address, big.NewInt(0), data, prepared.TotalEstimatedGas)
		if err != nil {
			s.returnNonceBestEffort(ctx, n)
			return nil, err
		}
		out, err := s.toSignedTransaction(signed, store.TxBatch, "", req.BatchID)
		if err != nil {
			return nil, err
		}
		return []*store.SignedTransaction{out}, nil
	}

	results := make([]*store.SignedTransaction, 0, len(prepared.BatchGroups))
	for i, group := range prepared.BatchGroups {
		childID := fmt.Sprintf("%s-%d", req.BatchID, i+1)
		n, err := s.nonces.GetAndIncrement(ctx, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network)
		if err != nil {
			return results, fmt.Errorf("allocate nonce for group %s: %w", childID, err)
		}
		if err := s.rejectDuplicateNonce(ctx, n); err != nil {
			return results, fmt.Errorf("group %s: %w", childID, err)
		}
		data, err := multicall3.EncodeAggregate3(group.Calls)
		if err != nil {
			s.returnNonceBestEffort(ctx, n)
			return results, fmt.Errorf("encode aggregate3 for group %s: %w", childID, err)
		}
		signed, err := s.buildAndSign(ctx, n, &s.chainCtx.Multicall3Address, big.NewInt(0), data, group.EstimatedGas)
		if err != nil {
			s.returnNonceBestEffort(ctx, n)
			return results, fmt.Errorf("sign group %s: %w", childID, err)
		}
		out, err := s.toSignedTransaction(signed, store.TxBatch, "", childID)
		if err != nil {
			return results, err
		}
		results = append(results, out)
	}
	return results, nil
}

// reconcileNonce advances the cached nonce to the network's reported value
// if the network has moved ahead, matching SignBatch's entry-time
// reconciliation step. Errors are logged and otherwise ignored: a stale
// cache only risks NONCE_TOO_LOW on this attempt, which the classifier and
// retry policy already handle.
func (s *Signer) reconcileNonce(ctx context.Context) {
	networkNonce, err := s.provider.NonceAt(ctx, s.address, true)
	if err != nil {
		log.Warnw("nonce reconciliation: failed to fetch network nonce", "err", err.Error())
		return
	}
	cached, ok, err := s.nonces.Get(ctx, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network)
	if err != nil {
		log.Warnw("nonce reconciliation: failed to read cached nonce", "err", err.Error())
		return
	}
	if !ok || cached < networkNonce {
		if err := s.nonces.Set(ctx, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network, networkNonce); err != nil {
			log.Warnw("nonce reconciliation: failed to advance cached nonce", "err", err.Error())
		}
	}
}

// checkAllowances is a best-effort pre-batch sanity check: it never blocks
// or mutates the batch, only logs a warning when, for a token in the batch,
// the allowance this signer has granted to the Multicall3 contract is below
// the batch's total for that token.
func (s *Signer) checkAllowances(ctx context.Context, transfers []batch.Transfer) {
	totals := make(map[common.Address]*big.Int)
	for _, t := range transfers {
		cur, ok := totals[t.Token]
		if !ok {
			cur = big.NewInt(0)
		}
		totals[t.Token] = new(big.Int).Add(cur, t.Amount)
	}
	for token, total := range totals {
		data, err := erc20.EncodeAllowance(s.address, s.chainCtx.Multicall3Address)
		if err != nil {
			continue
		}
		raw, err := s.provider.Call(ctx, ethereum.CallMsg{To: &token, Data: data})
		if err != nil {
			log.Warnw("allowance check failed, proceeding without it", "token", token.Hex(), "err", err.Error())
			continue
		}
		allowance, err := erc20.DecodeAllowance(raw)
		if err != nil {
			continue
		}
		if allowance.Cmp(total) < 0 {
			log.Warnw("multicall3 allowance appears insufficient for batch total", "token", token.Hex(), "allowance", allowance.String(), "required", total.String())
		}
	}
}

// buildAndSign fetches buffered fee data, constructs an EIP-1559
// DynamicFeeTx with the given nonce/to/value/data/gasLimit, and signs it.
func (s *Signer) buildAndSign(ctx context.Context, n uint64, to *common.Address, value *big.Int, data []byte, gasLimit uint64) (*gtypes.Transaction, error) {
	fees, err := gascache.FetchOrCached(ctx, s.gasCache, s.provider)
	if err != nil {
		return nil, fmt.Errorf("fetch fee data: %w", err)
	}

	tx := gtypes.NewTx(&gtypes.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(s.chainCtx.ChainID),
		Nonce:     n,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       gasLimit,
		To:        to,
		Value:     value,
		Data:      data,
	})

	signer := gtypes.NewCancunSigner(new(big.Int).SetUint64(s.chainCtx.ChainID))
	signed, err := gtypes.SignTx(tx, signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// rejectDuplicateNonce guards against the same (signer, chain, network,
// nonce) being allocated twice within one process, which GetAndIncrement's
// own counter/reuse-pool logic cannot catch on its own (e.g. a reused nonce
// pushed onto the pool by one goroutine and drained by another racing
// request for the same logical transfer). A check failure is logged and
// ignored rather than treated as a duplicate: the marker is a best-effort
// safety net, not the source of truth for nonce allocation.
func (s *Signer) rejectDuplicateNonce(ctx context.Context, n uint64) error {
	dup, err := s.nonces.IsNonceDuplicate(ctx, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network, n)
	if err != nil {
		log.Warnw("nonce duplicate check failed", "nonce", n, "err", err.Error())
		return nil
	}
	if dup {
		return fmt.Errorf("nonce %d already issued for signer %s on %s/%s", n, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network)
	}
	return nil
}

// returnNonceBestEffort pushes n back onto the reuse pool; failures here
// are logged, not propagated, since the original error is already what the
// caller needs to report.
func (s *Signer) returnNonceBestEffort(ctx context.Context, n uint64) {
	if err := s.nonces.ReturnNonce(ctx, s.address.Hex(), s.chainCtx.Chain, s.chainCtx.Network, n); err != nil {
		log.Warnw("failed to return nonce to reuse pool", "nonce", n, "err", err.Error())
	}
}

// toSignedTransaction converts a signed *gtypes.Transaction into the
// durable store.SignedTransaction record.
func (s *Signer) toSignedTransaction(tx *gtypes.Transaction, txType store.TransactionType, requestID, batchID string) (*store.SignedTransaction, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal signed transaction: %w", err)
	}
	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	value := "0"
	if tx.Value() != nil {
		value = tx.Value().String()
	}
	return &store.SignedTransaction{
		RequestID:            requestID,
		BatchID:              batchID,
		TransactionType:      txType,
		TxHash:               tx.Hash().Hex(),
		RawTransaction:       "0x" + common.Bytes2Hex(raw),
		Nonce:                tx.Nonce(),
		GasLimit:             tx.Gas(),
		MaxFeePerGas:         tx.GasFeeCap().String(),
		MaxPriorityFeePerGas: tx.GasTipCap().String(),
		From:                 s.address.Hex(),
		To:                   to,
		Value:                value,
		Data:                 "0x" + common.Bytes2Hex(tx.Data()),
		ChainID:              s.chainCtx.ChainID,
		Chain:                s.chainCtx.Chain,
		Network:              s.chainCtx.Network,
		Status:               store.StatusSigned,
	}, nil
}
