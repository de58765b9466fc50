// Package chain supplies the shared ChainContext value type and the Provider
// that wraps the web3/rpc client pool with the handful of calls the signing
// pipeline needs. Keeping ChainContext a plain value (no pointers back to the
// worker or signer) avoids the import cycles a shared *Service object would
// otherwise create between worker, txsigner and batch.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/chainsigner/signer-core/web3/rpc"
)

// ChainContext identifies one (chain, network) pair along with the constants
// the signing pipeline needs to build and price transactions for it.
type ChainContext struct {
	ChainID           uint64
	Chain             string
	Network           string
	Multicall3Address common.Address
	NativeDecimals    uint8
	BlockGasLimit      uint64
	SafetyMargin       float64
}

// MaxBatchGas returns the gas ceiling a single batch transaction must stay
// under for this chain: floor(BlockGasLimit * SafetyMargin).
func (c ChainContext) MaxBatchGas() uint64 {
	return uint64(float64(c.BlockGasLimit) * c.SafetyMargin)
}

// FeeData is the pair of EIP-1559 fee fields returned by the chain.
type FeeData struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Provider is the Chain RPC external interface: chain id, nonce, fee data,
// gas estimate and raw call, all scoped to one chain id via the underlying
// *rpc.Client's endpoint pool.
type Provider interface {
	ChainID(ctx context.Context) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, pending bool) (uint64, error)
	FeeData(ctx context.Context) (FeeData, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// RPCProvider implements Provider over a *rpc.Client from web3/rpc.
type RPCProvider struct {
	client *rpc.Client
}

// NewRPCProvider returns a Provider backed by client.
func NewRPCProvider(client *rpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

func (p *RPCProvider) ChainID(ctx context.Context) (uint64, error) {
	eth, err := p.client.EthClient()
	if err != nil {
		return 0, err
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch chain id: %w", err)
	}
	return id.Uint64(), nil
}

func (p *RPCProvider) NonceAt(ctx context.Context, account common.Address, pending bool) (uint64, error) {
	if pending {
		return p.client.PendingNonceAt(ctx, account)
	}
	eth, err := p.client.EthClient()
	if err != nil {
		return 0, err
	}
	return eth.NonceAt(ctx, account, nil)
}

func (p *RPCProvider) FeeData(ctx context.Context) (FeeData, error) {
	tip, err := p.client.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeData{}, fmt.Errorf("suggest tip cap: %w", err)
	}
	eth, err := p.client.EthClient()
	if err != nil {
		return FeeData{}, err
	}
	head, err := eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, fmt.Errorf("fetch head header: %w", err)
	}
	if head.BaseFee == nil {
		return FeeData{}, fmt.Errorf("chain does not report a base fee (pre-EIP-1559)")
	}
	maxFee := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return FeeData{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

func (p *RPCProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return p.client.EstimateGas(ctx, msg)
}

func (p *RPCProvider) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return p.client.CallContract(ctx, msg, nil)
}
