package txsigner

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/chainsigner/signer-core/batch"
	"github.com/chainsigner/signer-core/chain"
	"github.com/chainsigner/signer-core/gascache"
	"github.com/chainsigner/signer-core/multicall3"
	"github.com/chainsigner/signer-core/nonce"
	"github.com/chainsigner/signer-core/secrets"
	"github.com/chainsigner/signer-core/store"
	"github.com/chainsigner/signer-core/tokens"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var errSimulatedEstimate = errors.New("simulated estimate failure")

type fakeProvider struct {
	chainID     uint64
	nonce       uint64
	fees        chain.FeeData
	estimateGas uint64
	estimateErr error
}

func (f *fakeProvider) ChainID(context.Context) (uint64, error) { return f.chainID, nil }
func (f *fakeProvider) NonceAt(context.Context, common.Address, bool) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeProvider) FeeData(context.Context) (chain.FeeData, error) { return f.fees, nil }
func (f *fakeProvider) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimateGas, f.estimateErr
}
func (f *fakeProvider) Call(context.Context, ethereum.CallMsg) ([]byte, error) {
	// A zeroed 32-byte word decodes as allowance == 0, which is the simplest
	// stand-in: the allowance check only logs a warning, never fails a test.
	return make([]byte, 32), nil
}

func newTestSigner(t *testing.T, provider *fakeProvider) *Signer {
	t.Helper()
	c := qt.New(t)

	secretsSource, err := secrets.NewStaticSource(testPrivateKey)
	c.Assert(err, qt.IsNil)

	chainCtx := chain.ChainContext{
		ChainID:           provider.chainID,
		Chain:             "polygon",
		Network:           "testnet",
		Multicall3Address: multicall3.Address,
		NativeDecimals:    18,
		BlockGasLimit:     30_000_000,
		SafetyMargin:      0.75,
	}
	nonces := nonce.NewMemoryCoordinator()
	gasCache := gascache.New()
	planner := batch.NewPlanner(chainCtx, provider)
	catalog := tokens.NewStaticCatalog()
	catalog.RegisterToken("polygon", "testnet", "0xdAC17F958D2ee523a2206206994597C13D831ec7", tokens.Info{Decimals: 6, Symbol: "USDT"})

	signer, err := New(context.Background(), "wallet-1", secretsSource, chainCtx, provider, nonces, gasCache, planner, catalog)
	c.Assert(err, qt.IsNil)
	return signer
}

func TestNewRejectsChainIDMismatch(t *testing.T) {
	c := qt.New(t)
	secretsSource, err := secrets.NewStaticSource(testPrivateKey)
	c.Assert(err, qt.IsNil)

	provider := &fakeProvider{chainID: 1, nonce: 0}
	chainCtx := chain.ChainContext{ChainID: 999, Chain: "polygon", Network: "testnet"}
	nonces := nonce.NewMemoryCoordinator()

	_, err = New(context.Background(), "wallet-1", secretsSource, chainCtx, provider, nonces, gascache.New(), batch.NewPlanner(chainCtx, provider), tokens.NewStaticCatalog())
	c.Assert(err, qt.ErrorIs, ErrChainIDMismatch)
}

func TestSignSingleNative(t *testing.T) {
	c := qt.New(t)
	provider := &fakeProvider{
		chainID:     80002,
		nonce:       10,
		fees:        chain.FeeData{MaxFeePerGas: big.NewInt(30_000_000_000), MaxPriorityFeePerGas: big.NewInt(1_500_000_000)},
		estimateGas: 100_000,
	}
	signer := newTestSigner(t, provider)

	out, err := signer.SignSingle(context.Background(), SingleRequest{
		RequestID: "req-1",
		ToAddress: "0x742d35Cc6634C0532925a3b844Bc454e4438fAEd",
		Amount:    big.NewInt(1_000_000_000_000_000_000),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(out.Nonce, qt.Equals, uint64(10))
	c.Assert(out.GasLimit, qt.Equals, uint64(120_000))
	c.Assert(out.Value, qt.Equals, "1000000000000000000")
	c.Assert(out.Data, qt.Equals, "0x")
	c.Assert(out.Status, qt.Equals, store.StatusSigned)
}

func TestSignSingleERC20(t *testing.T) {
	c := qt.New(t)
	provider := &fakeProvider{
		chainID:     80002,
		nonce:       10,
		fees:        chain.FeeData{MaxFeePerGas: big.NewInt(30_000_000_000), MaxPriorityFeePerGas: big.NewInt(1_500_000_000)},
		estimateGas: 100_000,
	}
	signer := newTestSigner(t, provider)

	out, err := signer.SignSingle(context.Background(), SingleRequest{
		RequestID:    "req-2",
		ToAddress:    "0x742d35Cc6634C0532925a3b844Bc454e4438fAEd",
		TokenAddress: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		Amount:       big.NewInt(1_000_000),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(out.Value, qt.Equals, "0")
	c.Assert(out.To, qt.Equals, common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7").Hex())
	c.Assert(out.Data[:10], qt.Equals, "0xa9059cbb")
}

func TestSignSingleGasEstimationFailureSkipsNonce(t *testing.T) {
	c := qt.New(t)
	provider := &fakeProvider{
		chainID:     80002,
		nonce:       10,
		fees:        chain.FeeData{MaxFeePerGas: big.NewInt(30_000_000_000), MaxPriorityFeePerGas: big.NewInt(1_500_000_000)},
		estimateErr: errSimulatedEstimate,
	}
	signer := newTestSigner(t, provider)

	_, err := signer.SignSingle(context.Background(), SingleRequest{
		RequestID: "req-3",
		ToAddress: "0x742d35Cc6634C0532925a3b844Bc454e4438fAEd",
		Amount:    big.NewInt(1),
	})
	c.Assert(err, qt.ErrorMatches, "estimate gas:.*")

	n, ok, gErr := signer.nonces.Get(context.Background(), signer.Address().Hex(), "polygon", "testnet")
	c.Assert(gErr, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(n, qt.Equals, uint64(10)) // unchanged: no GetAndIncrement occurred
}

func TestSignBatchSingleGroup(t *testing.T) {
	c := qt.New(t)
	provider := &fakeProvider{
		chainID:     1,
		nonce:       10,
		fees:        chain.FeeData{MaxFeePerGas: big.NewInt(30_000_000_000), MaxPriorityFeePerGas: big.NewInt(1_500_000_000)},
		estimateGas: 200_000,
	}
	signer := newTestSigner(t, provider)

	token := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	transfers := []batch.Transfer{
		{TransactionID: "t1", To: common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438fAEd"), Token: token, Amount: big.NewInt(1_000_000)},
		{TransactionID: "t2", To: common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"), Token: token, Amount: big.NewInt(2_000_000)},
	}

	out, err := signer.SignBatch(context.Background(), BatchRequest{BatchID: "batch-1", Transfers: transfers})
	c.Assert(err, qt.IsNil)
	c.Assert(len(out), qt.Equals, 1)
	c.Assert(out[0].To, qt.Equals, multicall3.Address.Hex())
	c.Assert(out[0].Value, qt.Equals, "0")
}
