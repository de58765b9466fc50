package batch

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/chainsigner/signer-core/chain"
)

func mkTransfer(id string, amount int64) Transfer {
	return Transfer{
		TransactionID: id,
		To:            common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438fAEd"),
		Token:         common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
		Amount:        big.NewInt(amount),
	}
}

func TestValidateDuplicateID(t *testing.T) {
	c := qt.New(t)
	err := Validate([]Transfer{mkTransfer("a", 1), mkTransfer("a", 2)})
	c.Assert(err, qt.ErrorMatches, `.*duplicate transaction id "a".*`)
}

func TestValidateBadAmount(t *testing.T) {
	c := qt.New(t)
	err := Validate([]Transfer{mkTransfer("a", 0)})
	c.Assert(err, qt.ErrorMatches, `.*amount must be a positive integer.*`)
}

func TestValidateNativeRejected(t *testing.T) {
	c := qt.New(t)
	tr := mkTransfer("a", 1)
	tr.Token = common.Address{}
	err := Validate([]Transfer{tr})
	c.Assert(err, qt.ErrorMatches, `.*native token address.*`)
}

type fakeProvider struct {
	estimateGas uint64
	estimateErr error
}

func (f *fakeProvider) ChainID(context.Context) (uint64, error) { return 1, nil }
func (f *fakeProvider) NonceAt(context.Context, common.Address, bool) (uint64, error) {
	return 0, nil
}
func (f *fakeProvider) FeeData(context.Context) (chain.FeeData, error) { return chain.FeeData{}, nil }
func (f *fakeProvider) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimateGas, f.estimateErr
}
func (f *fakeProvider) Call(context.Context, ethereum.CallMsg) ([]byte, error) { return nil, nil }

func TestPlanSingleGroup(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	provider := &fakeProvider{estimateGas: 200_000}
	chainCtx := chain.ChainContext{ChainID: 1, BlockGasLimit: 30_000_000, SafetyMargin: 0.75}
	planner := NewPlanner(chainCtx, provider)

	transfers := []Transfer{mkTransfer("a", 1_000_000), mkTransfer("b", 2_000_000)}
	prepared, err := planner.Plan(ctx, transfers)
	c.Assert(err, qt.IsNil)
	c.Assert(prepared.BatchGroups, qt.IsNil)
	c.Assert(prepared.TotalEstimatedGas, qt.Equals, uint64(230_000)) // 200000 * 1.15
}

func TestPlanFallbackOnEstimationFailure(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	provider := &fakeProvider{estimateErr: qtErr("rpc down")}
	chainCtx := chain.ChainContext{ChainID: 1, BlockGasLimit: 30_000_000, SafetyMargin: 0.75}
	planner := NewPlanner(chainCtx, provider)

	transfers := []Transfer{mkTransfer("a", 1_000_000)}
	prepared, err := planner.Plan(ctx, transfers)
	c.Assert(err, qt.IsNil)
	c.Assert(prepared.TotalEstimatedGas, qt.Equals, fallbackTotal(BaseTransferGas, 1))
}

func TestPlanSplitsWhenOverGasLimit(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	// 100 transfers, huge raw estimate forces a split under a tight block limit.
	var transfers []Transfer
	for i := range 100 {
		transfers = append(transfers, mkTransfer(string(rune('a'+i%26))+string(rune(i)), 1_000))
	}
	provider := &fakeProvider{estimateGas: 100 * 250_000}
	chainCtx := chain.ChainContext{ChainID: 1, BlockGasLimit: 30_000_000, SafetyMargin: 0.75}
	planner := NewPlanner(chainCtx, provider)

	prepared, err := planner.Plan(ctx, transfers)
	c.Assert(err, qt.IsNil)
	c.Assert(len(prepared.BatchGroups) > 1, qt.IsTrue)

	maxGas := chainCtx.MaxBatchGas()
	var total int
	for _, g := range prepared.BatchGroups {
		c.Assert(g.EstimatedGas <= maxGas, qt.IsTrue)
		total += len(g.Transfers)
	}
	c.Assert(total, qt.Equals, 100)

	// Order-preserving coverage: concatenating groups reproduces the input.
	var flattened []Transfer
	for _, g := range prepared.BatchGroups {
		flattened = append(flattened, g.Transfers...)
	}
	c.Assert(len(flattened), qt.Equals, len(transfers))
	for i := range transfers {
		c.Assert(flattened[i].TransactionID, qt.Equals, transfers[i].TransactionID)
	}
}

func TestOptimalBatchSizeCapped(t *testing.T) {
	c := qt.New(t)
	size := OptimalBatchSize(1, 1_000_000_000)
	c.Assert(size, qt.Equals, MaxBatchSize)
}

type qtErrString string

func (e qtErrString) Error() string { return string(e) }

func qtErr(s string) error { return qtErrString(s) }
