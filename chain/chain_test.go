package chain

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMaxBatchGas(t *testing.T) {
	c := qt.New(t)

	ctx := ChainContext{BlockGasLimit: 30_000_000, SafetyMargin: 0.75}
	c.Assert(ctx.MaxBatchGas(), qt.Equals, uint64(22_500_000))

	bsc := ChainContext{BlockGasLimit: 140_000_000, SafetyMargin: 0.75}
	c.Assert(bsc.MaxBatchGas(), qt.Equals, uint64(105_000_000))
}
