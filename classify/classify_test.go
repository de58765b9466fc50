package classify

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestClassifySubstringRules(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		err  string
		want Category
	}{
		{"nonce too low", CategoryNonceTooLow},
		{"insufficient funds for gas * price + value", CategoryInsufficientFunds},
		{"replacement transaction underpriced", CategoryReplacementUnderpriced},
		{"execution reverted: ERC20: transfer amount exceeds balance", CategoryExecutionReverted},
		{"dial tcp: connection refused", CategoryNetwork},
		{"something totally unrecognized", CategoryUnknown},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.err))
		c.Assert(got.Category, qt.Equals, tc.want, qt.Commentf("err=%q", tc.err))
	}
}

func TestIsPermanent(t *testing.T) {
	c := qt.New(t)
	c.Assert(IsPermanent(CategoryInsufficientFunds), qt.IsTrue)
	c.Assert(IsPermanent(CategoryExecutionReverted), qt.IsTrue)
	c.Assert(IsPermanent(CategoryInvalidTransaction), qt.IsTrue)
	c.Assert(IsPermanent(CategoryUnknown), qt.IsTrue)
	c.Assert(IsPermanent(CategoryNetwork), qt.IsFalse)
	c.Assert(IsPermanent(CategoryNonceTooLow), qt.IsFalse)
}

func TestClassifyNil(t *testing.T) {
	c := qt.New(t)
	got := Classify(nil)
	c.Assert(got.Category, qt.Equals, CategoryUnknown)
}
