package smoke

import (
	"errors"

	"github.com/ethereum-optimism/infra/op-caserunner/testcase"
)

func init() {
	testcase.Register("ArithSmoke", func() any { return &ArithSmoke{} })
}

var errDivideByZero = errors.New("divide by zero")

// ArithSmoke checks data providers and expected errors.
type ArithSmoke struct {
	testcase.Base
}

func (c *ArithSmoke) Sums() [][]any {
	return [][]any{
		{1, 2, 3},
		{-4, 4, 0},
		{20, 22, 42},
	}
}

// @group smoke
// @dataProvider Sums
func (c *ArithSmoke) TestAdd(a, b, want int) {
	c.Assert().Equal(want, a+b)
}

// @group smoke
// @expectedException errors.errorString
// @expectedExceptionMessage divide by zero
func (c *ArithSmoke) TestDivideByZero() error {
	_, err := divide(1, 0)
	return err
}

func divide(a, b int) (int, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a / b, nil
}
