package smoke

import (
	"github.com/ethereum-optimism/infra/op-caserunner/testcase"
)

func init() {
	testcase.Register("StorageSmoke", func() any { return &StorageSmoke{} })
}

// StorageSmoke checks shared storage and dependency ordering.
type StorageSmoke struct {
	testcase.Base
	written string
}

// @group smoke
func (c *StorageSmoke) TestWrite() {
	c.written = "smoke"
	c.Assert().NoError(c.Storage().Set("smoke.written", c.written))
}

// @group smoke
// @depends TestWrite
func (c *StorageSmoke) TestRead() {
	var got string
	ok, err := c.Storage().Get("smoke.written", &got)
	c.Assert().NoError(err)
	c.Assert().True(ok)
	c.Assert().Equal(c.written, got)
}

// @group smoke
// @depends TestRead
func (c *StorageSmoke) TestDelete() {
	c.Storage().Delete("smoke.written")
	ok, err := c.Storage().Get("smoke.written", new(string))
	c.Assert().NoError(err)
	c.Assert().False(ok)
}
