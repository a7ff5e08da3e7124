package meta

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum-optimism/infra/op-caserunner/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnotations(t *testing.T) {
	doc := `TestCheckout covers the checkout flow.

@test
@depends TestLogin, TestCart
@depends TestLogin
@dataProvider ProvideCarts()
@group slow checkout
@expectedException checkout.LimitError
@expectedExceptionMessage over limit
@expectedExceptionCode 7
@unknown ignored
`
	a := ParseAnnotations(doc)

	assert.True(t, a.Test)
	assert.Equal(t, []string{"TestLogin", "TestCart", "TestLogin"}, a.Depends)
	assert.Equal(t, "ProvideCarts", a.DataProvider)
	assert.Equal(t, []string{"slow", "checkout"}, a.Groups)
	assert.Equal(t, "checkout.LimitError", a.ExpectedException)
	assert.Equal(t, "over limit", a.ExpectedMessage)
	require.NotNil(t, a.ExpectedCode)
	assert.Equal(t, 7, *a.ExpectedCode)
	assert.False(t, a.Before)
}

func TestParseAnnotations_TabSeparated(t *testing.T) {
	a := ParseAnnotations("@depends\tTestA\n@dataProvider\t rows\n@group \t smoke\n@expectedExceptionCode\t3 ")

	assert.Equal(t, []string{"TestA"}, a.Depends)
	assert.Equal(t, "rows", a.DataProvider)
	assert.Equal(t, []string{"smoke"}, a.Groups)
	require.NotNil(t, a.ExpectedCode)
	assert.Equal(t, 3, *a.ExpectedCode)
}

func TestParseAnnotations_CommentMarkers(t *testing.T) {
	doc := `/**
 * @beforeClass
 * @after
 */
// @before`
	a := ParseAnnotations(doc)
	assert.True(t, a.BeforeClass)
	assert.True(t, a.After)
	assert.True(t, a.Before)
	assert.False(t, a.AfterClass)
}

func TestNormalizeDepends(t *testing.T) {
	tests := []struct {
		name    string
		depends []string
		want    []string
	}{
		{"self reference removed", []string{"TestA", "TestSelf"}, []string{"TestA"}},
		{"duplicates removed", []string{"TestA", "TestA", "TestB"}, []string{"TestA", "TestB"}},
		{"whitespace and punctuation", []string{"  TestA(),", "'TestB';", "TestSelf:"}, []string{"TestA", "TestB"}},
		{"joined list", []string{"TestA, TestB TestSelf"}, []string{"TestA", "TestB"}},
		{"only self", []string{"TestSelf", "TestSelf()"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeDepends("TestSelf", tt.depends)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "TestSelf")
		})
	}
}

func TestNew(t *testing.T) {
	code := 3
	m := New("CartCase", "TestAdd", Annotations{
		Depends:           []string{"TestAdd", "TestInit"},
		DataProvider:      "TestAdd",
		Groups:            []string{"fast", "fast"},
		ExpectedException: "ErrFull",
		ExpectedCode:      &code,
	})

	assert.Equal(t, types.TestStatusNew, m.Status)
	assert.Equal(t, []string{"TestInit"}, m.Depends)
	assert.Empty(t, m.DataProvider, "a method cannot be its own data provider")
	assert.Equal(t, []string{"fast"}, m.Groups)
	require.NotNil(t, m.Expect)
	assert.Equal(t, "ErrFull", m.Expect.Type)
	assert.Equal(t, "CartCase::TestAdd", m.Key())
}

func TestIsTestAndHookKind(t *testing.T) {
	assert.True(t, IsTest("TestSomething", Annotations{}))
	assert.False(t, IsTest("Test", Annotations{}))
	assert.False(t, IsTest("helper", Annotations{}))
	assert.True(t, IsTest("checksSomething", Annotations{Test: true}))

	assert.Equal(t, HookBeforeClass, HookKind("SetUpBeforeClass", Annotations{}))
	assert.Equal(t, HookAfterClass, HookKind("cleanup", Annotations{AfterClass: true}))
	assert.Equal(t, HookBefore, HookKind("SetUp", Annotations{}))
	assert.Equal(t, HookAfter, HookKind("TearDown", Annotations{}))
	assert.Equal(t, HookNone, HookKind("ProvideRows", Annotations{}))
}

type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() int     { return e.code }

type otherError struct{}

func (otherError) Error() string { return "other" }

func TestExpectedError_Match(t *testing.T) {
	seven := 7
	contract := &ExpectedError{Type: "codedError", Code: &seven}

	t.Run("matching code", func(t *testing.T) {
		matched, violation := contract.Match(&codedError{code: 7, msg: "limit"})
		assert.True(t, matched)
		assert.NoError(t, violation)
	})

	t.Run("different code", func(t *testing.T) {
		matched, violation := contract.Match(&codedError{code: 9, msg: "limit"})
		assert.True(t, matched)
		require.Error(t, violation)
		assert.Contains(t, violation.Error(), "code 7, got 9")
	})

	t.Run("other type", func(t *testing.T) {
		matched, violation := contract.Match(otherError{})
		assert.False(t, matched)
		assert.NoError(t, violation)
	})

	t.Run("wrapped", func(t *testing.T) {
		matched, violation := contract.Match(fmt.Errorf("outer: %w", &codedError{code: 7}))
		assert.True(t, matched)
		assert.NoError(t, violation)
	})

	t.Run("joined", func(t *testing.T) {
		matched, _ := contract.Match(errors.Join(otherError{}, &codedError{code: 7}))
		assert.True(t, matched)
	})

	t.Run("qualified name and message", func(t *testing.T) {
		c := &ExpectedError{Type: "*meta.codedError", Message: "over limit"}
		matched, violation := c.Match(&codedError{msg: "under limit"})
		assert.True(t, matched)
		require.Error(t, violation)
		assert.Contains(t, violation.Error(), "over limit")

		_, violation = c.Match(&codedError{msg: "went over limit"})
		assert.NoError(t, violation)
	})

	t.Run("code missing", func(t *testing.T) {
		c := &ExpectedError{Type: "otherError", Code: &seven}
		matched, violation := c.Match(otherError{})
		assert.True(t, matched)
		assert.Error(t, violation)
	})

	assert.Contains(t, contract.NotRaised().Error(), "codedError was not raised")
}

func TestTypeNames(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &codedError{})
	assert.Equal(t, []string{"fmt.wrapError", "meta.codedError"}, TypeNames(err))
	assert.Empty(t, TypeName(nil))
}
