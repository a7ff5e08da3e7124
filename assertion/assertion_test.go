package assertion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture runs fn and returns the *Failure it raised, if any.
func capture(fn func()) (failure *Failure) {
	defer func() {
		if r := recover(); r != nil {
			failure = r.(*Failure)
		}
	}()
	fn()
	return nil
}

func TestAssertions_CountsEveryCall(t *testing.T) {
	a := New()
	before := Count()

	a.Equal(1, 1)
	a.True(true)
	a.NoError(nil)
	_ = capture(func() { a.False(true) })

	assert.Equal(t, int64(4), Count()-before)
}

func TestAssertions_FailureCarriesLocation(t *testing.T) {
	a := New()
	failure := capture(func() { a.Equal("expected", "actual") })
	require.NotNil(t, failure)

	assert.Contains(t, failure.Message, "Not equal")
	assert.NotContains(t, failure.Message, "Error Trace")
	file, line := failure.Location()
	assert.Contains(t, file, "assertion_test.go")
	assert.Greater(t, line, 0)
}

func TestAssertions_Passing(t *testing.T) {
	a := New()
	err := errors.New("boom")
	tests := []struct {
		name string
		fn   func()
	}{
		{"equal", func() { a.Equal([]int{1}, []int{1}) }},
		{"not equal", func() { a.NotEqual(1, 2) }},
		{"nil", func() { a.Nil(nil) }},
		{"not nil", func() { a.NotNil(err) }},
		{"error", func() { a.Error(err) }},
		{"error is", func() { a.ErrorIs(err, err) }},
		{"contains", func() { a.Contains("haystack", "hay") }},
		{"len", func() { a.Len([]int{1, 2}, 2) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, capture(tt.fn))
		})
	}
}

func TestAssertions_Fail(t *testing.T) {
	failure := capture(func() { New().Fail("not implemented") })
	require.NotNil(t, failure)
	assert.Contains(t, failure.Error(), "not implemented")
}
