package policy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quotaError struct{}

func (quotaError) Error() string { return "quota exceeded" }

func TestContext_Defaults(t *testing.T) {
	c := NewContext()
	boom := errors.New("boom")

	status, abort := c.OnError(boom)
	assert.Equal(t, 1, status)
	assert.Same(t, boom, abort)

	status, abort = c.OnFailure(boom)
	assert.Equal(t, 1, status)
	assert.NoError(t, abort)

	status, abort = c.OnIncomplete(boom)
	assert.Equal(t, 0, status)
	assert.NoError(t, abort)

	status, abort = c.OnSkip(boom)
	assert.Equal(t, 0, status)
	assert.NoError(t, abort)
}

func TestContext_Wrap(t *testing.T) {
	c := NewContext()
	c.Configure(KindFailure, Wrap{})

	boom := errors.New("boom")
	status, abort := c.On(KindFailure, boom)
	assert.Equal(t, 1, status)

	var abortErr *AbortError
	require.True(t, errors.As(abort, &abortErr))
	assert.Equal(t, KindFailure, abortErr.Kind)
	assert.ErrorIs(t, abort, boom)
	assert.Contains(t, abort.Error(), "failure aborted case")
}

func TestContext_Associations(t *testing.T) {
	c := NewContext()
	c.Associate("quotaError", Swallow{})

	status, abort := c.OnError(fmt.Errorf("call: %w", quotaError{}))
	assert.Equal(t, 1, status)
	assert.NoError(t, abort, "associated type is tolerated")

	_, abort = c.OnError(errors.New("other"))
	assert.Error(t, abort, "unassociated errors fall back to the error slot")

	qualified := NewContext()
	qualified.Associate("*policy.quotaError", Swallow{})
	_, abort = qualified.OnError(quotaError{})
	assert.NoError(t, abort)
}

func TestContext_OverrideNestsAndSuspendsAssociations(t *testing.T) {
	c := NewContext()
	c.Associate("quotaError", Wrap{})

	undoOuter := c.Override(ConvertToSkip{})
	_, abort := c.OnError(quotaError{})
	assert.NoError(t, abort, "associations are suspended while overridden")

	undoInner := c.Override(Rethrow{})
	_, abort = c.OnFailure(errors.New("x"))
	assert.Error(t, abort)

	undoInner()
	_, abort = c.OnFailure(errors.New("x"))
	assert.NoError(t, abort, "inner undo restores the outer override")
	assert.IsType(t, ConvertToSkip{}, c.Strategy(KindError))

	undoOuter()
	undoOuter()
	assert.IsType(t, Rethrow{}, c.Strategy(KindError))
	_, abort = c.OnError(quotaError{})
	var abortErr *AbortError
	assert.True(t, errors.As(abort, &abortErr), "associations apply again")
}

func TestContext_Restore(t *testing.T) {
	c := NewContext()
	c.Configure(KindSkip, Rethrow{})

	// Restore without overrides keeps the explicit configuration.
	c.Restore()
	c.Restore()
	assert.IsType(t, Rethrow{}, c.Strategy(KindSkip))

	undo := c.Override(Swallow{})
	c.Restore()
	assert.IsType(t, Rethrow{}, c.Strategy(KindSkip))
	assert.IsType(t, Swallow{}, c.Strategy(KindFailure))

	undo()
	assert.IsType(t, Rethrow{}, c.Strategy(KindSkip), "a late undo does not resurrect the override")
}

func TestContext_StaleUndoAfterRestore(t *testing.T) {
	c := NewContext()

	stale := c.Override(ConvertToSkip{})
	c.Restore()
	undo := c.Override(Rethrow{})

	stale()
	assert.IsType(t, Rethrow{}, c.Strategy(KindFailure), "an undo from before Restore leaves the current override alone")
	assert.IsType(t, Rethrow{}, c.Strategy(KindSkip))

	undo()
	assert.IsType(t, Swallow{}, c.Strategy(KindFailure))
	assert.IsType(t, Rethrow{}, c.Strategy(KindError))
}

func TestNewContextFromConfig(t *testing.T) {
	c, err := NewContextFromConfig(Config{
		Failure:      "rethrow",
		Associations: map[string]string{"quotaError": "swallow"},
		Strict:       true,
	})
	require.NoError(t, err)

	assert.IsType(t, Rethrow{}, c.Strategy(KindFailure))
	assert.IsType(t, Rethrow{}, c.Strategy(KindError))
	assert.Equal(t, Swallow{Strict: true}, c.Strategy(KindSkip))

	status, abort := c.OnSkip(errors.New("skipped"))
	assert.Equal(t, 1, status, "strict mode counts skips")
	assert.NoError(t, abort)

	_, abort = c.OnError(quotaError{})
	assert.NoError(t, abort)

	_, err = NewContextFromConfig(Config{Error: "explode"})
	assert.ErrorContains(t, err, "unknown failure strategy")
	_, err = NewContextFromConfig(Config{Associations: map[string]string{"x": "nope"}})
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Wrap ", false)
	require.NoError(t, err)
	assert.IsType(t, Wrap{}, s)
	assert.Equal(t, "incomplete", KindIncomplete.String())
}
