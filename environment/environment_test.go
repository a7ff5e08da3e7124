package environment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RestoresEnv(t *testing.T) {
	t.Setenv("CASERUNNER_KEEP", "original")
	t.Setenv("CASERUNNER_CHANGE", "before")

	snap, err := Capture(nil)
	require.NoError(t, err)

	require.NoError(t, os.Setenv("CASERUNNER_CHANGE", "after"))
	require.NoError(t, os.Setenv("CASERUNNER_ADDED", "leak"))
	require.NoError(t, os.Unsetenv("CASERUNNER_KEEP"))

	require.NoError(t, snap.Restore())

	assert.Equal(t, "original", os.Getenv("CASERUNNER_KEEP"))
	assert.Equal(t, "before", os.Getenv("CASERUNNER_CHANGE"))
	_, leaked := os.LookupEnv("CASERUNNER_ADDED")
	assert.False(t, leaked)
	assert.Equal(t, "before", snap.Env()["CASERUNNER_CHANGE"])
}

func TestSnapshot_RestoresWorkingDirectory(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	snap, err := Capture(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	require.NoError(t, snap.Restore())

	got, err := os.Getwd()
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(cwd)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotResolved)
}

func TestSnapshot_RestoresGlobals(t *testing.T) {
	counter := 1
	var order []string
	reg := NewRegistry()
	require.NoError(t, reg.Register("counter", Global{
		Save: func() (any, error) { return counter, nil },
		Restore: func(saved any) error {
			order = append(order, "counter")
			counter = saved.(int)
			return nil
		},
	}))
	require.NoError(t, reg.Register("second", Global{
		Save: func() (any, error) { return nil, nil },
		Restore: func(any) error {
			order = append(order, "second")
			return nil
		},
	}))
	assert.Equal(t, []string{"counter", "second"}, reg.Names())

	snap, err := Capture(reg)
	require.NoError(t, err)
	counter = 99

	require.NoError(t, snap.Restore())
	assert.Equal(t, 1, counter)
	assert.Equal(t, []string{"second", "counter"}, order)
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("broken", Global{}))

	g := Global{
		Save:    func() (any, error) { return nil, errors.New("unavailable") },
		Restore: func(any) error { return nil },
	}
	require.NoError(t, reg.Register("flaky", g))
	assert.Error(t, reg.Register("flaky", g))

	_, err := Capture(reg)
	assert.ErrorContains(t, err, "flaky")
}
