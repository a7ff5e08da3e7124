package testcase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaderFixtureCase struct {
	Base
}

func (c *loaderFixtureCase) TestFirst()  {}
func (c *loaderFixtureCase) TestSecond() {}

func init() {
	Register("loaderFixtureCase", func() any { return &loaderFixtureCase{} })
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture_case.go")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSourceLoader_Load(t *testing.T) {
	path := writeSource(t, `
package fixtures

type helper struct{}

type loaderFixtureCase struct {
	testcase.Base
}

// TestSecond runs after the first one.
//
// @depends TestFirst
func (c *loaderFixtureCase) TestSecond() {}

// TestFirst has no annotations.
func (c loaderFixtureCase) TestFirst() {}

func (h *helper) TestIgnored() {}
`)

	loaded, err := NewSourceLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "loaderFixtureCase", loaded.Name)
	assert.Equal(t, path, loaded.Path)
	assert.IsType(t, &loaderFixtureCase{}, loaded.Instance)
	require.Len(t, loaded.Methods, 2)
	assert.Equal(t, "TestSecond", loaded.Methods[0].Name)
	assert.Contains(t, loaded.Methods[0].Doc, "@depends TestFirst")
	assert.Equal(t, "TestFirst", loaded.Methods[1].Name)
}

func TestSourceLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.go") },
			wantErr: ErrNotFound,
		},
		{
			name:    "syntax error",
			path:    func(t *testing.T) string { return writeSource(t, "package x\nfunc {") },
			wantErr: ErrUnreadable,
		},
		{
			name:    "no registered type",
			path:    func(t *testing.T) string { return writeSource(t, "package x\ntype unknownCase struct{}\n") },
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSourceLoader().Load(tt.path(t))
			require.Error(t, err)
			var loadErr *LoadError
			assert.True(t, errors.As(err, &loadErr))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	assert.True(t, Registered("loaderFixtureCase"))
	assert.Contains(t, RegisteredNames(), "loaderFixtureCase")
	assert.Panics(t, func() {
		Register("loaderFixtureCase", func() any { return &loaderFixtureCase{} })
	})
}

func TestBase_Defaults(t *testing.T) {
	var b Base
	assert.NotNil(t, b.Storage())
	assert.NotNil(t, b.Assert())

	env := &Env{}
	b.Bind(env)
	assert.Same(t, env, b.Env())
}
