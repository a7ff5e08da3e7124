package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("package cases\n"), 0644))
}

func setupTree(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module github.com/test/module\n\ngo 1.21\n"), 0644))
	writeFile(t, filepath.Join(dir, "cases", "b_case.go"))
	writeFile(t, filepath.Join(dir, "cases", "a_case.go"))
	writeFile(t, filepath.Join(dir, "cases", "helper.go"))
	writeFile(t, filepath.Join(dir, "cases", "nested", "c_case.go"))
	writeFile(t, filepath.Join(dir, "cases", "testdata", "ignored_case.go"))
	writeFile(t, filepath.Join(dir, "cases", ".hidden", "ignored_case.go"))
	writeFile(t, filepath.Join(dir, "other", "d_case.go"))
	return dir
}

func rel(t *testing.T, dir string, files []string) []string {
	var out []string
	for _, f := range files {
		r, err := filepath.Rel(dir, f)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(r))
	}
	return out
}

func TestFind(t *testing.T) {
	dir := setupTree(t)
	lgr := log.NewLogger(log.DiscardHandler())

	tests := []struct {
		name     string
		cfg      Config
		expected []string
	}{
		{
			name:     "relative root",
			cfg:      Config{Roots: []string{"./cases"}},
			expected: []string{"cases/a_case.go", "cases/b_case.go", "cases/nested/c_case.go"},
		},
		{
			name:     "module path",
			cfg:      Config{Roots: []string{"github.com/test/module/other"}},
			expected: []string{"other/d_case.go"},
		},
		{
			name:     "dedupe across roots",
			cfg:      Config{Roots: []string{"./cases/nested", "./cases", "./cases/a_case.go"}},
			expected: []string{"cases/nested/c_case.go", "cases/a_case.go", "cases/b_case.go"},
		},
		{
			name:     "custom pattern",
			cfg:      Config{Roots: []string{"./cases"}, Patterns: []string{"helper.go"}},
			expected: []string{"cases/helper.go"},
		},
		{
			name: "default root",
			cfg:  Config{},
			expected: []string{
				"cases/a_case.go", "cases/b_case.go", "cases/nested/c_case.go", "other/d_case.go",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.WorkDir = dir
			tt.cfg.Log = lgr
			files, err := Find(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rel(t, dir, files))
		})
	}
}

func TestFind_Errors(t *testing.T) {
	dir := setupTree(t)

	_, err := Find(Config{WorkDir: dir, Roots: []string{"github.com/elsewhere/pkg"}})
	assert.ErrorContains(t, err, "not in module")

	_, err = Find(Config{WorkDir: dir, Roots: []string{"./missing"}})
	assert.Error(t, err)

	_, err = Find(Config{WorkDir: dir, Patterns: []string{"["}})
	assert.ErrorContains(t, err, "invalid pattern")

	_, err = Find(Config{WorkDir: t.TempDir(), Roots: []string{"github.com/test/module"}})
	assert.ErrorContains(t, err, "go.mod")
}
