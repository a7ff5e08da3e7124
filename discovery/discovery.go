// Package discovery finds case source files below configured roots.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/modfile"
)

// DefaultPattern matches case source files by base name.
const DefaultPattern = "*_case.go"

// Config selects the files to discover.
type Config struct {
	// Roots are directories, files, or import paths inside the module rooted
	// at WorkDir.
	Roots []string
	// Patterns are filepath.Match globs applied to base names.
	Patterns []string
	WorkDir  string
	Log      log.Logger
}

// Find returns readable case files in root order, then lexical order within a
// root, without duplicates.
func Find(cfg Config) ([]string, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = []string{DefaultPattern}
	}
	for _, p := range cfg.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	workDir, err := filepath.Abs(orDefault(cfg.WorkDir, "."))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work directory: %w", err)
	}
	roots := cfg.Roots
	if len(roots) == 0 {
		roots = []string{"."}
	}

	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		if !readable(path) {
			cfg.Log.Warn("Skipping unreadable case file", "path", path)
			return
		}
		files = append(files, path)
	}

	for _, root := range roots {
		dir, err := resolveRoot(root, workDir)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read root %s: %w", root, err)
		}
		if !info.IsDir() {
			add(dir)
			continue
		}

		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				cfg.Log.Warn("Skipping unreadable path", "path", path, "err", err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != dir && skipDir(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if matches(cfg.Patterns, d.Name()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	cfg.Log.Debug("Discovered case files", "count", len(files), "roots", roots)
	return files, nil
}

// resolveRoot maps a root to a path. Paths are tried first; anything else is
// treated as an import path of the module declared in workDir/go.mod.
func resolveRoot(root, workDir string) (string, error) {
	if filepath.IsAbs(root) {
		return filepath.Clean(root), nil
	}
	local := filepath.Join(workDir, root)
	if strings.HasPrefix(root, ".") {
		return local, nil
	}
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	goModPath := filepath.Join(workDir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("root %s is not a path and go.mod is unavailable: %w", root, err)
	}
	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}
	moduleName := modFile.Module.Mod.Path
	if root != moduleName && !strings.HasPrefix(root, moduleName+"/") {
		return "", fmt.Errorf("package %s is not in module %s", root, moduleName)
	}
	return filepath.Join(workDir, filepath.FromSlash(strings.TrimPrefix(root, moduleName))), nil
}

func skipDir(name string) bool {
	return name == "vendor" || name == "testdata" ||
		strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func matches(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
