// Package environment captures and reinstates the process-wide state a test
// case can leak into the next one: environment variables, the working
// directory and any globals registered by the embedding program.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Global saves and restores one piece of process state.
type Global struct {
	Save    func() (any, error)
	Restore func(saved any) error
}

// Registry holds the globals captured with every snapshot.
type Registry struct {
	mu      sync.Mutex
	names   []string
	globals map[string]Global
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{globals: make(map[string]Global)}
}

// Register adds a global under a unique name.
func (r *Registry) Register(name string, g Global) error {
	if g.Save == nil || g.Restore == nil {
		return fmt.Errorf("global %s needs both Save and Restore", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.globals[name]; dup {
		return fmt.Errorf("global %s already registered", name)
	}
	r.names = append(r.names, name)
	r.globals[name] = g
	return nil
}

// Names returns registered global names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

type savedGlobal struct {
	name  string
	value any
	g     Global
}

// Snapshot is the process state at one point in time.
type Snapshot struct {
	env     map[string]string
	cwd     string
	globals []savedGlobal
}

// Capture records the current state. reg may be nil.
func Capture(reg *Registry) (*Snapshot, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to read working directory: %w", err)
	}
	s := &Snapshot{env: environ(), cwd: cwd}
	if reg == nil {
		return s, nil
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, name := range reg.names {
		g := reg.globals[name]
		value, err := g.Save()
		if err != nil {
			return nil, fmt.Errorf("failed to save global %s: %w", name, err)
		}
		s.globals = append(s.globals, savedGlobal{name: name, value: value, g: g})
	}
	return s, nil
}

// Restore reinstates the captured state. Variables set since the capture are
// unset, globals are restored in reverse registration order.
func (s *Snapshot) Restore() error {
	var errs []error
	current := environ()
	for k := range current {
		if _, ok := s.env[k]; !ok {
			if err := os.Unsetenv(k); err != nil {
				errs = append(errs, fmt.Errorf("unset %s: %w", k, err))
			}
		}
	}
	for k, v := range s.env {
		if cur, ok := current[k]; ok && cur == v {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", k, err))
		}
	}

	if err := os.Chdir(s.cwd); err != nil {
		errs = append(errs, fmt.Errorf("restore working directory: %w", err))
	}

	for i := len(s.globals) - 1; i >= 0; i-- {
		sg := s.globals[i]
		if err := sg.g.Restore(sg.value); err != nil {
			errs = append(errs, fmt.Errorf("restore global %s: %w", sg.name, err))
		}
	}
	return errors.Join(errs...)
}

// Env returns a copy of the captured environment.
func (s *Snapshot) Env() map[string]string {
	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
