// Package testcase defines the contract between test cases and the engine:
// the compiled-in case registry, the embeddable Base type, the signals a test
// body raises to skip or mark itself incomplete, and the loader that turns a
// case source file into a runnable instance.
package testcase

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum-optimism/infra/op-caserunner/assertion"
	"github.com/ethereum-optimism/infra/op-caserunner/storage"
)

// Factory creates a fresh case instance.
type Factory func() any

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a case type available to loaders under name, which must
// match the type name used in the case's source file. Registering the same
// name twice panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("testcase: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("testcase: Register called twice for " + name)
	}
	registry[name] = factory
}

// Registered reports whether a case type with the given name is registered.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// RegisteredNames returns all registered case names, sorted.
func RegisteredNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func instantiate(name string) (any, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("case %s is not registered: %w", name, ErrNotFound)
	}
	return factory(), nil
}

// Env is the per-run environment handed to a case before it executes.
type Env struct {
	Storage *storage.Storage
}

// Binder is implemented by cases that want the run environment injected.
type Binder interface {
	Bind(env *Env)
}

// Base can be embedded in a case to receive the environment and an assertion
// helper.
type Base struct {
	env    *Env
	assert *assertion.Assertions
}

// Bind implements Binder.
func (b *Base) Bind(env *Env) {
	b.env = env
}

// Env returns the bound environment, never nil.
func (b *Base) Env() *Env {
	if b.env == nil {
		b.env = &Env{}
	}
	return b.env
}

// Storage returns the shared storage of the run.
func (b *Base) Storage() *storage.Storage {
	env := b.Env()
	if env.Storage == nil {
		env.Storage = storage.New()
	}
	return env.Storage
}

// Assert returns the assertion helper.
func (b *Base) Assert() *assertion.Assertions {
	if b.assert == nil {
		b.assert = assertion.New()
	}
	return b.assert
}

// MethodDoc is a method name together with its documentation text.
type MethodDoc struct {
	Name string
	Doc  string
}

// Loaded is a case instance ready to be handed to a runner.
type Loaded struct {
	Name     string
	Path     string
	Instance any
	// Methods lists documented methods in declaration order. Methods of the
	// instance missing here are still candidates, ordered after these.
	Methods []MethodDoc
}

// NewLoaded builds a Loaded value for a case constructed in code.
func NewLoaded(name string, instance any, methods ...MethodDoc) *Loaded {
	return &Loaded{
		Name:     name,
		Instance: instance,
		Methods:  methods,
	}
}
