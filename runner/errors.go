package runner

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency chain that leads back to a method whose
// resolution is still in progress. It always aborts the case.
type CycleError struct {
	Case   string
	Method string
	Path   []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("dependency cycle in case %s at %s", e.Case, e.Method)
	}
	chain := make([]string, 0, len(e.Path)+1)
	chain = append(append(chain, e.Path...), e.Method)
	return fmt.Sprintf("dependency cycle in case %s: %s", e.Case, strings.Join(chain, " -> "))
}

// ConfigError reports a method declaring a dependency that does not exist in
// its case.
type ConfigError struct {
	Case       string
	Method     string
	Dependency string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s::%s depends on unknown method %s", e.Case, e.Method, e.Dependency)
}

// HookError wraps a failure raised by a lifecycle hook.
type HookError struct {
	Hook   string
	Method string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook %s failed: %v", e.Hook, e.Method, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// DependencyError is the skip reason of a method whose prerequisite did not
// complete.
type DependencyError struct {
	Method     string
	Dependency string
	Root       string
	Reason     string
}

func (e *DependencyError) Error() string {
	msg := fmt.Sprintf("%s depends on %s, which %s", e.Method, e.Dependency, e.Reason)
	if e.Root != "" && e.Root != e.Dependency {
		msg += fmt.Sprintf(" (root cause %s)", e.Root)
	}
	return msg
}
