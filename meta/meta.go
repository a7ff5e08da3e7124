// Package meta describes test methods: the annotations parsed from their doc
// comments and the per-method record the case runner drives through the
// lifecycle.
package meta

import (
	"strings"

	"github.com/ethereum-optimism/infra/op-caserunner/types"
)

// Hook names recognised by convention when no annotation is present.
const (
	HookNameBeforeClass = "SetUpBeforeClass"
	HookNameAfterClass  = "TearDownAfterClass"
	HookNameBefore      = "SetUp"
	HookNameAfter       = "TearDown"
)

// Hook identifies a lifecycle hook kind.
type Hook int

const (
	HookNone Hook = iota
	HookBeforeClass
	HookAfterClass
	HookBefore
	HookAfter
)

func (h Hook) String() string {
	switch h {
	case HookBeforeClass:
		return "beforeClass"
	case HookAfterClass:
		return "afterClass"
	case HookBefore:
		return "before"
	case HookAfter:
		return "after"
	}
	return "none"
}

// TestMeta is the metadata record of one test method. Only the case runner
// mutates Status and Cause.
type TestMeta struct {
	Case         string
	Name         string
	Depends      []string
	DataProvider string
	Groups       []string
	Expect       *ExpectedError
	Status       types.TestStatus
	// Cause names the method whose outcome prevented this one from running.
	Cause string
}

// New builds a record in NEW status from parsed annotations.
func New(caseName, method string, a Annotations) *TestMeta {
	m := &TestMeta{
		Case:    caseName,
		Name:    method,
		Depends: NormalizeDepends(method, a.Depends),
		Groups:  dedupe(a.Groups),
		Status:  types.TestStatusNew,
	}
	if a.DataProvider != "" && a.DataProvider != method {
		m.DataProvider = a.DataProvider
	}
	if a.ExpectedException != "" {
		m.Expect = &ExpectedError{
			Type:    a.ExpectedException,
			Message: a.ExpectedMessage,
			Code:    a.ExpectedCode,
		}
	}
	return m
}

// Key returns the unique identity of the method within a run.
func (m *TestMeta) Key() string {
	return m.Case + "::" + m.Name
}

// NormalizeDepends trims, deduplicates and removes self references.
func NormalizeDepends(self string, depends []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, d := range depends {
		for _, name := range splitList(d) {
			if name == self || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func dedupe(values []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// IsTest reports whether a method is a test, either by the Test name prefix
// or by an explicit @test annotation.
func IsTest(name string, a Annotations) bool {
	return a.Test || (strings.HasPrefix(name, "Test") && len(name) > len("Test"))
}

// HookKind returns the lifecycle hook a non-test method registers as.
func HookKind(name string, a Annotations) Hook {
	switch {
	case a.BeforeClass || name == HookNameBeforeClass:
		return HookBeforeClass
	case a.AfterClass || name == HookNameAfterClass:
		return HookAfterClass
	case a.Before || name == HookNameBefore:
		return HookBefore
	case a.After || name == HookNameAfter:
		return HookAfter
	}
	return HookNone
}
