// Package filter provides the class- and method-level predicates that decide
// which cases and test methods take part in a run.
package filter

import (
	"fmt"
	"regexp"
)

// CaseFilter decides whether a loaded case runs at all.
type CaseFilter interface {
	AcceptCase(name string) bool
}

// MethodFilter decides whether a test method of a case is a candidate.
type MethodFilter interface {
	AcceptMethod(caseName, method string, groups []string) bool
}

// Config is the serializable filter configuration. Patterns are regular
// expressions; case patterns match the case name, method patterns match
// "Case::Method".
type Config struct {
	Cases         []string `yaml:"cases" json:"cases,omitempty"`
	Methods       []string `yaml:"methods" json:"methods,omitempty"`
	Groups        []string `yaml:"groups" json:"groups,omitempty"`
	ExcludeGroups []string `yaml:"exclude_groups" json:"excludeGroups,omitempty"`
}

// Filter implements CaseFilter and MethodFilter from a Config.
type Filter struct {
	cases         []*regexp.Regexp
	methods       []*regexp.Regexp
	groups        map[string]bool
	excludeGroups map[string]bool
}

var (
	_ CaseFilter   = (*Filter)(nil)
	_ MethodFilter = (*Filter)(nil)
)

// New compiles cfg. An empty config accepts everything.
func New(cfg Config) (*Filter, error) {
	cases, err := compileAll(cfg.Cases)
	if err != nil {
		return nil, fmt.Errorf("invalid case pattern: %w", err)
	}
	methods, err := compileAll(cfg.Methods)
	if err != nil {
		return nil, fmt.Errorf("invalid method pattern: %w", err)
	}
	return &Filter{
		cases:         cases,
		methods:       methods,
		groups:        toSet(cfg.Groups),
		excludeGroups: toSet(cfg.ExcludeGroups),
	}, nil
}

// AcceptCase implements CaseFilter.
func (f *Filter) AcceptCase(name string) bool {
	return matchAny(f.cases, name)
}

// AcceptMethod implements MethodFilter. Excluded groups win over included
// ones; when include groups are configured a method must carry one of them.
func (f *Filter) AcceptMethod(caseName, method string, groups []string) bool {
	if !matchAny(f.methods, caseName+"::"+method) {
		return false
	}
	for _, g := range groups {
		if f.excludeGroups[g] {
			return false
		}
	}
	if len(f.groups) == 0 {
		return true
	}
	for _, g := range groups {
		if f.groups[g] {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// matchAny reports whether s matches any pattern; no patterns match all.
func matchAny(patterns []*regexp.Regexp, s string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
