package meta

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ExpectedError is the expected-exception contract of a test method.
type ExpectedError struct {
	Type    string
	Message string
	Code    *int
}

// coder is implemented by errors carrying a numeric code.
type coder interface {
	Code() int
}

// Match reports whether err satisfies the contract's type. When the type
// matches but the code or message constraint does not hold, violation
// describes the failed constraint.
func (e *ExpectedError) Match(err error) (matched bool, violation error) {
	target := findType(err, e.Type)
	if target == nil {
		return false, nil
	}
	if e.Code != nil {
		var c coder
		if !errors.As(target, &c) {
			return true, fmt.Errorf("expected error %s to have code %d, but it carries no code", e.Type, *e.Code)
		}
		if got := c.Code(); got != *e.Code {
			return true, fmt.Errorf("expected error %s to have code %d, got %d", e.Type, *e.Code, got)
		}
	}
	if e.Message != "" && !strings.Contains(target.Error(), e.Message) {
		return true, fmt.Errorf("expected error %s message %q to contain %q", e.Type, target.Error(), e.Message)
	}
	return true, nil
}

// NotRaised returns the failure reported when no error occurred.
func (e *ExpectedError) NotRaised() error {
	return fmt.Errorf("expected error of type %s was not raised", e.Type)
}

// TypeName renders the dynamic type of err as pkg.Name, pointers stripped.
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// findType walks the error tree depth first and returns the first error whose
// type matches name. A name without a package qualifier matches any package.
func findType(err error, name string) error {
	if err == nil {
		return nil
	}
	name = strings.TrimPrefix(name, "*")
	if typeMatches(TypeName(err), name) {
		return err
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return findType(u.Unwrap(), name)
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if found := findType(inner, name); found != nil {
				return found
			}
		}
	}
	return nil
}

func typeMatches(actual, want string) bool {
	if actual == want {
		return true
	}
	if !strings.Contains(want, ".") {
		if i := strings.LastIndex(actual, "."); i >= 0 {
			return actual[i+1:] == want
		}
	}
	return false
}

// TypeNames returns the type names of every error in the tree of err, outer
// first. Used to look up per-type policy associations.
func TypeNames(err error) []string {
	var names []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		names = append(names, TypeName(e))
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return names
}
